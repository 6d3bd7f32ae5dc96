package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/HassanGilani11/namegenai/internal/ledger"
	"github.com/HassanGilani11/namegenai/internal/obs"
)

var (
	ErrDailyLimitReached = errors.New("daily generation limit reached")
	ErrEmptyPrompt       = errors.New("prompt is required")
)

// CreditsPerGeneration is the price of one generation call.
const CreditsPerGeneration = 1

// Service runs the generation pipeline: usage cap, credit deduction, provider
// call, record. The credit is deducted before the provider is called and is
// not refunded when the provider fails.
type Service struct {
	store        ledger.Store
	provider     TextProvider
	defaultModel string
}

func NewService(store ledger.Store, provider TextProvider, defaultModel string) *Service {
	return &Service{store: store, provider: provider, defaultModel: defaultModel}
}

// Usage is the account's generation consumption for the current UTC day.
type Usage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// utcMidnight truncates to the start of the current UTC day. Daily caps reset
// on this boundary for every account regardless of client timezone.
func utcMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyUsage derives usage by counting generation records since UTC midnight.
// There is no separate counter to drift out of sync.
func (s *Service) DailyUsage(ctx context.Context, accountID string) (Usage, error) {
	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return Usage{}, err
	}
	used, err := s.store.CountGenerationsSince(ctx, accountID, utcMidnight(time.Now()))
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: used, Limit: ledger.DailyLimit(acc.Plan)}, nil
}

// Generate runs one generation for the account. Order matters: the daily cap
// is checked before any credit is deducted, so a capped account keeps its
// balance intact.
func (s *Service) Generate(ctx context.Context, accountID, prompt, model string) (ledger.GenerationRecord, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ledger.GenerationRecord{}, ErrEmptyPrompt
	}
	if model == "" {
		model = s.defaultModel
	}

	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return ledger.GenerationRecord{}, err
	}
	org, err := s.store.ResolveOrganization(ctx, accountID)
	if err != nil {
		return ledger.GenerationRecord{}, err
	}

	used, err := s.store.CountGenerationsSince(ctx, accountID, utcMidnight(time.Now()))
	if err != nil {
		return ledger.GenerationRecord{}, err
	}
	if used >= ledger.DailyLimit(acc.Plan) {
		obs.CountGeneration(model, "limit")
		return ledger.GenerationRecord{}, ErrDailyLimitReached
	}

	if _, err := s.store.DeductCredits(ctx, accountID, CreditsPerGeneration); err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			obs.CountGeneration(model, "no_credits")
		}
		return ledger.GenerationRecord{}, err
	}
	obs.CountDeduction(CreditsPerGeneration)

	res, err := s.provider.Generate(ctx, model, prompt)
	if err != nil {
		// The deducted credit stays spent. Refunding here would let a flaky
		// provider turn into free retries against the daily cap.
		obs.CountGeneration(model, "provider_error")
		obs.LogRequest(map[string]any{
			"level": "error", "msg": "generation_failed",
			"account_id": accountID, "model": model, "error": err.Error(),
		})
		return ledger.GenerationRecord{}, err
	}

	rec, err := s.store.CreateGeneration(ctx, ledger.GenerationRecord{
		AccountID:      accountID,
		OrganizationID: org.ID,
		Prompt:         prompt,
		Result:         res.Text,
		Model:          model,
		TokensUsed:     res.TokensUsed,
	})
	if err != nil {
		return ledger.GenerationRecord{}, err
	}

	obs.CountGeneration(model, "ok")
	return rec, nil
}

// History returns the account's most recent generations.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]ledger.GenerationRecord, error) {
	return s.store.Generations(ctx, accountID, limit)
}
