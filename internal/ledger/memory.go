package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HassanGilani11/namegenai/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It backs the
// HTTP tests and DSN-less development mode; production uses the pg store.
type InMemory struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	orgs     map[string]*Organization
	events   map[string]*WebhookEvent
	billing  []BillingRecord
	gens     []GenerationRecord
	resets   map[string]*PasswordResetToken // token -> record
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory ledger store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		orgs:     make(map[string]*Organization),
		events:   make(map[string]*WebhookEvent),
		resets:   make(map[string]*PasswordResetToken),
	}
}

func (s *InMemory) CreateAccount(ctx context.Context, in NewAccount) (Account, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return Account{}, ErrEmailTaken
	}

	now := time.Now().UTC()
	org := &Organization{
		ID:        ids.New(),
		Name:      OrgNameFor(in.Name, email),
		Slug:      OrgSlugFor(email),
		CreatedAt: now,
	}
	acc := &Account{
		ID:             ids.New(),
		Email:          email,
		Name:           in.Name,
		PasswordHash:   in.PasswordHash,
		Role:           RoleMember,
		Plan:           PlanFree,
		Credits:        TrialCredits,
		OrganizationID: org.ID,
		CreatedAt:      now,
	}
	s.orgs[org.ID] = org
	s.accounts[acc.ID] = acc
	s.byEmail[email] = acc.ID
	return *acc, nil
}

func (s *InMemory) Account(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *acc, nil
}

func (s *InMemory) AccountByEmail(ctx context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *s.accounts[id], nil
}

func (s *InMemory) UpdateName(ctx context.Context, accountID, name string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	acc.Name = name
	return *acc, nil
}

func (s *InMemory) SetPasswordHash(ctx context.Context, accountID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acc.PasswordHash = hash
	return nil
}

func (s *InMemory) ResolveOrganization(ctx context.Context, accountID string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return Organization{}, ErrAccountNotFound
	}
	if acc.OrganizationID != "" {
		if org, ok := s.orgs[acc.OrganizationID]; ok {
			return *org, nil
		}
	}
	// Self-heal: bind a fresh organization while holding the lock so two
	// concurrent billable requests cannot both create one.
	org := &Organization{
		ID:        ids.New(),
		Name:      OrgNameFor(acc.Name, acc.Email),
		Slug:      OrgSlugFor(acc.Email),
		CreatedAt: time.Now().UTC(),
	}
	s.orgs[org.ID] = org
	acc.OrganizationID = org.ID
	return *org, nil
}

func (s *InMemory) Organization(ctx context.Context, id string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organization{}, ErrOrganizationNotFound
	}
	return *org, nil
}

func (s *InMemory) OrganizationByCustomerRef(ctx context.Context, ref string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, org := range s.orgs {
		if org.CustomerRef != "" && org.CustomerRef == ref {
			return *org, nil
		}
	}
	return Organization{}, ErrOrganizationNotFound
}

func (s *InMemory) FirstMember(ctx context.Context, organizationID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstMemberLocked(organizationID)
}

func (s *InMemory) firstMemberLocked(organizationID string) (Account, error) {
	var oldest *Account
	for _, acc := range s.accounts {
		if acc.OrganizationID != organizationID {
			continue
		}
		if oldest == nil || acc.ID < oldest.ID {
			oldest = acc
		}
	}
	if oldest == nil {
		return Account{}, ErrAccountNotFound
	}
	return *oldest, nil
}

func (s *InMemory) Balance(ctx context.Context, accountID string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return Balance{}, ErrAccountNotFound
	}
	return Balance{Credits: acc.Credits, Plan: acc.Plan}, nil
}

func (s *InMemory) DeductCredits(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if acc.Credits < amount {
		return 0, ErrInsufficientCredits
	}
	acc.Credits -= amount
	return acc.Credits, nil
}

func (s *InMemory) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	return ok && ev.Processed, nil
}

func (s *InMemory) MarkEventProcessed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertEventLocked(eventID)
}

func (s *InMemory) upsertEventLocked(eventID string) error {
	if ev, ok := s.events[eventID]; ok && ev.Processed {
		return ErrEventAlreadyProcessed
	}
	s.events[eventID] = &WebhookEvent{ID: eventID, Processed: true, CreatedAt: time.Now().UTC()}
	return nil
}

func (s *InMemory) ApplyCheckout(ctx context.Context, app CheckoutApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[app.OrganizationID]
	if !ok {
		return ErrOrganizationNotFound
	}
	acc, ok := s.accounts[app.AccountID]
	if !ok {
		return ErrAccountNotFound
	}
	if err := s.upsertEventLocked(app.EventID); err != nil {
		return err
	}

	org.CustomerRef = app.CustomerRef
	s.billing = append(s.billing, BillingRecord{
		ID:             ids.New(),
		OrganizationID: app.OrganizationID,
		AccountID:      app.AccountID,
		Amount:         app.Amount,
		Currency:       app.Currency,
		Status:         "SUCCESS",
		Type:           app.RecordType,
		SessionRef:     app.SessionRef,
		CreatedAt:      time.Now().UTC(),
	})
	acc.Credits += app.Credits
	if app.UpgradeToPro {
		acc.Plan = PlanPro
	}
	return nil
}

func (s *InMemory) ApplyRenewal(ctx context.Context, app RenewalApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[app.OrganizationID]; !ok {
		return ErrOrganizationNotFound
	}
	if err := s.upsertEventLocked(app.EventID); err != nil {
		return err
	}

	beneficiary := app.AccountID
	if beneficiary == "" {
		beneficiary = SystemBeneficiary
	}
	s.billing = append(s.billing, BillingRecord{
		ID:             ids.New(),
		OrganizationID: app.OrganizationID,
		AccountID:      beneficiary,
		Amount:         app.Amount,
		Currency:       app.Currency,
		Status:         "SUCCESS",
		Type:           BillingTypeRenewal,
		SessionRef:     app.SessionRef,
		CreatedAt:      time.Now().UTC(),
	})
	if app.AccountID != "" {
		if acc, ok := s.accounts[app.AccountID]; ok {
			acc.Credits += app.Credits
		}
	}
	return nil
}

func (s *InMemory) BillingRecords(ctx context.Context, organizationID string) ([]BillingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []BillingRecord
	for _, rec := range s.billing {
		if rec.OrganizationID == organizationID {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *InMemory) CreateGeneration(ctx context.Context, rec GenerationRecord) (GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[rec.AccountID]; !ok {
		return GenerationRecord{}, ErrAccountNotFound
	}
	rec.ID = ids.New()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.gens = append(s.gens, rec)
	return rec, nil
}

func (s *InMemory) CountGenerationsSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, g := range s.gens {
		if g.AccountID == accountID && !g.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) Generations(ctx context.Context, accountID string, limit int) ([]GenerationRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []GenerationRecord
	for _, g := range s.gens {
		if g.AccountID == accountID {
			res = append(res, g)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemory) UpsertResetToken(ctx context.Context, tok PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Supersede any earlier token for the same email.
	for t, rec := range s.resets {
		if rec.Email == tok.Email {
			delete(s.resets, t)
		}
	}
	copyTok := tok
	s.resets[tok.Token] = &copyTok
	return nil
}

func (s *InMemory) ResetToken(ctx context.Context, token string) (PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.resets[token]
	if !ok {
		return PasswordResetToken{}, ErrTokenNotFound
	}
	return *rec, nil
}

func (s *InMemory) ConsumeResetToken(ctx context.Context, token, email, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.resets[token]
	if !ok || rec.Email != email {
		return ErrTokenNotFound
	}
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return ErrAccountNotFound
	}
	s.accounts[id].PasswordHash = newHash
	delete(s.resets, token)
	return nil
}
