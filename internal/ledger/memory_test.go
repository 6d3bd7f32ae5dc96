package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func mustAccount(t *testing.T, s *InMemory, email string) Account {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), NewAccount{
		Email:        email,
		Name:         "Test User",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acc
}

func TestCreateAccountProvisionsTrialAndOrganization(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "alice@example.com")

	if acc.Credits != TrialCredits {
		t.Fatalf("expected %d trial credits, got %d", TrialCredits, acc.Credits)
	}
	if acc.Plan != PlanFree {
		t.Fatalf("expected FREE plan, got %s", acc.Plan)
	}
	if acc.OrganizationID == "" {
		t.Fatal("expected organization bound at registration")
	}
	org, err := s.Organization(context.Background(), acc.OrganizationID)
	if err != nil {
		t.Fatalf("load organization: %v", err)
	}
	if org.Name != "Test User's Org" {
		t.Fatalf("unexpected org name: %s", org.Name)
	}
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	s := NewInMemory()
	mustAccount(t, s, "dup@example.com")
	_, err := s.CreateAccount(context.Background(), NewAccount{Email: "dup@example.com", PasswordHash: "x"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestDeductCredits(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "deduct@example.com")
	ctx := context.Background()

	bal, err := s.DeductCredits(ctx, acc.ID, 1)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if bal != TrialCredits-1 {
		t.Fatalf("unexpected balance: %d", bal)
	}

	if _, err := s.DeductCredits(ctx, acc.ID, 100); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if _, err := s.DeductCredits(ctx, "missing", 1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := s.DeductCredits(ctx, acc.ID, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	// Failed deductions must not have touched the balance.
	b, _ := s.Balance(ctx, acc.ID)
	if b.Credits != TrialCredits-1 {
		t.Fatalf("balance changed on failure path: %d", b.Credits)
	}
}

func TestConcurrentDeductionsNeverGoNegative(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "race@example.com")
	ctx := context.Background()

	// TrialCredits = 3; launch many more deductions than the balance allows.
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.DeductCredits(ctx, acc.ID, 1); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != TrialCredits {
		t.Fatalf("expected exactly %d successful deductions, got %d", TrialCredits, successes)
	}
	b, _ := s.Balance(ctx, acc.ID)
	if b.Credits != 0 {
		t.Fatalf("expected zero balance, got %d", b.Credits)
	}
}

func TestResolveOrganizationSelfHeals(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "heal@example.com")
	ctx := context.Background()

	// Simulate a legacy row with no organization bound.
	s.mu.Lock()
	s.accounts[acc.ID].OrganizationID = ""
	s.mu.Unlock()

	var wg sync.WaitGroup
	orgIDs := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			org, err := s.ResolveOrganization(ctx, acc.ID)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			orgIDs[i] = org.ID
		}(i)
	}
	wg.Wait()

	for _, id := range orgIDs[1:] {
		if id != orgIDs[0] {
			t.Fatalf("concurrent resolution bound two organizations: %s vs %s", orgIDs[0], id)
		}
	}
	got, _ := s.Account(ctx, acc.ID)
	if got.OrganizationID != orgIDs[0] {
		t.Fatalf("account bound to unexpected organization: %s", got.OrganizationID)
	}
}

func TestApplyCheckoutIsAtomicPerEvent(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "checkout@example.com")
	ctx := context.Background()

	app := CheckoutApplication{
		EventID:        "evt_1",
		OrganizationID: acc.OrganizationID,
		AccountID:      acc.ID,
		CustomerRef:    "cus_123",
		Amount:         2900,
		Currency:       "usd",
		SessionRef:     "cs_1",
		RecordType:     BillingTypeSubscription,
		Credits:        100,
		UpgradeToPro:   true,
	}
	if err := s.ApplyCheckout(ctx, app); err != nil {
		t.Fatalf("apply checkout: %v", err)
	}
	if err := s.ApplyCheckout(ctx, app); !errors.Is(err, ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}

	b, _ := s.Balance(ctx, acc.ID)
	if b.Credits != TrialCredits+100 {
		t.Fatalf("expected single grant, got balance %d", b.Credits)
	}
	if b.Plan != PlanPro {
		t.Fatalf("expected PRO plan, got %s", b.Plan)
	}
	org, _ := s.Organization(ctx, acc.OrganizationID)
	if org.CustomerRef != "cus_123" {
		t.Fatalf("customer ref not attached: %q", org.CustomerRef)
	}
	recs, _ := s.BillingRecords(ctx, acc.OrganizationID)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one billing record, got %d", len(recs))
	}
}

func TestApplyRenewalWithoutMembersUsesSystemBeneficiary(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "renewal@example.com")
	ctx := context.Background()

	if err := s.ApplyRenewal(ctx, RenewalApplication{
		EventID:        "evt_renew",
		OrganizationID: acc.OrganizationID,
		AccountID:      "",
		Amount:         2900,
		Currency:       "usd",
		SessionRef:     "sub_1",
		Credits:        100,
	}); err != nil {
		t.Fatalf("apply renewal: %v", err)
	}

	recs, _ := s.BillingRecords(ctx, acc.OrganizationID)
	if len(recs) != 1 || recs[0].AccountID != SystemBeneficiary {
		t.Fatalf("expected SYSTEM beneficiary record, got %+v", recs)
	}
	b, _ := s.Balance(ctx, acc.ID)
	if b.Credits != TrialCredits {
		t.Fatalf("no credits should be granted without a beneficiary, got %d", b.Credits)
	}
}

func TestCountGenerationsSince(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "count@example.com")
	ctx := context.Background()

	dayStart := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	for i, createdAt := range []time.Time{
		dayStart.Add(-time.Hour),     // yesterday
		dayStart.Add(2 * time.Hour),  // today
		dayStart.Add(20 * time.Hour), // today
	} {
		_, err := s.CreateGeneration(ctx, GenerationRecord{
			AccountID:      acc.ID,
			OrganizationID: acc.OrganizationID,
			Prompt:         "p",
			Result:         "r",
			Model:          "gpt-4o-mini",
			TokensUsed:     int64(i),
			CreatedAt:      createdAt,
		})
		if err != nil {
			t.Fatalf("create generation: %v", err)
		}
	}

	count, err := s.CountGenerationsSince(ctx, acc.ID, dayStart)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 generations today, got %d", count)
	}
}

func TestConsumeResetToken(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "reset@example.com")
	ctx := context.Background()

	tok := PasswordResetToken{Email: acc.Email, Token: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.UpsertResetToken(ctx, tok); err != nil {
		t.Fatalf("upsert token: %v", err)
	}
	if err := s.ConsumeResetToken(ctx, "tok-1", acc.Email, "new-hash"); err != nil {
		t.Fatalf("consume token: %v", err)
	}

	got, _ := s.Account(ctx, acc.ID)
	if got.PasswordHash != "new-hash" {
		t.Fatalf("password not updated: %q", got.PasswordHash)
	}
	if _, err := s.ResetToken(ctx, "tok-1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("token should be deleted, got %v", err)
	}
}

func TestUpsertResetTokenSupersedesOlder(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "supersede@example.com")
	ctx := context.Background()

	_ = s.UpsertResetToken(ctx, PasswordResetToken{Email: acc.Email, Token: "old", ExpiresAt: time.Now().Add(time.Hour)})
	_ = s.UpsertResetToken(ctx, PasswordResetToken{Email: acc.Email, Token: "new", ExpiresAt: time.Now().Add(time.Hour)})

	if _, err := s.ResetToken(ctx, "old"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("old token should be superseded, got %v", err)
	}
	if _, err := s.ResetToken(ctx, "new"); err != nil {
		t.Fatalf("new token should exist: %v", err)
	}
}
