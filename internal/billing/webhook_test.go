package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/HassanGilani11/namegenai/internal/ledger"
)

func makeEvent(t *testing.T, id, typ string, object any) Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	ev := Event{ID: id, Type: typ}
	ev.Data.Object = raw
	return ev
}

func newAccount(t *testing.T, s *ledger.InMemory, email string) ledger.Account {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), ledger.NewAccount{
		Email:        email,
		Name:         "Webhook User",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acc
}

func TestProcessCheckoutCompletedIsIdempotent(t *testing.T) {
	store := ledger.NewInMemory()
	acc := newAccount(t, store, "idem@example.com")
	p := NewProcessor(store)
	ctx := context.Background()

	ev := makeEvent(t, "evt_1", "checkout.session.completed", CheckoutSession{
		ID:          "cs_1",
		Customer:    "cus_1",
		AmountTotal: 2900,
		Currency:    "usd",
		Metadata: SessionMetadata{
			UserID:         acc.ID,
			OrganizationID: acc.OrganizationID,
			Type:           PurchaseSubscription,
		},
	})

	for i := 0; i < 5; i++ {
		outcome, err := p.Process(ctx, ev)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		want := OutcomeApplied
		if i > 0 {
			want = OutcomeDuplicate
		}
		if outcome != want {
			t.Fatalf("delivery %d: expected %s, got %s", i, want, outcome)
		}
	}

	b, _ := store.Balance(ctx, acc.ID)
	if b.Credits != ledger.TrialCredits+SubscriptionGrant {
		t.Fatalf("expected one grant across five deliveries, balance %d", b.Credits)
	}
	if b.Plan != ledger.PlanPro {
		t.Fatalf("subscription checkout must upgrade to PRO, got %s", b.Plan)
	}
	org, _ := store.Organization(ctx, acc.OrganizationID)
	if org.CustomerRef != "cus_1" {
		t.Fatalf("customer ref not attached: %q", org.CustomerRef)
	}
	recs, _ := store.BillingRecords(ctx, acc.OrganizationID)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one billing record, got %d", len(recs))
	}
	if recs[0].Type != ledger.BillingTypeSubscription {
		t.Fatalf("unexpected record type: %s", recs[0].Type)
	}
}

func TestProcessCheckoutCreditsTopUp(t *testing.T) {
	store := ledger.NewInMemory()
	acc := newAccount(t, store, "topup@example.com")
	p := NewProcessor(store)
	ctx := context.Background()

	ev := makeEvent(t, "evt_topup", "checkout.session.completed", CheckoutSession{
		ID:          "cs_2",
		Customer:    "cus_2",
		AmountTotal: 1000,
		Currency:    "usd",
		Metadata: SessionMetadata{
			UserID:         acc.ID,
			OrganizationID: acc.OrganizationID,
			Type:           PurchaseCredits,
		},
	})
	if outcome, err := p.Process(ctx, ev); err != nil || outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s / %v", outcome, err)
	}

	b, _ := store.Balance(ctx, acc.ID)
	if b.Credits != ledger.TrialCredits+CreditsTopUpGrant {
		t.Fatalf("unexpected balance: %d", b.Credits)
	}
	if b.Plan != ledger.PlanFree {
		t.Fatalf("top-up must not change plan, got %s", b.Plan)
	}
}

func TestProcessCheckoutMissingMetadataSkipsWithoutMarking(t *testing.T) {
	store := ledger.NewInMemory()
	acc := newAccount(t, store, "meta@example.com")
	p := NewProcessor(store)
	ctx := context.Background()

	ev := makeEvent(t, "evt_meta", "checkout.session.completed", CheckoutSession{
		ID:          "cs_3",
		AmountTotal: 1000,
		Metadata:    SessionMetadata{UserID: acc.ID}, // organizationId missing
	})
	outcome, err := p.Process(ctx, ev)
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s / %v", outcome, err)
	}

	// The event stays unprocessed so a corrected redelivery can apply.
	processed, _ := store.EventProcessed(ctx, "evt_meta")
	if processed {
		t.Fatal("skipped event must not be marked processed")
	}
	b, _ := store.Balance(ctx, acc.ID)
	if b.Credits != ledger.TrialCredits {
		t.Fatalf("skipped event must not grant credits, balance %d", b.Credits)
	}
}

func TestProcessRenewalGrantsToFirstMember(t *testing.T) {
	store := ledger.NewInMemory()
	acc := newAccount(t, store, "renew@example.com")
	p := NewProcessor(store)
	ctx := context.Background()

	// Attach a customer ref via a completed checkout first.
	checkout := makeEvent(t, "evt_c", "checkout.session.completed", CheckoutSession{
		ID: "cs_4", Customer: "cus_renew", AmountTotal: 2900, Currency: "usd",
		Metadata: SessionMetadata{UserID: acc.ID, OrganizationID: acc.OrganizationID, Type: PurchaseSubscription},
	})
	if _, err := p.Process(ctx, checkout); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	renewal := makeEvent(t, "evt_r", "invoice.payment_succeeded", Invoice{
		ID: "in_1", Customer: "cus_renew", AmountPaid: 2900, Currency: "usd", Subscription: "sub_1",
	})
	if outcome, err := p.Process(ctx, renewal); err != nil || outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s / %v", outcome, err)
	}

	b, _ := store.Balance(ctx, acc.ID)
	if b.Credits != ledger.TrialCredits+SubscriptionGrant+RenewalGrant {
		t.Fatalf("unexpected balance after renewal: %d", b.Credits)
	}
	recs, _ := store.BillingRecords(ctx, acc.OrganizationID)
	if len(recs) != 2 {
		t.Fatalf("expected two billing records, got %d", len(recs))
	}
}

func TestProcessRenewalUnknownCustomerSkips(t *testing.T) {
	store := ledger.NewInMemory()
	p := NewProcessor(store)

	ev := makeEvent(t, "evt_orphan", "invoice.payment_succeeded", Invoice{
		ID: "in_2", Customer: "cus_ghost", AmountPaid: 2900, Currency: "usd",
	})
	outcome, err := p.Process(context.Background(), ev)
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s / %v", outcome, err)
	}
	processed, _ := store.EventProcessed(context.Background(), "evt_orphan")
	if processed {
		t.Fatal("orphan renewal must not be marked processed")
	}
}

func TestProcessUnknownEventTypeIsIgnoredAndMarked(t *testing.T) {
	store := ledger.NewInMemory()
	p := NewProcessor(store)
	ctx := context.Background()

	ev := makeEvent(t, "evt_u", "customer.created", map[string]string{"id": "cus_9"})
	outcome, err := p.Process(ctx, ev)
	if err != nil || outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s / %v", outcome, err)
	}

	// Redelivery short-circuits on the event log.
	outcome, err = p.Process(ctx, ev)
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s / %v", outcome, err)
	}
}
