package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/HassanGilani11/namegenai/internal/ledger"
)

type fakeStarter struct {
	lastParams CheckoutParams
	session    CreatedSession
	err        error
}

func (f *fakeStarter) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CreatedSession, error) {
	f.lastParams = params
	return f.session, f.err
}

func TestCheckoutFactoryStartSubscription(t *testing.T) {
	store := ledger.NewInMemory()
	acc := newAccount(t, store, "factory@example.com")

	starter := &fakeStarter{session: CreatedSession{ID: "cs_1", URL: "https://pay.example/cs_1"}}
	factory := NewCheckoutFactory(store, starter, "https://app.example")

	url, err := factory.Start(context.Background(), acc.ID, PurchaseSubscription)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if url != "https://pay.example/cs_1" {
		t.Fatalf("unexpected url: %s", url)
	}

	p := starter.lastParams
	if p.Mode != "subscription" {
		t.Fatalf("expected subscription mode, got %s", p.Mode)
	}
	if p.Price.UnitAmount != 2900 || !p.Price.Recurring {
		t.Fatalf("unexpected price: %+v", p.Price)
	}
	if p.Metadata.UserID != acc.ID || p.Metadata.OrganizationID != acc.OrganizationID {
		t.Fatalf("metadata must link back to the account: %+v", p.Metadata)
	}
	if p.Metadata.Type != PurchaseSubscription {
		t.Fatalf("metadata type must round-trip: %s", p.Metadata.Type)
	}
	if p.SuccessURL != "https://app.example/dashboard?status=success" {
		t.Fatalf("unexpected success url: %s", p.SuccessURL)
	}
}

func TestCheckoutFactoryStartCreditsTopUp(t *testing.T) {
	store := ledger.NewInMemory()
	acc := newAccount(t, store, "topup-factory@example.com")

	starter := &fakeStarter{session: CreatedSession{URL: "https://pay.example/cs_2"}}
	factory := NewCheckoutFactory(store, starter, "https://app.example")

	if _, err := factory.Start(context.Background(), acc.ID, PurchaseCredits); err != nil {
		t.Fatalf("start: %v", err)
	}
	p := starter.lastParams
	if p.Mode != "payment" {
		t.Fatalf("expected one-time payment mode, got %s", p.Mode)
	}
	if p.Price.UnitAmount != 1000 || p.Price.Recurring {
		t.Fatalf("unexpected price: %+v", p.Price)
	}
}

func TestCheckoutFactoryRejectsUnknownType(t *testing.T) {
	store := ledger.NewInMemory()
	acc := newAccount(t, store, "unknown@example.com")
	factory := NewCheckoutFactory(store, &fakeStarter{}, "https://app.example")

	if _, err := factory.Start(context.Background(), acc.ID, "lifetime"); !errors.Is(err, ErrUnknownPurchaseType) {
		t.Fatalf("expected ErrUnknownPurchaseType, got %v", err)
	}
}

func TestCheckoutFactoryBindsOrganizationFirst(t *testing.T) {
	store := ledger.NewInMemory()
	acc := newAccount(t, store, "bind@example.com")

	starter := &fakeStarter{session: CreatedSession{URL: "u"}}
	factory := NewCheckoutFactory(store, starter, "https://app.example")

	if _, err := factory.Start(context.Background(), acc.ID, PurchaseCredits); err != nil {
		t.Fatalf("start: %v", err)
	}
	if starter.lastParams.Metadata.OrganizationID == "" {
		t.Fatal("checkout must never start without an organization bound")
	}
}
