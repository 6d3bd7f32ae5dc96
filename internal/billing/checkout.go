package billing

import (
	"context"
	"errors"

	"github.com/HassanGilani11/namegenai/internal/ledger"
)

// Purchase types accepted by the checkout endpoint. They travel through the
// session metadata and drive the credit schedule on the completion event.
const (
	PurchaseCredits      = "credits"
	PurchaseSubscription = "subscription"
)

// Credit schedule. Grants happen only when the payment provider confirms.
const (
	CreditsTopUpGrant = 20
	SubscriptionGrant = 100
	RenewalGrant      = 100
)

var ErrUnknownPurchaseType = errors.New("unknown purchase type")

// Price is one fixed catalog entry. Amounts are in minor units.
type Price struct {
	Name        string
	Description string
	Currency    string
	UnitAmount  int64
	Recurring   bool
}

var priceTable = map[string]Price{
	PurchaseCredits: {
		Name:        "20 AI Credits",
		Description: "Add 20 credits to your account",
		Currency:    "usd",
		UnitAmount:  1000, // $10.00 one-time
	},
	PurchaseSubscription: {
		Name:        "Pro Plan",
		Description: "Unlimited daily generations (up to 20/day) & 100 monthly base credits",
		Currency:    "usd",
		UnitAmount:  2900, // $29.00 monthly
		Recurring:   true,
	},
}

// PriceFor returns the catalog entry for a purchase type.
func PriceFor(purchaseType string) (Price, bool) {
	p, ok := priceTable[purchaseType]
	return p, ok
}

// SessionStarter is the checkout-side slice of the Stripe client.
type SessionStarter interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CreatedSession, error)
}

// CheckoutFactory builds hosted checkout sessions for authenticated accounts.
// It resolves the organization first so the completion event always carries a
// valid organizationId in its metadata.
type CheckoutFactory struct {
	store  ledger.Store
	stripe SessionStarter
	appURL string
}

func NewCheckoutFactory(store ledger.Store, stripe SessionStarter, appURL string) *CheckoutFactory {
	return &CheckoutFactory{store: store, stripe: stripe, appURL: appURL}
}

// Start creates a checkout session and returns the hosted payment page URL.
func (f *CheckoutFactory) Start(ctx context.Context, accountID, purchaseType string) (string, error) {
	price, ok := PriceFor(purchaseType)
	if !ok {
		return "", ErrUnknownPurchaseType
	}

	org, err := f.store.ResolveOrganization(ctx, accountID)
	if err != nil {
		return "", err
	}

	mode := "payment"
	if price.Recurring {
		mode = "subscription"
	}
	session, err := f.stripe.CreateCheckoutSession(ctx, CheckoutParams{
		Mode:       mode,
		SuccessURL: f.appURL + "/dashboard?status=success",
		CancelURL:  f.appURL + "/dashboard/billing?status=cancel",
		Price:      price,
		Metadata: SessionMetadata{
			UserID:         accountID,
			OrganizationID: org.ID,
			Type:           purchaseType,
		},
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}
