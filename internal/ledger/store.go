package ledger

import (
	"context"
	"time"
)

// Store defines the durable ledger operations. Two implementations exist:
// InMemory for tests and DSN-less development, and pg.Store for production.
//
// Every mutating method is a single atomic unit: a failed call leaves no
// partial state, and concurrent callers serialize on the affected rows.
type Store interface {
	// Accounts and organizations.
	CreateAccount(ctx context.Context, in NewAccount) (Account, error)
	Account(ctx context.Context, id string) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	UpdateName(ctx context.Context, accountID, name string) (Account, error)
	SetPasswordHash(ctx context.Context, accountID, hash string) error

	// ResolveOrganization returns the account's organization, creating and
	// binding one when the account has none. Under concurrent calls for the
	// same account exactly one organization is ever bound.
	ResolveOrganization(ctx context.Context, accountID string) (Organization, error)
	Organization(ctx context.Context, id string) (Organization, error)
	OrganizationByCustomerRef(ctx context.Context, ref string) (Organization, error)
	FirstMember(ctx context.Context, organizationID string) (Account, error)

	// Credits.
	Balance(ctx context.Context, accountID string) (Balance, error)
	// DeductCredits debits the account inside one transaction. It fails with
	// ErrInsufficientCredits (no write) when the balance would go negative.
	DeductCredits(ctx context.Context, accountID string, amount int64) (int64, error)

	// Webhook bookkeeping. ApplyCheckout and ApplyRenewal perform the event
	// log upsert and all economic effects in one transaction; they fail with
	// ErrEventAlreadyProcessed when the event id was already handled.
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
	ApplyCheckout(ctx context.Context, app CheckoutApplication) error
	ApplyRenewal(ctx context.Context, app RenewalApplication) error
	BillingRecords(ctx context.Context, organizationID string) ([]BillingRecord, error)

	// Generations.
	CreateGeneration(ctx context.Context, rec GenerationRecord) (GenerationRecord, error)
	CountGenerationsSince(ctx context.Context, accountID string, since time.Time) (int, error)
	Generations(ctx context.Context, accountID string, limit int) ([]GenerationRecord, error)

	// Password reset tokens.
	UpsertResetToken(ctx context.Context, tok PasswordResetToken) error
	ResetToken(ctx context.Context, token string) (PasswordResetToken, error)
	// ConsumeResetToken updates the account password and deletes the token
	// in one transaction.
	ConsumeResetToken(ctx context.Context, token, email, newHash string) error
}

// CheckoutApplication carries the effects of a completed checkout event.
type CheckoutApplication struct {
	EventID        string
	OrganizationID string
	AccountID      string
	CustomerRef    string
	Amount         int64
	Currency       string
	SessionRef     string
	RecordType     string
	Credits        int64
	UpgradeToPro   bool
}

// RenewalApplication carries the effects of a subscription renewal event.
// AccountID is empty when the organization has no members; the billing
// record then uses the SYSTEM beneficiary and no credits are granted.
type RenewalApplication struct {
	EventID        string
	OrganizationID string
	AccountID      string
	Amount         int64
	Currency       string
	SessionRef     string
	Credits        int64
}
