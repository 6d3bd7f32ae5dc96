package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plan controls the daily generation cap and the monthly credit grant.
type Plan string

const (
	PlanFree Plan = "FREE"
	PlanPro  Plan = "PRO"
)

// Role is the account role inside its organization.
type Role string

const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
)

// Billing record types. UNKNOWN is recorded when a checkout carries an
// unrecognized purchase type so the audit trail stays complete.
const (
	BillingTypeCredits      = "CREDITS"
	BillingTypeSubscription = "SUBSCRIPTION"
	BillingTypeRenewal      = "SUBSCRIPTION_RENEWAL"
	BillingTypeUnknown      = "UNKNOWN"
)

// SystemBeneficiary marks billing records for organizations without members.
const SystemBeneficiary = "SYSTEM"

// Account is a registered user. Credits live on the account and are mutated
// only through DeductCredits and the webhook application methods.
type Account struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	PasswordHash   string    `json:"-"`
	Role           Role      `json:"role"`
	Plan           Plan      `json:"plan"`
	Credits        int64     `json:"credits"`
	OrganizationID string    `json:"organization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewAccount is the registration input.
type NewAccount struct {
	Email        string
	Name         string
	PasswordHash string
}

// Organization is the billing-scope container. Effectively 1:1 with an
// account today, modeled separately for future multi-seat support.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	CustomerRef string    `json:"customer_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Balance is the readable view of an account's credit state.
type Balance struct {
	Credits int64 `json:"credits"`
	Plan    Plan  `json:"plan"`
}

// GenerationRecord is the append-only generation log. Daily usage is derived
// by counting these rows, never from a separate counter.
type GenerationRecord struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	OrganizationID string    `json:"organization_id"`
	Prompt         string    `json:"prompt"`
	Result         string    `json:"result"`
	Model          string    `json:"model"`
	TokensUsed     int64     `json:"tokens_used"`
	CreatedAt      time.Time `json:"created_at"`
}

// BillingRecord is one row of the append-only payment audit trail.
type BillingRecord struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	AccountID      string    `json:"account_id"`
	Amount         int64     `json:"amount"` // minor units
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	Type           string    `json:"type"`
	SessionRef     string    `json:"session_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// WebhookEvent is the dedup log for payment provider deliveries. Existence
// with Processed=true is the at-most-once guard.
type WebhookEvent struct {
	ID        string    `json:"id"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}

// PasswordResetToken is consumed on successful reset or superseded by a
// newer upsert for the same email.
type PasswordResetToken struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrOrganizationNotFound  = errors.New("organization not found")
	ErrEmailTaken            = errors.New("email already registered")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrInvalidAmount         = errors.New("invalid amount (must be > 0)")
	ErrEventAlreadyProcessed = errors.New("webhook event already processed")
	ErrTokenNotFound         = errors.New("reset token not found")
)

// DailyLimit returns the per-day generation cap for a plan.
func DailyLimit(plan Plan) int {
	if plan == PlanFree {
		return 3
	}
	return 20
}

// TrialCredits are provisioned on registration.
const TrialCredits = 3

// OrgNameFor derives the default organization name from the account.
func OrgNameFor(displayName, email string) string {
	base := strings.TrimSpace(displayName)
	if base == "" {
		base = emailLocalPart(email)
	}
	return base + "'s Org"
}

// OrgSlugFor derives a globally unique slug from the email local part plus a
// short random suffix.
func OrgSlugFor(email string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	return strings.ToLower(emailLocalPart(email)) + "-" + suffix
}

func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
