package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/HassanGilani11/namegenai/internal/ledger"
	"github.com/HassanGilani11/namegenai/internal/obs"
)

// Outcome classifies how one webhook delivery ended.
type Outcome string

const (
	// OutcomeApplied means the event's economic effects were committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means an earlier delivery already handled the event.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSkipped means the event could not be matched to an account or
	// organization. It stays unprocessed so a corrected redelivery can apply.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeIgnored means the event type is not handled; it is logged as
	// processed so redeliveries short-circuit.
	OutcomeIgnored Outcome = "ignored"
)

// Processor applies payment provider events to the ledger. Each event's log
// entry and economic effects commit in one store transaction, so a crash
// mid-event leaves it fully unapplied and safe to redeliver.
type Processor struct {
	store ledger.Store
}

func NewProcessor(store ledger.Store) *Processor {
	return &Processor{store: store}
}

// Process routes one event. A nil error with any outcome means the delivery
// was handled and the provider should receive 200.
func (p *Processor) Process(ctx context.Context, ev Event) (Outcome, error) {
	outcome, err := p.process(ctx, ev)
	if err == nil {
		obs.CountWebhookEvent(ev.Type, string(outcome))
	} else {
		obs.CountWebhookEvent(ev.Type, "error")
	}
	return outcome, err
}

func (p *Processor) process(ctx context.Context, ev Event) (Outcome, error) {
	processed, err := p.store.EventProcessed(ctx, ev.ID)
	if err != nil {
		return "", err
	}
	if processed {
		obs.LogRequest(map[string]any{
			"level": "info", "msg": "webhook_event_duplicate", "event_id": ev.ID, "type": ev.Type,
		})
		return OutcomeDuplicate, nil
	}

	switch ev.Type {
	case "checkout.session.completed":
		return p.applyCheckout(ctx, ev)
	case "invoice.payment_succeeded":
		return p.applyRenewal(ctx, ev)
	default:
		if err := p.store.MarkEventProcessed(ctx, ev.ID); err != nil {
			if errors.Is(err, ledger.ErrEventAlreadyProcessed) {
				return OutcomeDuplicate, nil
			}
			return "", err
		}
		obs.LogRequest(map[string]any{
			"level": "info", "msg": "webhook_event_ignored", "event_id": ev.ID, "type": ev.Type,
		})
		return OutcomeIgnored, nil
	}
}

func (p *Processor) applyCheckout(ctx context.Context, ev Event) (Outcome, error) {
	var session CheckoutSession
	if err := json.Unmarshal(ev.Data.Object, &session); err != nil {
		return "", err
	}

	meta := session.Metadata
	if meta.OrganizationID == "" || meta.UserID == "" {
		// No way to attribute the payment. Leave the event unprocessed so a
		// redelivery with corrected metadata still applies.
		obs.LogRequest(map[string]any{
			"level": "error", "msg": "webhook_metadata_missing",
			"event_id": ev.ID, "session": session.ID,
		})
		return OutcomeSkipped, nil
	}

	credits := int64(CreditsTopUpGrant)
	upgrade := false
	if meta.Type == PurchaseSubscription {
		credits = SubscriptionGrant
		upgrade = true
	}
	recordType := ledger.BillingTypeUnknown
	if meta.Type != "" {
		recordType = strings.ToUpper(meta.Type)
	}

	currency := session.Currency
	if currency == "" {
		currency = "usd"
	}
	err := p.store.ApplyCheckout(ctx, ledger.CheckoutApplication{
		EventID:        ev.ID,
		OrganizationID: meta.OrganizationID,
		AccountID:      meta.UserID,
		CustomerRef:    session.Customer,
		Amount:         session.AmountTotal,
		Currency:       currency,
		SessionRef:     session.ID,
		RecordType:     recordType,
		Credits:        credits,
		UpgradeToPro:   upgrade,
	})
	if errors.Is(err, ledger.ErrEventAlreadyProcessed) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	obs.CountGrant(credits)
	obs.LogRequest(map[string]any{
		"level": "info", "msg": "webhook_checkout_applied",
		"event_id": ev.ID, "account_id": meta.UserID, "credits": credits, "type": recordType,
	})
	return OutcomeApplied, nil
}

func (p *Processor) applyRenewal(ctx context.Context, ev Event) (Outcome, error) {
	var invoice Invoice
	if err := json.Unmarshal(ev.Data.Object, &invoice); err != nil {
		return "", err
	}

	org, err := p.store.OrganizationByCustomerRef(ctx, invoice.Customer)
	if errors.Is(err, ledger.ErrOrganizationNotFound) {
		obs.LogRequest(map[string]any{
			"level": "error", "msg": "webhook_renewal_orphan",
			"event_id": ev.ID, "customer": invoice.Customer,
		})
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}

	accountID := ""
	member, err := p.store.FirstMember(ctx, org.ID)
	switch {
	case err == nil:
		accountID = member.ID
	case errors.Is(err, ledger.ErrAccountNotFound):
		// Memberless organization. The billing record falls back to the
		// SYSTEM beneficiary and no credits are granted.
	default:
		return "", err
	}

	err = p.store.ApplyRenewal(ctx, ledger.RenewalApplication{
		EventID:        ev.ID,
		OrganizationID: org.ID,
		AccountID:      accountID,
		Amount:         invoice.AmountPaid,
		Currency:       invoice.Currency,
		SessionRef:     invoice.Subscription,
		Credits:        RenewalGrant,
	})
	if errors.Is(err, ledger.ErrEventAlreadyProcessed) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	if accountID != "" {
		obs.CountGrant(RenewalGrant)
	}
	obs.LogRequest(map[string]any{
		"level": "info", "msg": "webhook_renewal_applied",
		"event_id": ev.ID, "organization_id": org.ID, "account_id": accountID,
	})
	return OutcomeApplied, nil
}
