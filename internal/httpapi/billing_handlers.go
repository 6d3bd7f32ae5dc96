package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/HassanGilani11/namegenai/internal/audit"
	"github.com/HassanGilani11/namegenai/internal/billing"
	"github.com/HassanGilani11/namegenai/internal/ledger"
	"github.com/HassanGilani11/namegenai/internal/obs"
)

type billingInfoResponse struct {
	Credits int64       `json:"credits"`
	Plan    ledger.Plan `json:"plan"`
	Usage   usageView   `json:"usage"`
}

type usageView struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

func (a *API) handleBillingInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	accountID, ok := requireUser(w, r)
	if !ok {
		return
	}

	bal, err := a.store.Balance(r.Context(), accountID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	usage, err := a.gen.DailyUsage(r.Context(), accountID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, billingInfoResponse{
		Credits: bal.Credits,
		Plan:    bal.Plan,
		Usage:   usageView{Used: usage.Used, Limit: usage.Limit},
	})
}

func (a *API) handleBillingHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	accountID, ok := requireUser(w, r)
	if !ok {
		return
	}

	org, err := a.store.ResolveOrganization(r.Context(), accountID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	recs, err := a.store.BillingRecords(r.Context(), org.ID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if recs == nil {
		recs = []ledger.BillingRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

type checkoutRequest struct {
	Type string `json:"type"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	accountID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	url, err := a.checkout.Start(r.Context(), accountID, req.Type)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "billing.checkout.started", map[string]any{
		"account_id": accountID,
		"type":       req.Type,
	})
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

// handleStripeWebhook authenticates deliveries with the provider's signature
// scheme, never with bearer tokens. Missing and invalid signatures both
// answer 400; only the log line tells them apart.
func (a *API) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable payload")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if err := a.stripe.VerifySignature(payload, sig, time.Now()); err != nil {
		msg := "webhook_signature_invalid"
		if errors.Is(err, billing.ErrMissingSignature) {
			msg = "webhook_signature_missing"
		}
		obs.LogRequest(map[string]any{
			"level": "error", "msg": msg,
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusBadRequest, "signature verification failed")
		return
	}

	ev, err := billing.ParseEvent(payload)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := a.webhooks.Process(r.Context(), ev)
	if err != nil {
		// 500 tells the provider to redeliver; the event log guarantees the
		// retry cannot double-apply.
		writeError(w, r, http.StatusInternalServerError, "webhook handler failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "billing.webhook.processed", map[string]any{
		"event_id": ev.ID,
		"type":     ev.Type,
		"outcome":  string(outcome),
	})
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": string(outcome)})
}
