package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultStripeBaseURL = "https://api.stripe.com"

// signatureTolerance bounds how stale a signed payload may be before it is
// rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing webhook signature header")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Client talks to the Stripe REST API. Only the checkout session surface is
// used; everything else arrives through webhooks.
type Client struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func NewClient(apiKey, webhookSecret string) *Client {
	return &Client{
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		baseURL:       defaultStripeBaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL redirects API calls, used by tests against httptest servers.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// SessionMetadata rides on the checkout session and comes back verbatim in
// the completion event. It is the only link between a payment and an account.
type SessionMetadata struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Type           string `json:"type"`
}

// CheckoutParams describes one checkout session to create.
type CheckoutParams struct {
	Mode       string // "payment" or "subscription"
	SuccessURL string
	CancelURL  string
	Price      Price
	Metadata   SessionMetadata
}

// CreatedSession is the subset of the session object the API returns that we
// care about.
type CreatedSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession creates a hosted checkout session. The request body
// is form encoded per the Stripe API convention.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CreatedSession, error) {
	if c.apiKey == "" {
		return CreatedSession{}, errors.New("stripe api key not configured")
	}

	form := url.Values{}
	form.Set("payment_method_types[0]", "card")
	form.Set("mode", params.Mode)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("line_items[0][price_data][currency]", params.Price.Currency)
	form.Set("line_items[0][price_data][product_data][name]", params.Price.Name)
	form.Set("line_items[0][price_data][product_data][description]", params.Price.Description)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.Price.UnitAmount, 10))
	if params.Price.Recurring {
		form.Set("line_items[0][price_data][recurring][interval]", "month")
	}
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[userId]", params.Metadata.UserID)
	form.Set("metadata[organizationId]", params.Metadata.OrganizationID)
	form.Set("metadata[type]", params.Metadata.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return CreatedSession{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CreatedSession{}, fmt.Errorf("failed to reach stripe: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CreatedSession{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return CreatedSession{}, fmt.Errorf("stripe api error (%d): %s", resp.StatusCode, string(body))
	}

	var session CreatedSession
	if err := json.Unmarshal(body, &session); err != nil {
		return CreatedSession{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return session, nil
}

// VerifySignature checks the Stripe-Signature header against the raw payload.
// The header format is "t=<unix>,v1=<hex hmac>"; the signed message is
// "<t>.<payload>" keyed with the endpoint secret.
func (c *Client) VerifySignature(payload []byte, header string, now time.Time) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if d := now.Sub(time.Unix(unix, 0)); d > signatureTolerance || d < -signatureTolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignPayload produces a valid Stripe-Signature header for the payload.
// Tests use it to exercise the webhook endpoint end to end.
func (c *Client) SignPayload(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Event is the envelope of one webhook delivery.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession is the data object of a checkout.session.completed event.
type CheckoutSession struct {
	ID          string          `json:"id"`
	Customer    string          `json:"customer"`
	AmountTotal int64           `json:"amount_total"`
	Currency    string          `json:"currency"`
	Mode        string          `json:"mode"`
	Metadata    SessionMetadata `json:"metadata"`
}

// Invoice is the data object of an invoice.payment_succeeded event.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	Subscription string `json:"subscription"`
}

// ParseEvent decodes a webhook payload into its envelope.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to parse event: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return Event{}, errors.New("event missing id or type")
	}
	return ev, nil
}
