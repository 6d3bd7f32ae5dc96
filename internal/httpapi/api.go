package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/HassanGilani11/namegenai/internal/auth"
	"github.com/HassanGilani11/namegenai/internal/billing"
	"github.com/HassanGilani11/namegenai/internal/generation"
	"github.com/HassanGilani11/namegenai/internal/ledger"
	"github.com/HassanGilani11/namegenai/internal/obs"
)

// ReadyProbe checks backing dependencies for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Store      ledger.Store
	Generator  *generation.Service
	Checkout   *billing.CheckoutFactory
	Webhooks   *billing.Processor
	Stripe     *billing.Client
	Mailer     mailSender
	ReadyProbe ReadyProbe
	Version    string
	AppURL     string
	RateBurst  int
	RatePerSec int
}

type mailSender interface {
	SendPasswordReset(ctx context.Context, email, resetLink string) error
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	store      ledger.Store
	gen        *generation.Service
	checkout   *billing.CheckoutFactory
	webhooks   *billing.Processor
	stripe     *billing.Client
	mailer     mailSender
	readyProbe ReadyProbe
	version    string
	appURL     string
	rateBurst  int
	ratePerSec int
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		store:      opts.Store,
		gen:        opts.Generator,
		checkout:   opts.Checkout,
		webhooks:   opts.Webhooks,
		stripe:     opts.Stripe,
		mailer:     opts.Mailer,
		readyProbe: opts.ReadyProbe,
		version:    opts.Version,
		appURL:     opts.AppURL,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// auth
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/auth/reset-password", a.handleResetPassword)

	// account
	a.mux.HandleFunc("/v1/user/profile", a.handleProfile)
	a.mux.HandleFunc("/v1/user/password", a.handlePasswordChange)
	a.mux.HandleFunc("/v1/user/billing-info", a.handleBillingInfo)
	a.mux.HandleFunc("/v1/user/billing-history", a.handleBillingHistory)

	// billing
	a.mux.HandleFunc("/v1/checkout", a.handleCheckout)
	a.mux.HandleFunc("/v1/webhooks/stripe", a.handleStripeWebhook)

	// generation
	a.mux.HandleFunc("/v1/generate", a.handleGenerate)
	a.mux.HandleFunc("/v1/generations", a.handleGenerations)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: metrics on the outside, then
// request id, logging, rate limit, body cap, CORS and token auth.
func (a *API) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{a.appURL, "http://localhost:3000"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Stripe-Signature"},
		MaxAge:         600,
	})
	h := a.withAuth(a.mux)
	h = c.Handler(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- base handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "namegen-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "namegen-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// requireUser returns the authenticated account id or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return id, true
}

// handleStoreError maps domain failures onto HTTP statuses in one place.
func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrEmailTaken),
		errors.Is(err, ledger.ErrTokenNotFound),
		errors.Is(err, generation.ErrEmptyPrompt),
		errors.Is(err, billing.ErrUnknownPurchaseType):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeError(w, r, http.StatusPaymentRequired, "insufficient credits, please upgrade")
	case errors.Is(err, generation.ErrQuotaExceeded):
		writeError(w, r, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, generation.ErrSafetyBlocked):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, generation.ErrModelUnavailable):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, generation.ErrDailyLimitReached):
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrOrganizationNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
