package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	c := NewClient("sk_test", "whsec_test")
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Now()

	header := c.SignPayload(payload, now)
	if err := c.VerifySignature(payload, header, now); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	if err := c.VerifySignature(payload, "", now); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}

	wrong := NewClient("sk_test", "whsec_other").SignPayload(payload, now)
	if err := c.VerifySignature(payload, wrong, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong secret, got %v", err)
	}

	tampered := append([]byte{}, payload...)
	tampered[0] = '['
	if err := c.VerifySignature(tampered, header, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered payload, got %v", err)
	}

	stale := c.SignPayload(payload, now.Add(-10*time.Minute))
	if err := c.VerifySignature(payload, stale, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for stale timestamp, got %v", err)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("unexpected authorization header: %s", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("mode"); got != "subscription" {
			t.Errorf("unexpected mode: %s", got)
		}
		if got := r.PostForm.Get("metadata[userId]"); got != "acc-1" {
			t.Errorf("unexpected metadata userId: %s", got)
		}
		if got := r.PostForm.Get("line_items[0][price_data][unit_amount]"); got != "2900" {
			t.Errorf("unexpected unit amount: %s", got)
		}
		if got := r.PostForm.Get("line_items[0][price_data][recurring][interval]"); got != "month" {
			t.Errorf("unexpected recurring interval: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.example/cs_test_1"}`))
	}))
	defer srv.Close()

	price, _ := PriceFor(PurchaseSubscription)
	c := NewClient("sk_test", "whsec_test").WithBaseURL(srv.URL)
	session, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		Mode:       "subscription",
		SuccessURL: "https://app.example/dashboard?status=success",
		CancelURL:  "https://app.example/dashboard/billing?status=cancel",
		Price:      price,
		Metadata:   SessionMetadata{UserID: "acc-1", OrganizationID: "org-1", Type: PurchaseSubscription},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL != "https://checkout.example/cs_test_1" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestCreateCheckoutSessionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid request"}}`))
	}))
	defer srv.Close()

	c := NewClient("sk_test", "whsec_test").WithBaseURL(srv.URL)
	price, _ := PriceFor(PurchaseCredits)
	if _, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{Mode: "payment", Price: price}); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != "checkout.session.completed" {
		t.Fatalf("unexpected envelope: %+v", ev)
	}

	if _, err := ParseEvent([]byte(`{"type":"x"}`)); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
