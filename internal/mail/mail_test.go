package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResendSenderSendPasswordReset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer re_test" {
			t.Errorf("unexpected authorization: %s", got)
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.To) != 1 || req.To[0] != "user@example.com" {
			t.Errorf("unexpected recipients: %v", req.To)
		}
		if !strings.Contains(req.HTML, "https://app.example/reset-password?token=tok") {
			t.Errorf("reset link missing from body: %s", req.HTML)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	s := NewResendSender("re_test").WithBaseURL(srv.URL)
	err := s.SendPasswordReset(context.Background(), "user@example.com",
		"https://app.example/reset-password?token=tok")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestResendSenderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer srv.Close()

	s := NewResendSender("bad").WithBaseURL(srv.URL)
	if err := s.SendPasswordReset(context.Background(), "u@example.com", "link"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestNewSenderFallsBackToLogging(t *testing.T) {
	if _, ok := NewSender("").(LogSender); !ok {
		t.Fatal("empty api key must select the logging sender")
	}
	if _, ok := NewSender("re_live").(*ResendSender); !ok {
		t.Fatal("configured api key must select the resend sender")
	}
}
