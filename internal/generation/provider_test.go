package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization: %s", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Nimbus"}}],"usage":{"total_tokens":17}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL)
	res, err := p.Generate(context.Background(), "gpt-4o-mini", "name a cloud product")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "Nimbus" || res.TokensUsed != 17 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestOpenAIProviderErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota code", 429, `{"error":{"code":"insufficient_quota","message":"billing"}}`, ErrQuotaExceeded},
		{"quota message", 429, `{"error":{"message":"Rate limit reached"}}`, ErrQuotaExceeded},
		{"safety", 400, `{"error":{"message":"blocked by safety filters"}}`, ErrSafetyBlocked},
		{"model 404", 404, `{"error":{"message":"no such model"}}`, ErrModelUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewOpenAIProvider("sk-test", srv.URL)
			_, err := p.Generate(context.Background(), "gpt-4o-mini", "prompt")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	p := NewOpenAIProvider("", "https://api.openai.com")
	if _, err := p.Generate(context.Background(), "gpt-4o-mini", "prompt"); err == nil {
		t.Fatal("expected error without an api key")
	}
}
