package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HassanGilani11/namegenai/internal/obs"
)

const (
	defaultResendBaseURL = "https://api.resend.com"
	fromAddress          = "NameGen AI <onboarding@resend.dev>"
)

// Sender delivers transactional mail. The reset flow treats delivery as
// best-effort; failures are logged, never surfaced to the requester.
type Sender interface {
	SendPasswordReset(ctx context.Context, email, resetLink string) error
}

// ResendSender delivers via the Resend REST API.
type ResendSender struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{
		apiKey:     apiKey,
		baseURL:    defaultResendBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL redirects API calls, used by tests against httptest servers.
func (s *ResendSender) WithBaseURL(base string) *ResendSender {
	s.baseURL = strings.TrimRight(base, "/")
	return s
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (s *ResendSender) SendPasswordReset(ctx context.Context, email, resetLink string) error {
	body := sendRequest{
		From:    fromAddress,
		To:      []string{email},
		Subject: "Reset your password",
		HTML: fmt.Sprintf(`<p>We received a request to reset the password for your NameGen AI account.</p>
<p><a href="%s">Reset Password</a></p>
<p>This link will expire in 1 hour. If you didn't request this, you can safely ignore this email.</p>`, resetLink),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach resend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resend api error (%d): %s", resp.StatusCode, string(raw))
	}
	return nil
}

// LogSender logs the reset link instead of sending mail. Used when no API key
// is configured, typically in local development.
type LogSender struct{}

func (LogSender) SendPasswordReset(ctx context.Context, email, resetLink string) error {
	obs.LogRequest(map[string]any{
		"level": "warn", "msg": "mail_not_sent_no_api_key",
		"email": email, "reset_link": resetLink,
	})
	return nil
}

// NewSender picks the Resend sender when a key is configured and the logging
// fallback otherwise.
func NewSender(apiKey string) Sender {
	if strings.TrimSpace(apiKey) == "" {
		return LogSender{}
	}
	return NewResendSender(apiKey)
}
