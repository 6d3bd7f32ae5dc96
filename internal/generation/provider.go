package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider failure classes. The HTTP layer maps each to a distinct status so
// clients can tell a billing problem from a blocked prompt.
var (
	ErrQuotaExceeded    = errors.New("provider quota exceeded")
	ErrSafetyBlocked    = errors.New("generation blocked by safety filters")
	ErrModelUnavailable = errors.New("selected model is unavailable")
)

// TextProvider produces text for a prompt. Implementations map their own
// failure modes onto the shared error classes above.
type TextProvider interface {
	Generate(ctx context.Context, model, prompt string) (Result, error)
}

// Result is one completed generation.
type Result struct {
	Text       string
	TokensUsed int64
}

// OpenAIProvider calls an OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, model, prompt string) (Result, error) {
	if p.apiKey == "" {
		return Result{}, errors.New("provider api key not configured")
	}

	payload, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reach provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, classifyAPIError(resp.StatusCode, body)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return Result{}, errors.New("provider returned no choices")
	}
	return Result{
		Text:       chat.Choices[0].Message.Content,
		TokensUsed: chat.Usage.TotalTokens,
	}, nil
}

// classifyAPIError maps provider error responses onto the shared classes.
func classifyAPIError(status int, body []byte) error {
	var e apiError
	_ = json.Unmarshal(body, &e)

	if e.Error.Code == "insufficient_quota" || e.Error.Type == "insufficient_quota" {
		return ErrQuotaExceeded
	}

	msg := strings.ToLower(e.Error.Message)
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "limit"):
		return ErrQuotaExceeded
	case strings.Contains(msg, "safety") || strings.Contains(msg, "blocked"):
		return ErrSafetyBlocked
	case status == http.StatusNotFound || strings.Contains(msg, "not found"):
		return ErrModelUnavailable
	}
	return fmt.Errorf("provider error (%d): %s", status, string(body))
}
