package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/HassanGilani11/namegenai/internal/audit"
	"github.com/HassanGilani11/namegenai/internal/auth"
	"github.com/HassanGilani11/namegenai/internal/ledger"
)

const (
	tokenTTL       = 24 * time.Hour
	resetTokenTTL  = time.Hour
	minPasswordLen = 8
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, r, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	acc, err := a.store.CreateAccount(r.Context(), ledger.NewAccount{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "account.register", map[string]any{
		"account_id":      acc.ID,
		"organization_id": acc.OrganizationID,
	})
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := a.store.AccountByEmail(r.Context(), req.Email)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		handleStoreError(w, r, auth.ErrInvalidCredentials)
		return
	}
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if err := auth.VerifyPassword(acc.PasswordHash, req.Password); err != nil {
		handleStoreError(w, r, auth.ErrInvalidCredentials)
		return
	}

	token, err := auth.GenerateToken(acc.ID, string(acc.Role), tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"account_id": acc.ID,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword always answers 200 so the endpoint cannot be used to
// enumerate registered emails.
func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	neutral := map[string]any{
		"message": "If an account exists with that email, a reset link has been sent.",
	}

	acc, err := a.store.AccountByEmail(r.Context(), email)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeJSON(w, http.StatusOK, neutral)
		return
	}
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	token, err := newResetToken()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	err = a.store.UpsertResetToken(r.Context(), ledger.PasswordResetToken{
		Email:     acc.Email,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(resetTokenTTL),
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	// Delivery is best-effort; the sender logs its own failures.
	resetLink := a.appURL + "/reset-password?token=" + token
	_ = a.mailer.SendPasswordReset(r.Context(), acc.Email, resetLink)

	_ = audit.LogEvent(r.Context(), "auth.password_reset.requested", map[string]any{
		"account_id": acc.ID,
	})
	writeJSON(w, http.StatusOK, neutral)
}

func newResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" || len(req.Password) < minPasswordLen {
		writeError(w, r, http.StatusBadRequest, "token and a password of at least 8 characters are required")
		return
	}

	tok, err := a.store.ResetToken(r.Context(), req.Token)
	if errors.Is(err, ledger.ErrTokenNotFound) || (err == nil && time.Now().After(tok.ExpiresAt)) {
		writeError(w, r, http.StatusBadRequest, "invalid or expired token")
		return
	}
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.store.ConsumeResetToken(r.Context(), tok.Token, tok.Email, hash); err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password_reset.completed", map[string]any{
		"email": tok.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset successfully"})
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		acc, err := a.store.Account(r.Context(), accountID)
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	case http.MethodPatch:
		var req updateProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		acc, err := a.store.UpdateName(r.Context(), accountID, name)
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "account.profile.updated", map[string]any{
			"account_id": accountID,
		})
		writeJSON(w, http.StatusOK, acc)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	accountID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < minPasswordLen {
		writeError(w, r, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}

	acc, err := a.store.Account(r.Context(), accountID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if err := auth.VerifyPassword(acc.PasswordHash, req.CurrentPassword); err != nil {
		handleStoreError(w, r, auth.ErrInvalidCredentials)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.store.SetPasswordHash(r.Context(), accountID, hash); err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "account.password.changed", map[string]any{
		"account_id": accountID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password updated"})
}
