package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/HassanGilani11/namegenai/internal/audit"
	"github.com/HassanGilani11/namegenai/internal/ledger"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

func (a *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	accountID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.gen.Generate(r.Context(), accountID, req.Prompt, strings.TrimSpace(req.Model))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "generation.completed", map[string]any{
		"generation_id": rec.ID,
		"model":         rec.Model,
		"tokens_used":   rec.TokensUsed,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rec})
}

func (a *API) handleGenerations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	accountID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := a.gen.History(r.Context(), accountID, limit)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if recs == nil {
		recs = []ledger.GenerationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
