package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/HMasataka/linehub/pkg/domain"
	perrors "github.com/HMasataka/linehub/pkg/errors"
)

type linesResponse struct {
	OK    bool                 `json:"ok"`
	Lines []domain.LineSummary `json:"lines"`
}

type messagesResponse struct {
	OK       bool             `json:"ok"`
	LineID   string           `json:"lineId"`
	Messages []domain.Message `json:"messages"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"stats": a.hub.Stats(r.Context()),
	})
}

func (a *api) listLines(w http.ResponseWriter, r *http.Request) {
	lines, err := a.hub.GetLines(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if lines == nil {
		lines = []domain.LineSummary{}
	}
	writeJSON(w, http.StatusOK, linesResponse{OK: true, Lines: lines})
}

func (a *api) listMessages(w http.ResponseWriter, r *http.Request) {
	lineID := strings.TrimSpace(chi.URLParam(r, "lineID"))
	if domain.NormalizeLineID(lineID) == "" {
		writeError(w, domain.ErrMissingLine)
		return
	}

	msgs, err := a.hub.GetMessages(r.Context(), lineID, a.limit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{OK: true, LineID: domain.NormalizeLineID(lineID), Messages: msgs})
}

// limit reads ?limit= bounded to 1..MaxLimit
func (a *api) limit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	n, err := strconv.Atoi(raw)
	if raw == "" || err != nil {
		return a.options.DefaultLimit
	}
	if n < 1 {
		return 1
	}
	if n > a.options.MaxLimit {
		return a.options.MaxLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := perrors.CodeOf(err)
	writeJSON(w, statusFor(code), errorResponse{
		OK:    false,
		Error: perrors.PublicMessage(err),
		Code:  code,
	})
}

func statusFor(code string) int {
	switch code {
	case perrors.CodeMissingLine, perrors.CodeInvalidRequest, perrors.CodeInvalidStatus:
		return http.StatusBadRequest
	case perrors.CodeLineNotFound:
		return http.StatusNotFound
	case perrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case perrors.CodeForbidden:
		return http.StatusForbidden
	case perrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
