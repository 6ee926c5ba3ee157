package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	gateway "github.com/fitstack/llmgate/internal"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on
// error. Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("INVALID_REQUEST", "invalid request body"))
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite
// errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gateway.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse("NOT_FOUND", "not found"))
		return
	}
	slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse("INTERNAL", "internal error"))
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// --- Model management ---

func (s *server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.deps.Config.AllModels()})
}

func (s *server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var cfg gateway.ModelConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if strings.TrimSpace(cfg.ModelID) == "" || strings.TrimSpace(cfg.Provider) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("INVALID_REQUEST", "model_id and provider are required"))
		return
	}
	if err := s.deps.Config.AddModel(r.Context(), cfg); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var cfg gateway.ModelConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	cfg.ModelID = chi.URLParam(r, "id")
	if err := s.deps.Config.UpdateModel(r.Context(), cfg); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// --- Routing rules ---

func (s *server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Store.ListRules(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rules})
}

// handleReplaceRules swaps the whole ordered rule list atomically. Rules are
// positional; partial updates would leave the order ambiguous.
func (s *server) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	var rules []gateway.RoutingRule
	if !decodeJSON(w, r, &rules) {
		return
	}
	if err := s.deps.Config.ReplaceRules(r.Context(), rules); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rules})
}

// --- Usage analytics ---

func (s *server) handleQueryUsage(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	q := r.URL.Query()
	filter := gateway.UsageFilter{
		UserID:  q.Get("user_id"),
		ModelID: q.Get("model_id"),
		Since:   q.Get("since"),
		Until:   q.Get("until"),
		Offset:  offset,
		Limit:   limit,
	}

	records, err := s.deps.Store.QueryUsage(r.Context(), filter)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	total, err := s.deps.Store.CountUsage(r.Context(), filter)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       records,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

func (s *server) handleQueryReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.deps.Store.QueryReceipts(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": receipts})
}
