package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/pipeline"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"github.com/opensource-finance/fraudwatch/internal/tuning"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	scorer  *pipeline.Scorer
	store   *rules.Store
	admin   *tuning.Admin
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, scorer *pipeline.Scorer, store *rules.Store, admin *tuning.Admin, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		scorer:  scorer,
		store:   store,
		admin:   admin,
		version: version,
	}
}

// RulesResponse is the response for GET /rules.
type RulesResponse struct {
	Version  uint64              `json:"config_version"`
	LoadedAt *time.Time          `json:"loaded_at,omitempty"`
	Rules    domain.RuleDocument `json:"rules"`
}

// AdvisorRunResponse is the response for POST /advisor/run.
type AdvisorRunResponse struct {
	Added       int                 `json:"added"`
	Suggestions []domain.Suggestion `json:"suggestions"`
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	if h.scorer == nil {
		writeError(w, http.StatusServiceUnavailable, "scorer not available")
		return
	}

	var req domain.ScoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.scorer.Score(r.Context(), &req)
	if err != nil {
		if isBadInput(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to score transaction", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to score transaction")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. Scoring works
// before the first rule load, so readiness only reports the rule version.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	var version uint64
	if h.store != nil {
		version = h.store.Current().Version
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":          true,
		"config_version": version,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "id")
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	tx, err := h.repo.GetTransaction(r.Context(), txnID)
	if err != nil {
		h.lookupFailed(w, "transaction", txnID, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetDecision retrieves the decision recorded for a transaction.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "id")
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	d, err := h.repo.GetDecision(r.Context(), txnID)
	if err != nil {
		h.lookupFailed(w, "decision", txnID, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// ListDecisions returns recent decisions, or recent flagged decisions joined
// with their transactions when flagged=true.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	flagged, _ := strconv.ParseBool(r.URL.Query().Get("flagged"))
	if flagged {
		items, err := h.repo.FlaggedDecisions(r.Context(), limit)
		if err != nil {
			slog.Error("failed to list flagged decisions", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list decisions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"decisions": items,
			"count":     len(items),
		})
		return
	}

	items, err := h.repo.ListDecisions(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list decisions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": items,
		"count":     len(items),
	})
}

// GetRules returns the rule document behind the active snapshot.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "rule store not available")
		return
	}

	snap := h.store.Current()
	resp := RulesResponse{
		Version: snap.Version,
		Rules:   snap.Document(),
	}
	if snap.Version > 0 {
		loadedAt := snap.LoadedAt
		resp.LoadedAt = &loadedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReloadRules re-reads the rule document into the store.
// On failure the previous snapshot stays active.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "rule store not available")
		return
	}

	if err := h.store.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":          err.Error(),
			"config_version": h.store.Current().Version,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "rules reloaded successfully",
		"config_version": h.store.Current().Version,
	})
}

// ListSuggestions returns the suggestion queue in insertion order.
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "tuning not available")
		return
	}

	items, err := h.admin.Suggestions(r.Context())
	if err != nil {
		slog.Error("failed to list suggestions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list suggestions")
		return
	}
	if items == nil {
		items = []domain.Suggestion{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": items,
		"count":       len(items),
	})
}

// ApproveSuggestion marks a suggestion approved.
func (h *Handler) ApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, true)
}

// RejectSuggestion marks a suggestion rejected.
func (h *Handler) RejectSuggestion(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, false)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, approve bool) {
	if h.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "tuning not available")
		return
	}

	id := chi.URLParam(r, "id")
	var (
		sg  *domain.Suggestion
		err error
	)
	if approve {
		sg, err = h.admin.Approve(r.Context(), id)
	} else {
		sg, err = h.admin.Reject(r.Context(), id)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sg)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "suggestion not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("failed to update suggestion", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update suggestion")
	}
}

// RunAdvisor runs one advisor pass over the most recent flagged decisions.
func (h *Handler) RunAdvisor(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "tuning not available")
		return
	}

	window, ok := queryInt(r, "window", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "window must be a positive integer")
		return
	}

	added, err := h.admin.RunAdvisor(r.Context(), window)
	if err != nil {
		var advErr *domain.AdvisorError
		switch {
		case errors.Is(err, tuning.ErrAdvisorDisabled):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &advErr):
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error": err.Error(),
				"stage": advErr.Stage,
			})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, AdvisorRunResponse{
		Added:       len(added),
		Suggestions: added,
	})
}

// ApplyRules applies approved suggestions to the rule document. An empty
// body applies every approved entry in the queue.
func (h *Handler) ApplyRules(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "tuning not available")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var approved []domain.Suggestion
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &approved); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	result, err := h.admin.Apply(r.Context(), approved)
	if err != nil {
		resp := map[string]any{"error": err.Error()}
		var applyErr *domain.ApplyError
		if errors.As(err, &applyErr) {
			resp["stage"] = applyErr.Stage
		}
		if result != nil {
			resp["result"] = result
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) lookupFailed(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	slog.Error("failed to get "+kind, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to get "+kind)
}

func isBadInput(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrInvalidTransaction)
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
