package scoring

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arcollect/arcollect/internal/platform/httpx"
)

// Handler manages scoring endpoints.
type Handler struct {
	logger *slog.Logger
	scorer *Scorer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, scorer *Scorer) *Handler {
	return &Handler{logger: logger, scorer: scorer}
}

// MountRoutes registers scoring routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/queue", h.queue)
	r.Post("/refresh", h.refresh)
	r.Get("/{customerID}", h.score)
}

// score returns the priority score for one customer. ?refresh=true bypasses
// the cache.
func (h *Handler) score(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid customer ID", "customer ID must be an integer")
		return
	}
	force := r.URL.Query().Get("refresh") == "true"

	result, err := h.scorer.CachedScore(r.Context(), customerID, force)
	if err != nil {
		h.logger.Error("compute priority score", slog.Any("error", err), slog.Int64("customer_id", customerID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// queue returns the prioritized work queue, highest score first.
func (h *Handler) queue(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	minScore := 0.0
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 100 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid min_score", "min_score must be within [0,100]")
			return
		}
		minScore = parsed
	}

	queue, err := h.scorer.PrioritizedQueue(r.Context(), limit, minScore)
	if err != nil {
		h.logger.Error("build prioritized queue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"count": len(queue),
		"queue": queue,
	})
}

// refresh recomputes scores for all customers with a balance and persists
// their priority segments.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scorer.RefreshAll(r.Context(), 8)
	if err != nil {
		h.logger.Error("refresh priority scores", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
