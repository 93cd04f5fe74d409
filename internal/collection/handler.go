package collection

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arcollect/arcollect/internal/platform/httpx"
)

// Handler manages orchestrator endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers orchestrator routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.dashboard)
	r.Post("/cycle", h.runCycle)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.service.BuildDashboard(r.Context())
	if err != nil {
		h.logger.Error("build collection dashboard", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboard)
}

func (h *Handler) runCycle(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.RunDailyCycle(r.Context(), time.Time{})
	if err != nil {
		h.logger.Error("run collection cycle", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
