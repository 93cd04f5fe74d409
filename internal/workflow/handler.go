package workflow

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arcollect/arcollect/internal/platform/httpx"
)

// Handler manages workflow endpoints.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers workflow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listDefinitions)
	r.Post("/", h.createDefinition)
	r.Post("/seed", h.seed)
	r.Post("/scan", h.scan)
	r.Post("/execute", h.execute)
	r.Get("/summary", h.summary)
	r.Get("/instances/{instanceID}", h.instanceDetail)
	r.Post("/instances/{instanceID}/cancel", h.cancelInstance)
}

func (h *Handler) listDefinitions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	defs, err := h.engine.ListDefinitions(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("list workflow definitions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, defs)
}

func (h *Handler) createDefinition(w http.ResponseWriter, r *http.Request) {
	var input CreateDefinitionInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	def, err := h.engine.CreateDefinition(r.Context(), input)
	if err != nil {
		h.logger.Error("create workflow definition", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, def)
}

func (h *Handler) seed(w http.ResponseWriter, r *http.Request) {
	seeded, err := h.engine.SeedDefaultDefinitions(r.Context())
	if err != nil {
		h.logger.Error("seed workflow definitions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"seeded": seeded})
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.ScanTriggers(r.Context())
	if err != nil {
		h.logger.Error("scan workflow triggers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.ExecuteDue(r.Context(), time.Time{}, 4)
	if err != nil {
		h.logger.Error("execute due workflows", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Summary(r.Context())
	if err != nil {
		h.logger.Error("workflow status summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) instanceDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.engine.InstanceDetail(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.logger.Error("workflow instance detail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) cancelInstance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellation.
	_ = httpx.DecodeJSON(w, r, &body)

	instanceID := chi.URLParam(r, "instanceID")
	if err := h.engine.Cancel(r.Context(), instanceID, body.Reason); err != nil {
		h.logger.Error("cancel workflow instance", slog.Any("error", err), "instance_id", instanceID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
