package promise

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arcollect/arcollect/internal/platform/httpx"
)

// Handler manages promise endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers promise routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{promiseID}", h.get)
	r.Post("/{promiseID}/status", h.updateStatus)
	r.Post("/{promiseID}/follow-up", h.completeFollowUp)
	r.Post("/reconcile", h.reconcile)
	r.Get("/customer/{customerID}", h.history)
	r.Get("/follow-ups", h.followUps)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	p, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create promise", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "promiseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid promise ID", err.Error())
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "promiseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid promise ID", err.Error())
		return
	}
	var input StatusUpdateInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	result, err := h.service.UpdateStatus(r.Context(), id, input)
	if err != nil {
		h.logger.Error("update promise status", slog.Any("error", err), "promise_id", id)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) completeFollowUp(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "promiseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid promise ID", err.Error())
		return
	}
	var body struct {
		Notes       string `json:"notes"`
		PerformedBy string `json:"performed_by"`
	}
	// Body is optional.
	_ = httpx.DecodeJSON(w, r, &body)

	p, err := h.service.MarkFollowUpCompleted(r.Context(), id, body.Notes, body.PerformedBy)
	if err != nil {
		h.logger.Error("complete promise follow-up", slog.Any("error", err), "promise_id", id)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Reconcile(r.Context(), time.Time{})
	if err != nil {
		h.logger.Error("reconcile promises", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid customer ID", err.Error())
		return
	}
	periodDays, _ := strconv.Atoi(r.URL.Query().Get("period_days"))
	history, err := h.service.History(r.Context(), customerID, periodDays)
	if err != nil {
		h.logger.Error("promise history", slog.Any("error", err), "customer_id", customerID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

func (h *Handler) followUps(w http.ResponseWriter, r *http.Request) {
	daysAhead, _ := strconv.Atoi(r.URL.Query().Get("days_ahead"))
	items, err := h.service.FollowUpQueue(r.Context(), daysAhead)
	if err != nil {
		h.logger.Error("promise follow-up queue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}
