package replenishment

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/replenish/internal/platform/httpx"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// Scheduler queues a recalculation for the worker.
type Scheduler interface {
	EnqueueRecalculate(ctx context.Context, in RunInput) (string, error)
}

// AlertReader lists and resolves operator alerts.
type AlertReader interface {
	Open(ctx context.Context, limit int) ([]shared.OperatorAlert, error)
	Resolve(ctx context.Context, id int64) error
}

// Handler exposes replenishment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	scheduler Scheduler
	alerts    AlertReader
}

// NewHandler builds Handler. scheduler and alerts may be nil.
func NewHandler(logger *slog.Logger, service *Service, scheduler Scheduler, alerts AlertReader) *Handler {
	return &Handler{logger: logger, service: service, scheduler: scheduler, alerts: alerts}
}

// MountRoutes registers replenishment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/recalculate", h.recalculate)
	r.Get("/forecasts/{code}", h.forecasts)
	if h.alerts != nil {
		r.Get("/operator-alerts", h.listAlerts)
		r.Post("/operator-alerts/{id}/resolve", h.resolveAlert)
	}
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	var in RunInput
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if r.URL.Query().Get("async") == "true" && h.scheduler != nil {
		id, err := h.scheduler.EnqueueRecalculate(r.Context(), in)
		if err != nil {
			h.logger.Error("enqueue recalculation", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": id})
		return
	}
	result, err := h.service.Recalculate(r.Context(), in)
	if err != nil {
		h.logger.Error("recalculate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) forecasts(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	code := chi.URLParam(r, "code")
	rows, err := h.service.History(r.Context(), code, days)
	if err != nil {
		h.logger.Error("forecast history", slog.String("product_code", code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_code": code, "forecasts": rows})
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	alerts, err := h.alerts.Open(r.Context(), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.alerts.Resolve(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
