package crossdock

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/replenish/internal/platform/httpx"
	"github.com/odyssey-erp/replenish/internal/procurement"
)

// Handler exposes the write side of sales and purchase orders.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator) *Handler {
	return &Handler{logger: logger, coordinator: coordinator}
}

// MountSalesRoutes registers order intake and fulfillment routes.
func (h *Handler) MountSalesRoutes(r chi.Router) {
	r.Post("/orders", h.acceptOrder)
	r.Post("/orders/{id}/fulfillment", h.advance)
	r.Post("/backorders/{code}/retry", h.retryBackorders)
}

// MountProcurementRoutes registers purchase order transitions.
func (h *Handler) MountProcurementRoutes(r chi.Router) {
	r.Post("/pos/{id}/transition", h.transition)
	r.Post("/pos/{id}/cancel", h.cancelPO)
}

func (h *Handler) acceptOrder(w http.ResponseWriter, r *http.Request) {
	var req AcceptOrderInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.RequestKey == "" {
		req.RequestKey = r.Header.Get("Idempotency-Key")
	}
	result, err := h.coordinator.AcceptOrder(r.Context(), req)
	if err != nil {
		h.logger.Error("accept sales order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req AdvanceInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.OrderID = id
	order, err := h.coordinator.AdvanceFulfillment(r.Context(), req)
	if err != nil {
		h.logger.Warn("advance fulfillment", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req TransitionInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.POID = id
	if req.EventID == "" {
		req.EventID = r.Header.Get("Idempotency-Key")
	}
	result, err := h.coordinator.TransitionPurchaseOrder(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	Note string `json:"note" validate:"max=255"`
}

func (h *Handler) cancelPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	result, err := h.coordinator.TransitionPurchaseOrder(r.Context(), TransitionInput{
		POID:      id,
		NewStatus: procurement.POStatusCancelled,
		Note:      req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) retryBackorders(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	changed, err := h.coordinator.RetryBackorders(r.Context(), code)
	if err != nil {
		h.logger.Error("retry backorders", slog.String("product_code", code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_code": code, "changed_orders": changed})
}
