package procurement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/replenish/internal/platform/httpx"
)

// Handler manages procurement endpoints. Receipts and cancellation touch sales
// orders and are mounted by the crossdock handler on the same router.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pos", h.listPOs)
	r.Post("/pos", h.createPO)
	r.Get("/pos/{id}", h.getPO)
	r.Get("/pos/{id}/history", h.history)
	r.Post("/pos/{id}/send", h.sendPO)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter := ListFilter{
		Status:      POStatus(r.URL.Query().Get("status")),
		ProductCode: r.URL.Query().Get("product_code"),
		Limit:       limit,
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list POs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_orders": items})
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var input CreatePOInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CreateManualPO(r.Context(), input)
	if err != nil {
		h.logger.Error("create PO", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type sendRequest struct {
	Note string `json:"note" validate:"max=255"`
}

func (h *Handler) sendPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req sendRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	po, err := h.service.Send(r.Context(), id, req.Note)
	if err != nil {
		h.logger.Warn("send PO rejected", slog.Int64("po_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}
