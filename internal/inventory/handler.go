package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/replenish/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{code}", h.getProduct)
	r.Get("/products/{code}/stock-card", h.stockCard)
	r.Post("/products/{code}/adjustments", h.adjust)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	filter := ProductFilter{
		OnlyActive:       r.URL.Query().Get("active") == "true",
		AtOrBelowReorder: r.URL.Query().Get("reorder") == "true",
	}
	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.StockCard(r.Context(), chi.URLParam(r, "code"), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type adjustmentRequest struct {
	Delta     int64  `json:"delta" validate:"required"`
	Reference string `json:"reference" validate:"required,max=64"`
	Note      string `json:"note" validate:"max=255"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	code := chi.URLParam(r, "code")
	balance, err := h.service.Adjust(r.Context(), AdjustmentInput{
		ProductCode: code,
		Delta:       req.Delta,
		Reference:   req.Reference,
		Note:        req.Note,
	})
	if err != nil {
		h.logger.Warn("stock adjustment rejected", slog.String("product_code", code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_code": code, "stock": balance})
}
