package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"stockledger/internal/pkg/logger"
	"stockledger/internal/service/inventory/application"
	"stockledger/internal/service/inventory/domain"
)

// StockFeed 是 websocket 推送入口
type StockFeed interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// InventoryHandler 库存查询与运营调整的 HTTP 入口
type InventoryHandler struct {
	service *application.InventoryService
	feed    StockFeed
}

// NewInventoryHandler feed 可以为 nil，此时不注册推送路由
func NewInventoryHandler(service *application.InventoryService, feed StockFeed) *InventoryHandler {
	return &InventoryHandler{service: service, feed: feed}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stock", h.getStockBySKU)
	mux.HandleFunc("GET /stock/{variantId}", h.getStockItem)
	mux.HandleFunc("POST /admin/stock/adjust", h.adjustOnHand)
	if h.feed != nil {
		mux.HandleFunc("GET /ws/stock", h.feed.ServeWS)
	}
}

type adjustRequest struct {
	SKU   string `json:"sku"`
	Delta int64  `json:"delta"`
}

func (h *InventoryHandler) getStockBySKU(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	sku := r.URL.Query().Get("sku")
	if sku == "" {
		writeError(w, http.StatusBadRequest, "sku is required")
		return
	}
	view, err := h.service.GetStockBySKU(ctx, sku)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *InventoryHandler) getStockItem(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	id, err := strconv.ParseInt(r.PathValue("variantId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid variantId")
		return
	}
	item, err := h.service.GetStockItem(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewStockView("", item))
}

func (h *InventoryHandler) adjustOnHand(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SKU == "" || req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "sku and non-zero delta are required")
		return
	}
	view, err := h.service.AdjustOnHand(ctx, req.SKU, req.Delta)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *InventoryHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrVariantNotFound), errors.Is(err, domain.ErrStockItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvariantViolation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLockTimeout):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("inventory request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
