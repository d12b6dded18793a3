package interfaces

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/logger"
	"stockledger/internal/service/payment/application"
	"stockledger/internal/service/payment/domain"
)

const maxWebhookBody = 64 << 10

// WebhookHandler 接收支付渠道的 HTTP 回调
type WebhookHandler struct {
	service   *application.WebhookService
	secret    string
	tolerance time.Duration
	clock     clock.Clock
}

// NewWebhookHandler secret 为空时拒绝所有请求
func NewWebhookHandler(service *application.WebhookService, secret string, tolerance time.Duration, c clock.Clock) *WebhookHandler {
	if c == nil {
		c = clock.Real()
	}
	return &WebhookHandler{service: service, secret: secret, tolerance: tolerance, clock: c}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/payment", h.handleWebhook)
}

type webhookResponse struct {
	Status string `json:"status"`
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	log := logger.Ctx(ctx)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.secret == "" {
		log.Error().Msg("webhook secret not configured, rejecting payment event")
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if err := VerifySignature(payload, r.Header.Get(SignatureHeader), h.secret, h.tolerance, h.clock.Now()); err != nil {
		log.Warn().Err(err).Msg("payment webhook signature rejected")
		if errors.Is(err, domain.ErrMissingSignature) {
			writeError(w, http.StatusBadRequest, "missing signature")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	event, err := ParseEvent(payload, h.clock.Now())
	if err != nil {
		log.Warn().Err(err).Msg("payment webhook payload rejected")
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := h.service.HandleEvent(ctx, event)
	if err != nil {
		// 事件已标记，渠道重试也不会再执行副作用，留给人工对账
		writeError(w, http.StatusInternalServerError, "event handling failed")
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: string(res.Disposition)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
