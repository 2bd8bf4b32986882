package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/service"
)

// SignatureHeader may carry the signature instead of the payload field.
const SignatureHeader = "X-Gateway-Signature"

// WebhookHandler handles payment gateway callbacks.
type WebhookHandler struct {
	confirmer Confirmer
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(confirmer Confirmer, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{confirmer: confirmer, logger: logger}
}

// HandleGateway handles POST /webhooks/gateway. The payment is looked up by
// gateway order id; authenticity comes from the HMAC signature alone.
func (h *WebhookHandler) HandleGateway(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		h.logger.Error("read webhook body", "error", err)
		invalidBody(w)
		return
	}
	if len(body) > maxBodyBytes {
		h.logger.Warn("webhook body too large", "bytes", len(body))
		RespondError(w, domain.ErrValidation("request body too large"))
		return
	}

	var req service.ConfirmInput
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn("decode webhook body", "error", err)
		invalidBody(w)
		return
	}
	if req.Signature == "" {
		req.Signature = r.Header.Get(SignatureHeader)
	}

	result, err := h.confirmer.Confirm(r.Context(), req)
	if err != nil {
		h.logger.Error("process gateway webhook",
			"gateway_order_id", req.GatewayOrderID,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		RespondError(w, err)
		return
	}

	h.logger.Info("gateway webhook processed",
		"payment_id", result.PaymentID,
		"replayed", result.Replayed,
	)
	RespondJSON(w, http.StatusOK, result)
}
