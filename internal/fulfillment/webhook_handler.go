package fulfillment

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/utils"
)

// maxWebhookBytes matches the provider's documented payload ceiling.
const maxWebhookBytes = 65536

type WebhookHandler struct {
	Processor *Processor
	Logger    *logger.Logger
}

func NewWebhookHandler(p *Processor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{Processor: p, Logger: log}
}

// StripeWebhook handles webhook events from Stripe
func (h *WebhookHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "StripeWebhook: received webhook event")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid webhook payload", "could not read body"))
		return
	}

	err = h.Processor.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var webhookErr *WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Error("API", fmt.Sprintf("StripeWebhook: category=%s status=%d: %s",
				webhookErr.Category, webhookErr.StatusCode, webhookErr.InternalError))
			utils.WriteJSON(w, webhookErr.StatusCode, utils.ErrorResponse(webhookErr.PublicError, webhookErr.Category))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: failed to process webhook: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Webhook processing error", "internal"))
		return
	}

	h.Logger.Info("API", "StripeWebhook: successfully processed webhook event")
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Webhook received", map[string]bool{"received": true}))
}
