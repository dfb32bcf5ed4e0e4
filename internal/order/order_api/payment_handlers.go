package order_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

// CreatePaymentIntent returns the order's authorization, creating it on the
// first call.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("CreatePaymentIntent: orderId=%s", orderID))

	auth, err := h.Payments.EnsureAuthorization(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreatePaymentIntent: failed to create payment intent: %v", err))
		utils.WriteError(w, err, "payment could not be confirmed")
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment intent ready", models.AuthorizationResponse{
		PaymentIntentID: auth.ID,
		ClientSecret:    auth.ClientSecret,
		Amount:          auth.Amount,
	}))
	h.Logger.Info("API", fmt.Sprintf("CreatePaymentIntent: payment intent %s for order %s", auth.ID, orderID))
}

func (h *Handler) ApplyTip(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req models.TipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("ApplyTip: orderId=%s tip=%d", orderID, req.TipCents))

	resp, err := h.Payments.ApplyTip(r.Context(), orderID, req.TipCents)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ApplyTip: %v", err))
		utils.WriteError(w, err, "tip could not be applied")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tip applied", resp))
}
