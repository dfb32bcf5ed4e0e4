package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.OrderView, error)
	UpdateContact(ctx context.Context, id string, c models.ContactUpdate) (*models.Order, error)
}

type PaymentManager interface {
	EnsureAuthorization(ctx context.Context, orderID string) (*models.Authorization, error)
	ApplyTip(ctx context.Context, orderID string, tip int64) (*models.TipResponse, error)
}

type Notifier interface {
	Notify(ctx context.Context, orderID string, m models.Milestone) (models.NotifyResult, error)
}

type MenuAvailability interface {
	List(ctx context.Context) ([]string, error)
	MarkUnavailable(ctx context.Context, itemID string) error
	MarkAvailable(ctx context.Context, itemID string) error
}

type Handler struct {
	OrderService OrderService
	Payments     PaymentManager
	Notifier     Notifier
	Menu         MenuAvailability
	Logger       *logger.Logger
}

func NewHandler(orderService OrderService, payments PaymentManager, notifier Notifier, menu MenuAvailability, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Payments:     payments,
		Notifier:     notifier,
		Menu:         menu,
		Logger:       log,
	}
}

// PublicRoutes are reachable by customers and intake channels.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{orderId}", h.GetOrder)
	r.Patch("/orders/{orderId}/contact", h.UpdateContact)
	r.Post("/orders/{orderId}/payment-intent", h.CreatePaymentIntent)
}

// StaffRoutes are mounted behind the staff authenticator.
func (h *Handler) StaffRoutes(r chi.Router) {
	r.Post("/orders/{orderId}/tip", h.ApplyTip)
	r.Post("/orders/{orderId}/notifications/{milestone}", h.ResendNotification)
	r.Get("/menu/unavailable", h.ListUnavailable)
	r.Put("/menu/unavailable/{itemId}", h.MarkUnavailable)
	r.Delete("/menu/unavailable/{itemId}", h.MarkAvailable)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "CreateOrder: received request")

	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateOrder: failed to decode request body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	order, err := h.OrderService.CreateOrder(r.Context(), req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateOrder: %v", err))
		utils.WriteError(w, err, "order could not be placed")
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Order created", models.OrderResponse{
		OrderID:       order.OrderID,
		OrderNumber:   order.OrderNumber,
		OrderStatus:   order.OrderStatus,
		PaymentStatus: order.PaymentStatus,
		TotalCharged:  order.TotalCharged,
	}))
	h.Logger.Info("API", fmt.Sprintf("CreateOrder: order %s created", order.OrderID))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("GetOrder: orderId=%s", orderID))

	view, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: %v", err))
		utils.WriteError(w, err, "order could not be loaded")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order", view))
}

func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("UpdateContact: orderId=%s", orderID))

	var req models.ContactUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	order, err := h.OrderService.UpdateContact(r.Context(), orderID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateContact: %v", err))
		utils.WriteError(w, err, "contact could not be updated")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Contact updated", order))
}

// ResendNotification triggers a milestone message by hand. The claim still
// applies, so a message already sent is not sent again.
func (h *Handler) ResendNotification(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	milestone, ok := models.ParseMilestone(chi.URLParam(r, "milestone"))
	if !ok {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid milestone", "expected paid, accepted or ready"))
		return
	}

	result, err := h.Notifier.Notify(r.Context(), orderID, milestone)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ResendNotification: order %s %s: %v", orderID, milestone, err))
		utils.WriteError(w, err, "notification could not be sent")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Notification processed", map[string]string{
		"order_id":  orderID,
		"milestone": string(milestone),
		"result":    string(result),
	}))
}
