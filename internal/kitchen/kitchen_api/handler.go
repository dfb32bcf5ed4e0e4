package kitchen_api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/sse"
	"ms-fulfillment/internal/utils"
)

type KitchenService interface {
	ListActive(ctx context.Context, station string) ([]*models.KitchenTicket, error)
	GetTicket(ctx context.Context, ticketID string) (*models.KitchenTicket, error)
	TicketForOrder(ctx context.Context, orderID string) (*models.KitchenTicket, error)
	Advance(ctx context.Context, ticketID string) (*models.KitchenTicket, error)
}

type Handler struct {
	Kitchen KitchenService
	Board   *sse.KitchenBoardEmitter
	Logger  *logger.Logger
}

func NewHandler(kitchen KitchenService, board *sse.KitchenBoardEmitter, log *logger.Logger) *Handler {
	return &Handler{
		Kitchen: kitchen,
		Board:   board,
		Logger:  log,
	}
}

// Routes mounts the kitchen board endpoints. All of them are staff only.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/kitchen/tickets", h.ListTickets)
	r.Get("/kitchen/tickets/{ticketId}", h.GetTicket)
	r.Post("/kitchen/tickets/{ticketId}/advance", h.AdvanceTicket)
	r.Get("/kitchen/orders/{orderId}/ticket", h.TicketForOrder)
	if h.Board != nil {
		r.Get("/kitchen/stream", h.Stream)
	}
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	station := r.URL.Query().Get("station")

	tickets, err := h.Kitchen.ListActive(r.Context(), station)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListTickets: %v", err))
		utils.WriteError(w, err, "tickets could not be loaded")
		return
	}
	if tickets == nil {
		tickets = []*models.KitchenTicket{}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Active tickets", tickets))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Kitchen.GetTicket(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		utils.WriteError(w, err, "ticket could not be loaded")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket", ticket))
}

func (h *Handler) TicketForOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ticket, err := h.Kitchen.TicketForOrder(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketForOrder: %v", err))
		utils.WriteError(w, err, "ticket could not be loaded")
		return
	}
	if ticket == nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("No ticket", "order "+orderID+" has no kitchen ticket yet"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket", ticket))
}

// AdvanceTicket moves a ticket one step. Repeating the call on a done ticket
// returns it unchanged.
func (h *Handler) AdvanceTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	h.Logger.Info("API", fmt.Sprintf("AdvanceTicket: ticketId=%s", ticketID))

	ticket, err := h.Kitchen.Advance(r.Context(), ticketID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("AdvanceTicket: %v", err))
		utils.WriteError(w, err, "ticket could not be advanced")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket advanced", ticket))
}
