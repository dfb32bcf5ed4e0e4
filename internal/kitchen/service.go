// Package kitchen turns paid orders into kitchen tickets and moves them
// through new, in_progress and done.
package kitchen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

type TicketStore interface {
	InsertTicket(ctx context.Context, ticket *models.KitchenTicket) (*models.KitchenTicket, bool, error)
	InsertItems(ctx context.Context, items []*models.KitchenTicketItem) (int64, error)
	GetTicket(ctx context.Context, ticketID string) (*models.KitchenTicket, error)
	TicketForOrder(ctx context.Context, orderID string) (*models.KitchenTicket, error)
	ListActive(ctx context.Context, station string) ([]*models.KitchenTicket, error)
	AdvanceStatus(ctx context.Context, ticketID string, from, to models.TicketStatus) (bool, error)
}

type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderWithItems(ctx context.Context, id string) (*models.Order, error)
	AdvanceStatus(ctx context.Context, id string, to models.OrderStatus, from ...models.OrderStatus) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, orderID string, m models.Milestone) (models.NotifyResult, error)
}

type TicketPublisher interface {
	PublishTicketEvent(ctx context.Context, event models.TicketEvent) error
}

type OrderPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

type Service struct {
	Tickets     TicketStore
	Orders      OrderStore
	Notifier    Notifier
	Events      TicketPublisher
	OrderEvents OrderPublisher
	logger      *logger.Logger
}

func NewService(tickets TicketStore, orders OrderStore, notifier Notifier, events TicketPublisher, orderEvents OrderPublisher, log *logger.Logger) *Service {
	return &Service{
		Tickets:     tickets,
		Orders:      orders,
		Notifier:    notifier,
		Events:      events,
		OrderEvents: orderEvents,
		logger:      log,
	}
}

// Materialize creates the order's ticket and links every order line to it.
// Calling it again for the same order returns the existing ticket and fills
// in any lines a previous attempt missed.
func (s *Service) Materialize(ctx context.Context, orderID string) (*models.KitchenTicket, error) {
	order, err := s.Orders.GetOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, materializeErr(orderID, err)
	}
	if !order.IsPaid() && order.PaymentChoice != models.PayAtPickup {
		return nil, models.NewError(models.KindConflict, "order "+orderID+" is not paid", nil)
	}

	now := utils.Now()
	ticket, created, err := s.Tickets.InsertTicket(ctx, &models.KitchenTicket{
		TicketID:    utils.NewID(),
		OrderID:     order.OrderID,
		OrderNumber: order.OrderNumber,
		Station:     models.StationKitchen,
		Status:      models.TicketStatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, materializeErr(orderID, err)
	}

	if len(order.Items) == 0 {
		s.logger.Warn("KITCHEN", fmt.Sprintf("Data integrity: order %s has no items, ticket %s is empty", orderID, ticket.TicketID))
	}

	items := make([]*models.KitchenTicketItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, &models.KitchenTicketItem{
			ID:           utils.NewID(),
			TicketID:     ticket.TicketID,
			OrderItemID:  it.ID,
			DisplayName:  it.Name,
			Quantity:     it.Quantity,
			Modifiers:    it.Options,
			Instructions: it.Instructions,
			Status:       ticket.Status,
		})
	}
	inserted, err := s.Tickets.InsertItems(ctx, items)
	if err != nil {
		return nil, materializeErr(orderID, err)
	}

	ticket, err = s.Tickets.GetTicket(ctx, ticket.TicketID)
	if err != nil {
		return nil, materializeErr(orderID, err)
	}

	if created {
		s.logger.LogKitchen("CREATE", ticket.TicketID, fmt.Sprintf("order %s #%d with %d items", orderID, order.OrderNumber, inserted))
		s.publish(ctx, models.NewTicketEvent(models.EventTicketCreated, ticket, ""))
	} else if inserted > 0 {
		s.logger.LogKitchen("REPAIR", ticket.TicketID, fmt.Sprintf("linked %d missing items", inserted))
	}
	return ticket, nil
}

func materializeErr(orderID string, err error) error {
	var domainErr *models.Error
	if errors.As(err, &domainErr) && domainErr.Kind == models.KindNotFound {
		return err
	}
	return models.NewError(models.KindTicketMaterializationFailed, "materialize ticket for order "+orderID, err)
}

// TicketForOrder returns nil without error when the order has no ticket.
func (s *Service) TicketForOrder(ctx context.Context, orderID string) (*models.KitchenTicket, error) {
	ticket, err := s.Tickets.TicketForOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return ticket, err
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (*models.KitchenTicket, error) {
	return s.Tickets.GetTicket(ctx, ticketID)
}

func (s *Service) ListActive(ctx context.Context, station string) ([]*models.KitchenTicket, error) {
	return s.Tickets.ListActive(ctx, strings.TrimSpace(station))
}

// Advance moves the ticket one step forward. A done ticket is returned
// unchanged, and so is a ticket another caller advanced first.
func (s *Service) Advance(ctx context.Context, ticketID string) (*models.KitchenTicket, error) {
	ticket, err := s.Tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	next, ok := ticket.Status.Next()
	if !ok {
		return ticket, nil
	}

	moved, err := s.Tickets.AdvanceStatus(ctx, ticketID, ticket.Status, next)
	if err != nil {
		return nil, fmt.Errorf("advance ticket %s: %w", ticketID, err)
	}
	previous := ticket.Status
	ticket, err = s.Tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !moved {
		s.logger.LogKitchen("ADVANCE_SKIPPED", ticketID, fmt.Sprintf("already moved to %s", ticket.Status))
		return ticket, nil
	}

	s.logger.LogKitchen("ADVANCE", ticketID, fmt.Sprintf("%s -> %s", previous, next))
	s.publish(ctx, models.NewTicketEvent(models.EventTicketStatusChanged, ticket, previous))
	s.orderMilestone(ctx, ticket.OrderID, next)
	return ticket, nil
}

// orderMilestone mirrors a ticket step onto the order and notifies the
// customer. Failures are logged; the kitchen step stands.
func (s *Service) orderMilestone(ctx context.Context, orderID string, status models.TicketStatus) {
	var (
		to        models.OrderStatus
		from      []models.OrderStatus
		milestone models.Milestone
		eventType string
	)
	switch status {
	case models.TicketStatusInProgress:
		to, milestone, eventType = models.OrderStatusAccepted, models.MilestoneAccepted, models.EventOrderAccepted
		from = []models.OrderStatus{models.OrderStatusNew, models.OrderStatusPaid}
	case models.TicketStatusDone:
		to, milestone, eventType = models.OrderStatusReady, models.MilestoneReady, models.EventOrderReady
		from = []models.OrderStatus{models.OrderStatusNew, models.OrderStatusPaid, models.OrderStatusAccepted}
	default:
		return
	}

	changed, err := s.Orders.AdvanceStatus(ctx, orderID, to, from...)
	if err != nil {
		s.logger.Error("KITCHEN", fmt.Sprintf("Order %s status -> %s failed: %v", orderID, to, err))
		return
	}
	if changed && s.OrderEvents != nil {
		if order, err := s.Orders.GetOrderByID(ctx, orderID); err == nil {
			if err := s.OrderEvents.PublishOrderEvent(ctx, models.NewOrderEvent(eventType, order)); err != nil {
				s.logger.Error("KAFKA", fmt.Sprintf("Publish %s for order %s failed: %v", eventType, orderID, err))
			}
		}
	}

	if s.Notifier == nil {
		return
	}
	result, err := s.Notifier.Notify(ctx, orderID, milestone)
	if err != nil {
		s.logger.Error("NOTIFY", fmt.Sprintf("Notify %s for order %s failed: %v", milestone, orderID, err))
		return
	}
	s.logger.LogNotify(string(milestone), orderID, string(result))
}

func (s *Service) publish(ctx context.Context, event models.TicketEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishTicketEvent(ctx, event); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("Publish %s for ticket %s failed: %v", event.Type, event.TicketID, err))
	}
}
