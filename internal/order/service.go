package order

import (
	"context"
	"fmt"
	"strings"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/pricing"
	"ms-fulfillment/internal/utils"
)

type DBLayer interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	InsertItems(ctx context.Context, items []*models.OrderItem) error
	DeleteOrder(ctx context.Context, orderID string) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderWithItems(ctx context.Context, id string) (*models.Order, error)
	UpdateContact(ctx context.Context, id string, c models.ContactUpdate) (bool, error)
}

// AvailabilityChecker reports which requested lines are on the 86-list.
type AvailabilityChecker interface {
	UnavailableItems(ctx context.Context, items []models.OrderItemRequest) ([]string, error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// TicketSource materializes and looks up kitchen tickets.
type TicketSource interface {
	Materialize(ctx context.Context, orderID string) (*models.KitchenTicket, error)
	TicketForOrder(ctx context.Context, orderID string) (*models.KitchenTicket, error)
}

type OrderService struct {
	DB           DBLayer
	Availability AvailabilityChecker
	Events       EventPublisher
	Tickets      TicketSource
	Pricing      pricing.Policy
	logger       *logger.Logger
}

func NewOrderService(db DBLayer, availability AvailabilityChecker, events EventPublisher, tickets TicketSource, policy pricing.Policy, log *logger.Logger) *OrderService {
	return &OrderService{
		DB:           db,
		Availability: availability,
		Events:       events,
		Tickets:      tickets,
		Pricing:      policy,
		logger:       log,
	}
}

// validateRequest applies the struct tags plus the rules that depend on
// other fields.
func validateRequest(req *models.OrderRequest) error {
	if err := models.ValidateStruct(req); err != nil {
		return err
	}
	if req.PaymentChoice == models.PayNow && strings.TrimSpace(req.Customer.Email) == "" {
		return models.ValidationError("customer.email is required when paying now")
	}
	if req.Pickup.Mode == models.PickupScheduled && (req.Pickup.ScheduledAt == nil || req.Pickup.ScheduledAt.IsZero()) {
		return models.ValidationError("pickup.scheduled_at is required for scheduled pickup")
	}
	return nil
}

// CreateOrder validates, prices and persists an order with its lines. No row
// survives a failed call.
func (s *OrderService) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	if s.Availability != nil {
		names, err := s.Availability.UnavailableItems(ctx, req.Items)
		if err != nil {
			s.logger.Warn("ORDER", fmt.Sprintf("86-list unavailable, accepting order without check: %v", err))
		} else if len(names) > 0 {
			s.logger.LogOrder("REJECT", "-", "unavailable items: "+strings.Join(names, ", "))
			return nil, models.ItemsUnavailableError(names)
		}
	}

	breakdown := s.Pricing.Compute(req.Items)
	now := utils.Now()

	order := &models.Order{
		OrderID:       utils.NewOrderID(),
		Source:        req.Source,
		CustomerName:  strings.TrimSpace(req.Customer.Name),
		CustomerPhone: strings.TrimSpace(req.Customer.Phone),
		CustomerEmail: strings.TrimSpace(req.Customer.Email),
		SMSOptIn:      req.Customer.SMSOptIn,
		PaymentChoice: req.PaymentChoice,
		Subtotal:      breakdown.Subtotal,
		Tax:           breakdown.Tax,
		ServiceFee:    breakdown.ServiceFee,
		TotalCharged:  breakdown.TotalCharged,
		TaxRateBps:    s.Pricing.TaxRateBps,
		ServiceFeeBps: s.Pricing.ServiceFeeBps,
		PickupMode:    req.Pickup.Mode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.Source == "" {
		order.Source = models.SourceWeb
	}
	if req.Pickup.Mode == models.PickupScheduled {
		at := req.Pickup.ScheduledAt.UTC()
		order.PickupScheduledAt = &at
	}
	if req.PaymentChoice == models.PayAtPickup {
		order.OrderStatus = models.OrderStatusNew
		order.PaymentStatus = models.PaymentStatusNeedsPayment
	} else {
		order.OrderStatus = models.OrderStatusDraft
		order.PaymentStatus = models.PaymentStatusUnpaid
	}

	if err := s.DB.CreateOrder(ctx, order); err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("Failed to create order: %v", err))
		return nil, fmt.Errorf("create order: %w", err)
	}

	items := make([]*models.OrderItem, 0, len(req.Items))
	for i, it := range req.Items {
		items = append(items, &models.OrderItem{
			ID:           utils.NewID(),
			OrderID:      order.OrderID,
			Position:     i,
			MenuItemID:   it.MenuItemID,
			Name:         strings.TrimSpace(it.Name),
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			LineSubtotal: pricing.LineSubtotal(it.UnitPrice, it.Quantity),
			Options:      it.Options,
			Instructions: it.Instructions,
		})
	}

	if err := s.DB.InsertItems(ctx, items); err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("Failed to insert items for order %s: %v. Deleting header.", order.OrderID, err))
		if delErr := s.DB.DeleteOrder(context.WithoutCancel(ctx), order.OrderID); delErr != nil {
			s.logger.Error("ORDER", fmt.Sprintf("Compensating delete failed for order %s: %v", order.OrderID, delErr))
		} else {
			s.logger.LogDatabase("DELETE", "orders", "compensating delete of "+order.OrderID)
		}
		return nil, models.NewError(models.KindItemInsertFailed, "insert order items", err)
	}
	order.Items = items

	s.logger.LogOrder("CREATE", order.OrderID, fmt.Sprintf("#%d %s total=%d", order.OrderNumber, order.PaymentChoice, order.TotalCharged))

	// counter-paid orders go to the kitchen straight away
	if order.PaymentChoice == models.PayAtPickup && s.Tickets != nil {
		if _, err := s.Tickets.Materialize(ctx, order.OrderID); err != nil {
			s.logger.Error("KITCHEN", fmt.Sprintf("Ticket materialization failed for pay-at-pickup order %s: %v", order.OrderID, err))
		}
	}

	s.publish(ctx, models.EventOrderCreated, order)
	return order, nil
}

func (s *OrderService) publish(ctx context.Context, eventType string, order *models.Order) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishOrderEvent(ctx, models.NewOrderEvent(eventType, order)); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("Publish %s for order %s failed: %v", eventType, order.OrderID, err))
	}
}

// GetOrder returns the order, its lines and the ticket status if one exists.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.OrderView, error) {
	order, err := s.DB.GetOrderWithItems(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &models.OrderView{Order: order}
	if s.Tickets != nil {
		ticket, err := s.Tickets.TicketForOrder(ctx, id)
		if err != nil {
			s.logger.Warn("KITCHEN", fmt.Sprintf("Ticket lookup for order %s failed: %v", id, err))
		} else if ticket != nil {
			view.TicketStatus = ticket.Status
		}
	}
	return view, nil
}

// UpdateContact changes name, phone and SMS consent before payment is
// confirmed. Money fields are never touched.
func (s *OrderService) UpdateContact(ctx context.Context, id string, c models.ContactUpdate) (*models.Order, error) {
	if err := models.ValidateStruct(&c); err != nil {
		return nil, err
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)

	ok, err := s.DB.UpdateContact(ctx, id, c)
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	order, err := s.DB.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewError(models.KindConflict, "contact can no longer be changed for a paid order", nil)
	}
	s.logger.LogOrder("CONTACT", id, "contact updated")
	return order, nil
}
