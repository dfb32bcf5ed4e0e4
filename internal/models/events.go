package models

import "time"

// Event types carried on the orders and kitchen topics.
const (
	EventOrderCreated        = "order.created"
	EventOrderPaid           = "order.paid"
	EventOrderPaymentFailed  = "order.payment_failed"
	EventOrderAccepted       = "order.accepted"
	EventOrderReady          = "order.ready"
	EventTicketCreated       = "ticket.created"
	EventTicketStatusChanged = "ticket.status_changed"
)

// OrderEvent is published whenever an order changes lifecycle state.
type OrderEvent struct {
	Type          string        `json:"type"`
	OrderID       string        `json:"order_id"`
	OrderNumber   int64         `json:"order_number"`
	OrderStatus   OrderStatus   `json:"order_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalCharged  int64         `json:"total_charged"`
	Tip           int64         `json:"tip"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

func NewOrderEvent(eventType string, o *Order) OrderEvent {
	return OrderEvent{
		Type:          eventType,
		OrderID:       o.OrderID,
		OrderNumber:   o.OrderNumber,
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		TotalCharged:  o.TotalCharged,
		Tip:           o.Tip,
		OccurredAt:    time.Now().UTC(),
	}
}

// TicketEvent feeds the kitchen board. Display fields are denormalized so
// consumers never need a join.
type TicketEvent struct {
	Type        string         `json:"type"`
	TicketID    string         `json:"ticket_id"`
	OrderID     string         `json:"order_id"`
	OrderNumber int64          `json:"order_number"`
	Station     string         `json:"station"`
	Status      TicketStatus   `json:"status"`
	Previous    TicketStatus   `json:"previous_status,omitempty"`
	Ticket      *KitchenTicket `json:"ticket,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func NewTicketEvent(eventType string, t *KitchenTicket, previous TicketStatus) TicketEvent {
	return TicketEvent{
		Type:        eventType,
		TicketID:    t.TicketID,
		OrderID:     t.OrderID,
		OrderNumber: t.OrderNumber,
		Station:     t.Station,
		Status:      t.Status,
		Previous:    previous,
		Ticket:      t,
		OccurredAt:  time.Now().UTC(),
	}
}
