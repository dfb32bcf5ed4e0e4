package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "new"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusDone       TicketStatus = "done"
)

const StationKitchen = "kitchen"

// Next returns the following status and false when s is terminal.
func (s TicketStatus) Next() (TicketStatus, bool) {
	switch s {
	case TicketStatusNew:
		return TicketStatusInProgress, true
	case TicketStatusInProgress:
		return TicketStatusDone, true
	default:
		return s, false
	}
}

// KitchenTicket is the kitchen work item for an order. One per order.
type KitchenTicket struct {
	bun.BaseModel `bun:"table:kitchen_tickets"`

	TicketID    string       `bun:"ticket_id,pk" json:"ticket_id"`
	OrderID     string       `bun:"order_id,notnull,unique" json:"order_id"`
	OrderNumber int64        `bun:"order_number,notnull" json:"order_number"`
	Station     string       `bun:"station,notnull" json:"station"`
	Status      TicketStatus `bun:"status,notnull" json:"status"`
	CreatedAt   time.Time    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time    `bun:"updated_at,notnull" json:"updated_at"`

	Items []*KitchenTicketItem `bun:"rel:has-many,join:ticket_id=ticket_id" json:"items,omitempty"`
}

// KitchenTicketItem references exactly one order item, so a line is never
// claimed by two tickets.
type KitchenTicketItem struct {
	bun.BaseModel `bun:"table:kitchen_ticket_items"`

	ID           string       `bun:"id,pk" json:"id"`
	TicketID     string       `bun:"ticket_id,notnull" json:"ticket_id"`
	OrderItemID  string       `bun:"order_item_id,notnull,unique" json:"order_item_id"`
	DisplayName  string       `bun:"display_name,notnull" json:"display_name"`
	Quantity     int64        `bun:"quantity,notnull" json:"quantity"`
	Modifiers    string       `bun:"modifiers" json:"modifiers,omitempty"`
	Instructions string       `bun:"instructions" json:"instructions,omitempty"`
	Status       TicketStatus `bun:"status,notnull" json:"status"`
}
