package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderStatusDraft         OrderStatus = "draft"
	OrderStatusNew           OrderStatus = "new"
	OrderStatusPaid          OrderStatus = "paid"
	OrderStatusAccepted      OrderStatus = "accepted"
	OrderStatusReady         OrderStatus = "ready"
	OrderStatusVoided        OrderStatus = "voided"
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	OrderStatusError         OrderStatus = "error"
)

type PaymentStatus string

const (
	PaymentStatusDraft        PaymentStatus = "draft"
	PaymentStatusUnpaid       PaymentStatus = "unpaid"
	PaymentStatusPending      PaymentStatus = "pending"
	PaymentStatusNeedsPayment PaymentStatus = "needs_payment"
	PaymentStatusPaid         PaymentStatus = "paid"
	PaymentStatusFailed       PaymentStatus = "failed"
)

type PaymentChoice string

const (
	PayNow      PaymentChoice = "pay_now"
	PayAtPickup PaymentChoice = "pay_at_pickup"
)

type PickupMode string

const (
	PickupASAP      PickupMode = "asap"
	PickupScheduled PickupMode = "scheduled"
)

type OrderSource string

const (
	SourceWeb   OrderSource = "web"
	SourcePhone OrderSource = "phone"
	SourceKiosk OrderSource = "kiosk"
)

// Order is the persisted order header. Money fields are minor currency units.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID     string      `bun:"order_id,pk" json:"order_id"`
	OrderNumber int64       `bun:"order_number,notnull,unique" json:"order_number"`
	Source      OrderSource `bun:"source,notnull" json:"source"`

	CustomerName  string        `bun:"customer_name,notnull" json:"customer_name"`
	CustomerPhone string        `bun:"customer_phone" json:"customer_phone,omitempty"`
	CustomerEmail string        `bun:"customer_email" json:"customer_email,omitempty"`
	SMSOptIn      bool          `bun:"sms_opt_in,notnull,default:false" json:"sms_opt_in"`
	PaymentChoice PaymentChoice `bun:"payment_choice,notnull" json:"payment_choice"`

	Subtotal       int64 `bun:"subtotal,notnull" json:"subtotal"`
	Tax            int64 `bun:"tax,notnull" json:"tax"`
	ServiceFee     int64 `bun:"service_fee,notnull" json:"service_fee"`
	Tip            int64 `bun:"tip,notnull,default:0" json:"tip"`
	TotalCharged   int64 `bun:"total_charged,notnull" json:"total_charged"`
	AmountCaptured int64 `bun:"amount_captured,notnull,default:0" json:"amount_captured"`
	TaxRateBps     int64 `bun:"tax_rate_bps,notnull" json:"tax_rate_bps"`
	ServiceFeeBps  int64 `bun:"service_fee_bps,notnull" json:"service_fee_bps"`

	OrderStatus       OrderStatus   `bun:"order_status,notnull" json:"order_status"`
	PaymentStatus     PaymentStatus `bun:"payment_status,notnull" json:"payment_status"`
	PickupMode        PickupMode    `bun:"pickup_mode,notnull" json:"pickup_mode"`
	PickupScheduledAt *time.Time    `bun:"pickup_scheduled_at,nullzero" json:"pickup_scheduled_at,omitempty"`
	PaymentIntentID   string        `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`

	PaidNotifiedAt     *time.Time `bun:"paid_notified_at,nullzero" json:"paid_notified_at,omitempty"`
	AcceptedNotifiedAt *time.Time `bun:"accepted_notified_at,nullzero" json:"accepted_notified_at,omitempty"`
	ReadyNotifiedAt    *time.Time `bun:"ready_notified_at,nullzero" json:"ready_notified_at,omitempty"`

	PaidAt    *time.Time `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	CreatedAt time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time  `bun:"updated_at,notnull" json:"updated_at"`

	Items []*OrderItem `bun:"rel:has-many,join:order_id=order_id" json:"items,omitempty"`
}

// ExpectedTotal is the sum the order total must equal before capture.
func (o *Order) ExpectedTotal() int64 {
	return o.Subtotal + o.Tax + o.ServiceFee + o.Tip
}

// BaseAmount is the pre-tip amount.
func (o *Order) BaseAmount() int64 {
	return o.Subtotal + o.Tax + o.ServiceFee
}

func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// OrderItem is a single order line. Immutable after insert.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID           string `bun:"id,pk" json:"id"`
	OrderID      string `bun:"order_id,notnull" json:"order_id"`
	Position     int    `bun:"position,notnull" json:"position"`
	MenuItemID   string `bun:"menu_item_id" json:"menu_item_id,omitempty"`
	Name         string `bun:"name,notnull" json:"name"`
	Quantity     int64  `bun:"quantity,notnull" json:"quantity"`
	UnitPrice    int64  `bun:"unit_price,notnull" json:"unit_price"`
	LineSubtotal int64  `bun:"line_subtotal,notnull" json:"line_subtotal"`
	Options      string `bun:"options" json:"options,omitempty"`
	Instructions string `bun:"instructions" json:"instructions,omitempty"`
}

// OrderRequest is the intake payload accepted from web, phone and kiosk channels.
type OrderRequest struct {
	Source        OrderSource        `json:"source" validate:"omitempty,oneof=web phone kiosk"`
	Customer      CustomerRequest    `json:"customer" validate:"required"`
	Pickup        PickupRequest      `json:"pickup" validate:"required"`
	PaymentChoice PaymentChoice      `json:"payment_choice" validate:"required,oneof=pay_now pay_at_pickup"`
	Items         []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type CustomerRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Email    string `json:"email" validate:"omitempty,email"`
	SMSOptIn bool   `json:"sms_opt_in"`
}

type PickupRequest struct {
	Mode        PickupMode `json:"mode" validate:"required,oneof=asap scheduled"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type OrderItemRequest struct {
	MenuItemID   string `json:"menu_item_id"`
	Name         string `json:"name" validate:"required"`
	Quantity     int64  `json:"quantity" validate:"required,gte=1"`
	UnitPrice    int64  `json:"unit_price" validate:"gte=0"`
	Options      string `json:"options,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type ContactUpdate struct {
	Name     string `json:"name" validate:"required,max=120"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	SMSOptIn bool   `json:"sms_opt_in"`
}

type OrderResponse struct {
	OrderID         string        `json:"order_id"`
	OrderNumber     int64         `json:"order_number"`
	OrderStatus     OrderStatus   `json:"order_status"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	TotalCharged    int64         `json:"total_charged"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	ClientSecret    string        `json:"client_secret,omitempty"`
}

// OrderView is an order with its items and the kitchen ticket status, if any.
type OrderView struct {
	Order        *Order       `json:"order"`
	TicketStatus TicketStatus `json:"ticket_status,omitempty"`
}
