package models

import (
	"strconv"
	"time"
)

// Metadata keys attached to an authorization and read back from provider events.
const (
	MetaOrderID    = "orderId"
	MetaTip        = "tip"
	MetaBaseAmount = "base_amount"
)

// CorrelationContext ties an asynchronous provider event back to an order.
type CorrelationContext struct {
	OrderID    string
	Tip        int64
	BaseAmount int64
	HasBase    bool
}

func (c CorrelationContext) Metadata() map[string]string {
	m := map[string]string{
		MetaOrderID: c.OrderID,
		MetaTip:     strconv.FormatInt(c.Tip, 10),
	}
	if c.HasBase {
		m[MetaBaseAmount] = strconv.FormatInt(c.BaseAmount, 10)
	}
	return m
}

// CorrelationFromMetadata reads the context verbatim. Unparseable numbers
// are treated as absent.
func CorrelationFromMetadata(m map[string]string) CorrelationContext {
	c := CorrelationContext{OrderID: m[MetaOrderID]}
	if v, ok := m[MetaTip]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			c.Tip = n
		}
	}
	if v, ok := m[MetaBaseAmount]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			c.BaseAmount = n
			c.HasBase = true
		}
	}
	return c
}

type AuthorizationStatus string

const (
	AuthRequiresPaymentMethod AuthorizationStatus = "requires_payment_method"
	AuthRequiresConfirmation  AuthorizationStatus = "requires_confirmation"
	AuthRequiresAction        AuthorizationStatus = "requires_action"
	AuthProcessing            AuthorizationStatus = "processing"
	AuthRequiresCapture       AuthorizationStatus = "requires_capture"
	AuthCanceled              AuthorizationStatus = "canceled"
	AuthSucceeded             AuthorizationStatus = "succeeded"
)

// Finalized reports whether the amount can no longer change.
func (s AuthorizationStatus) Finalized() bool {
	return s == AuthSucceeded || s == AuthCanceled || s == AuthProcessing
}

// Authorization is the provider's reserved charge for an order.
type Authorization struct {
	ID           string              `json:"id"`
	ClientSecret string              `json:"client_secret,omitempty"`
	Amount       int64               `json:"amount"`
	Currency     string              `json:"currency"`
	Status       AuthorizationStatus `json:"status"`
	Correlation  CorrelationContext  `json:"-"`
}

type PaymentEventType string

const (
	PaymentSucceeded PaymentEventType = "payment_intent.succeeded"
	PaymentFailed    PaymentEventType = "payment_intent.payment_failed"
)

// PaymentEvent is a verified provider event.
type PaymentEvent struct {
	ID              string
	Type            PaymentEventType
	AuthorizationID string
	Amount          int64
	Correlation     CorrelationContext
	ReceivedAt      time.Time
}

type AuthorizationResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
}

type TipRequest struct {
	TipCents int64 `json:"tip_cents"`
}

type TipResponse struct {
	OrderID      string `json:"order_id"`
	Tip          int64  `json:"tip"`
	TotalCharged int64  `json:"total_charged"`
}
