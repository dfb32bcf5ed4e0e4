// Package fulfillment applies payment outcome events to orders and drives
// the kitchen and notification steps that follow a successful payment.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

// EventParser authenticates and decodes a raw provider delivery.
type EventParser interface {
	ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error)
}

type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	MarkPaid(ctx context.Context, id string, base, tip, captured int64, at time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string) (bool, error)
}

type TicketMaterializer interface {
	Materialize(ctx context.Context, orderID string) (*models.KitchenTicket, error)
}

type Notifier interface {
	Notify(ctx context.Context, orderID string, m models.Milestone) (models.NotifyResult, error)
}

type OrderPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error { return e.OriginalErr }

type Processor struct {
	Parser   EventParser
	Orders   OrderStore
	Tickets  TicketMaterializer
	Notifier Notifier
	Events   OrderPublisher
	Timeout  time.Duration
	logger   *logger.Logger
}

func NewProcessor(parser EventParser, orders OrderStore, tickets TicketMaterializer, notifier Notifier, events OrderPublisher, timeout time.Duration, log *logger.Logger) *Processor {
	return &Processor{
		Parser:   parser,
		Orders:   orders,
		Tickets:  tickets,
		Notifier: notifier,
		Events:   events,
		Timeout:  timeout,
		logger:   log,
	}
}

// HandleWebhook verifies the delivery and applies it. A nil return means the
// provider should get a 2xx; a *WebhookError carries the status otherwise.
func (p *Processor) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if p.Parser == nil {
		p.logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "webhook parser is not configured",
		}
	}

	event, err := p.Parser.ParseWebhook(payload, signature)
	if err != nil {
		status, msg := http.StatusBadRequest, "Invalid webhook payload"
		if errors.Is(err, models.ErrSignatureInvalid) {
			msg = "Webhook signature verification failed"
		}
		return &WebhookError{
			Category:      "validation",
			StatusCode:    status,
			PublicError:   msg,
			InternalError: fmt.Sprintf("%s: %v", msg, err),
			OriginalErr:   err,
		}
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	return p.Process(ctx, event)
}

// Process applies a verified event. Only recording the payment outcome can
// fail the delivery; ticket and notification failures are logged.
func (p *Processor) Process(ctx context.Context, event *models.PaymentEvent) error {
	p.logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event %s: %s", event.ID, event.Type))

	switch event.Type {
	case models.PaymentSucceeded:
		return p.paymentSucceeded(ctx, event)
	case models.PaymentFailed:
		return p.paymentFailed(ctx, event)
	default:
		p.logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
		return nil
	}
}

func missingOrderID(event *models.PaymentEvent) error {
	return &WebhookError{
		Category:      "validation",
		StatusCode:    http.StatusBadRequest,
		PublicError:   "Invalid payment intent data",
		InternalError: fmt.Sprintf("payment intent %s has no orderId in metadata", event.AuthorizationID),
	}
}

func recordFailed(orderID string, err error) error {
	return &WebhookError{
		Category:      "processing",
		StatusCode:    http.StatusInternalServerError,
		PublicError:   "Failed to process payment",
		InternalError: fmt.Sprintf("record payment outcome for order %s: %v", orderID, err),
		OriginalErr:   err,
	}
}

func (p *Processor) paymentSucceeded(ctx context.Context, event *models.PaymentEvent) error {
	corr := event.Correlation
	if corr.OrderID == "" {
		p.logger.Error("WEBHOOK", "Payment intent has no orderId in metadata")
		return missingOrderID(event)
	}
	orderID := corr.OrderID

	tip := corr.Tip
	base := event.Amount - tip
	if corr.HasBase {
		base = corr.BaseAmount
		if base+tip != event.Amount {
			p.logger.Warn("WEBHOOK", fmt.Sprintf("Order %s captured %d but base %d + tip %d = %d", orderID, event.Amount, base, tip, base+tip))
		}
	}

	recorded, err := p.Orders.MarkPaid(ctx, orderID, base, tip, event.Amount, utils.Now())
	if err != nil {
		p.logger.Error("WEBHOOK", fmt.Sprintf("Failed to mark order %s paid: %v", orderID, err))
		return recordFailed(orderID, err)
	}

	order, err := p.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// redelivery cannot fix an unknown order
			p.logger.Warn("WEBHOOK", fmt.Sprintf("Payment %s references unknown order %s", event.AuthorizationID, orderID))
			return nil
		}
		return recordFailed(orderID, err)
	}

	if recorded {
		p.logger.LogPayment("PAID", event.AuthorizationID, fmt.Sprintf("order %s base %d tip %d captured %d", orderID, base, tip, event.Amount))
		p.publish(ctx, models.EventOrderPaid, order)
	} else {
		p.logger.Info("WEBHOOK", fmt.Sprintf("Order %s already paid, re-running downstream steps", orderID))
	}

	// both steps are idempotent, so a redelivery also repairs a partial earlier run
	if p.Tickets != nil {
		if _, err := p.Tickets.Materialize(ctx, orderID); err != nil {
			p.logger.Error("KITCHEN", fmt.Sprintf("Ticket materialization failed for order %s: %v", orderID, err))
		}
	}
	if p.Notifier != nil {
		result, err := p.Notifier.Notify(ctx, orderID, models.MilestonePaid)
		if err != nil {
			p.logger.Error("NOTIFY", fmt.Sprintf("Paid notification for order %s failed: %v", orderID, err))
		} else {
			p.logger.LogNotify(string(models.MilestonePaid), orderID, string(result))
		}
	}

	p.logger.Info("WEBHOOK", fmt.Sprintf("Successfully processed payment for order %s", orderID))
	return nil
}

func (p *Processor) paymentFailed(ctx context.Context, event *models.PaymentEvent) error {
	orderID := event.Correlation.OrderID
	if orderID == "" {
		p.logger.Error("WEBHOOK", "Failed payment intent has no orderId in metadata")
		return missingOrderID(event)
	}

	recorded, err := p.Orders.MarkPaymentFailed(ctx, orderID)
	if err != nil {
		p.logger.Error("WEBHOOK", fmt.Sprintf("Failed to void order %s after payment failure: %v", orderID, err))
		return recordFailed(orderID, err)
	}
	if !recorded {
		p.logger.Warn("WEBHOOK", fmt.Sprintf("Payment failure for order %s ignored (unknown or already paid)", orderID))
		return nil
	}

	p.logger.LogPayment("FAILED", event.AuthorizationID, "order "+orderID+" voided")
	if order, err := p.Orders.GetOrderByID(ctx, orderID); err == nil {
		p.publish(ctx, models.EventOrderPaymentFailed, order)
	}
	return nil
}

func (p *Processor) publish(ctx context.Context, eventType string, order *models.Order) {
	if p.Events == nil {
		return
	}
	if err := p.Events.PublishOrderEvent(ctx, models.NewOrderEvent(eventType, order)); err != nil {
		p.logger.Error("KAFKA", fmt.Sprintf("Publish %s for order %s failed: %v", eventType, order.OrderID, err))
	}
}
