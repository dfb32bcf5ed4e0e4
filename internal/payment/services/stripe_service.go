package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/payment"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
)

// StripeService is the payment gateway backed by Stripe PaymentIntents.
type StripeService struct {
	client        *client.API
	webhookSecret string
	log           *logger.Logger
}

var _ payment.Gateway = (*StripeService)(nil)

// NewStripeService creates a new instance of StripeService
func NewStripeService(cfg config.StripeConfig, log *logger.Logger) (*StripeService, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(cfg.SecretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return NewStripeServiceWithClient(sc, cfg.WebhookSecret, log), nil
}

// NewStripeServiceWithClient wraps an already configured client.
func NewStripeServiceWithClient(sc *client.API, webhookSecret string, log *logger.Logger) *StripeService {
	return &StripeService{client: sc, webhookSecret: webhookSecret, log: log}
}

// CreateAuthorization creates a PaymentIntent. The idempotency key makes a
// retried or concurrent create return the same intent.
func (s *StripeService) CreateAuthorization(ctx context.Context, req payment.AuthorizationRequest) (*models.Authorization, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid payment amount: %d", req.Amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Correlation.Metadata() {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	s.log.Info("STRIPE", fmt.Sprintf("Creating payment intent for order %s, amount: %d %s", req.Correlation.OrderID, req.Amount, req.Currency))
	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent: %v", err))
		return nil, mapStripeError("create payment intent", err)
	}
	s.log.Info("STRIPE", fmt.Sprintf("Payment intent created: %s (order %s)", pi.ID, req.Correlation.OrderID))
	return toAuthorization(pi), nil
}

func (s *StripeService) GetAuthorization(ctx context.Context, id string) (*models.Authorization, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.Get(id, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to retrieve payment intent %s: %v", id, err))
		return nil, mapStripeError("retrieve payment intent", err)
	}
	return toAuthorization(pi), nil
}

// UpdateAuthorizationAmount sets an absolute amount and rewrites the
// correlation metadata alongside it, so the two never disagree.
func (s *StripeService) UpdateAuthorizationAmount(ctx context.Context, id string, amount int64, corr models.CorrelationContext) (*models.Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount: stripe.Int64(amount),
	}
	for k, v := range corr.Metadata() {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.Update(id, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to update payment intent %s: %v", id, err))
		return nil, mapStripeError("update payment intent", err)
	}
	s.log.Info("STRIPE", fmt.Sprintf("Payment intent %s amount set to %d", id, amount))
	return toAuthorization(pi), nil
}

// ParseWebhook verifies the signature and decodes the event. Event types
// other than payment success and failure come back with only ID and Type set.
func (s *StripeService) ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error) {
	if s.webhookSecret == "" {
		return nil, models.NewError(models.KindSignatureInvalid, "webhook secret not configured", nil)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.log.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("rejected: %v", err))
		return nil, models.NewError(models.KindSignatureInvalid, "invalid webhook signature", err)
	}

	out := &models.PaymentEvent{
		ID:         event.ID,
		Type:       models.PaymentEventType(event.Type),
		ReceivedAt: time.Now().UTC(),
	}
	if out.Type != models.PaymentSucceeded && out.Type != models.PaymentFailed {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, models.NewError(models.KindValidation, "malformed payment intent payload", err)
	}
	out.AuthorizationID = pi.ID
	out.Amount = pi.AmountReceived
	if out.Amount == 0 {
		out.Amount = pi.Amount
	}
	out.Correlation = models.CorrelationFromMetadata(pi.Metadata)
	return out, nil
}

func toAuthorization(pi *stripe.PaymentIntent) *models.Authorization {
	return &models.Authorization{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       models.AuthorizationStatus(pi.Status),
		Correlation:  models.CorrelationFromMetadata(pi.Metadata),
	}
}

func mapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Code {
		case stripe.ErrorCodeResourceMissing:
			return models.NewError(models.KindAuthorizationNotFound, "payment intent not found", err)
		case stripe.ErrorCodePaymentIntentUnexpectedState:
			return models.NewError(models.KindAlreadyCaptured, "payment intent can no longer be changed", err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStripeAPIError, op, err)
}
