// Package payment owns the authorization for each order: creating or reusing
// it, and re-pricing it when a tip changes.
package payment

import (
	"context"
	"errors"
	"fmt"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

// tipAttempts bounds retries when a concurrent tip write wins the
// compare-and-set.
const tipAttempts = 3

type AuthorizationRequest struct {
	Amount         int64
	Currency       string
	Correlation    models.CorrelationContext
	IdempotencyKey string
	Description    string
	ReceiptEmail   string
}

// Gateway is the payment provider.
type Gateway interface {
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*models.Authorization, error)
	GetAuthorization(ctx context.Context, id string) (*models.Authorization, error)
	UpdateAuthorizationAmount(ctx context.Context, id string, amount int64, corr models.CorrelationContext) (*models.Authorization, error)
}

type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) (bool, error)
	ApplyTip(ctx context.Context, id string, prevTip, tip, total int64) (bool, error)
}

type Manager struct {
	Orders   OrderStore
	Gateway  Gateway
	Currency string
	MaxTip   int64
	logger   *logger.Logger
}

func NewManager(orders OrderStore, gateway Gateway, currency string, maxTip int64, log *logger.Logger) *Manager {
	return &Manager{
		Orders:   orders,
		Gateway:  gateway,
		Currency: currency,
		MaxTip:   maxTip,
		logger:   log,
	}
}

// EnsureAuthorization returns the order's authorization, creating it on
// first call. Concurrent first calls share one idempotency key, so the
// provider returns the same object to all of them.
func (m *Manager) EnsureAuthorization(ctx context.Context, orderID string) (*models.Authorization, error) {
	order, err := m.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentIntentID != "" {
		m.logger.LogPayment("REUSE", order.PaymentIntentID, "order "+orderID)
		return m.Gateway.GetAuthorization(ctx, order.PaymentIntentID)
	}

	if order.IsPaid() {
		return nil, models.NewError(models.KindAlreadyCaptured, "order is already paid", nil)
	}
	if order.TotalCharged <= 0 {
		return nil, models.ValidationError("order total must be positive")
	}

	auth, err := m.Gateway.CreateAuthorization(ctx, AuthorizationRequest{
		Amount:   order.TotalCharged,
		Currency: m.Currency,
		Correlation: models.CorrelationContext{
			OrderID:    order.OrderID,
			Tip:        order.Tip,
			BaseAmount: order.TotalCharged - order.Tip,
			HasBase:    true,
		},
		IdempotencyKey: utils.IdempotencyKey(order.OrderID, order.TotalCharged),
		Description:    fmt.Sprintf("Order %s", utils.FormatOrderNumber(order.OrderNumber)),
		ReceiptEmail:   order.CustomerEmail,
	})
	if err != nil {
		m.logger.Error("PAYMENT", fmt.Sprintf("Create authorization for order %s failed: %v", orderID, err))
		return nil, err
	}

	stored, err := m.Orders.SetPaymentIntent(ctx, orderID, auth.ID)
	if err != nil {
		return nil, fmt.Errorf("persist authorization reference: %w", err)
	}
	if stored {
		m.logger.LogPayment("CREATE", auth.ID, fmt.Sprintf("order %s amount %d", orderID, auth.Amount))
		return auth, nil
	}

	// another request stored a reference first; that one is authoritative
	order, err = m.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentIntentID == auth.ID {
		return auth, nil
	}
	m.logger.Warn("PAYMENT", fmt.Sprintf("Order %s already references %s, discarding %s", orderID, order.PaymentIntentID, auth.ID))
	return m.Gateway.GetAuthorization(ctx, order.PaymentIntentID)
}

// ApplyTip sets the tip to exactly tip. The base is read from the
// authorization's own correlation context, so repeated calls replace the tip
// instead of stacking it. The order is written only after the provider
// confirms the new amount.
func (m *Manager) ApplyTip(ctx context.Context, orderID string, tip int64) (*models.TipResponse, error) {
	if tip < 0 {
		return nil, models.NewError(models.KindTipTooLarge, "tip must not be negative", nil)
	}
	if m.MaxTip > 0 && tip > m.MaxTip {
		return nil, models.NewError(models.KindTipTooLarge, fmt.Sprintf("tip must be between 0 and %d", m.MaxTip), nil)
	}

	var lastErr error
	for attempt := 0; attempt < tipAttempts; attempt++ {
		resp, err := m.applyTipOnce(ctx, orderID, tip)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		lastErr = err
		m.logger.Warn("PAYMENT", fmt.Sprintf("Tip for order %s raced another update, retrying (%d/%d)", orderID, attempt+1, tipAttempts))
	}
	return nil, lastErr
}

func (m *Manager) applyTipOnce(ctx context.Context, orderID string, tip int64) (*models.TipResponse, error) {
	order, err := m.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		return nil, models.NewError(models.KindAlreadyCaptured, "payment has already been captured", nil)
	}
	if order.PaymentIntentID == "" {
		return nil, models.NewError(models.KindAuthorizationNotFound, "order has no authorization", nil)
	}

	auth, err := m.Gateway.GetAuthorization(ctx, order.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if auth.Status.Finalized() {
		return nil, models.NewError(models.KindAlreadyCaptured, "payment has already been captured", nil)
	}

	base := baseAmount(auth)
	if base != order.BaseAmount() {
		m.logger.Warn("PAYMENT", fmt.Sprintf("Order %s base %d differs from authorization base %d", orderID, order.BaseAmount(), base))
	}
	newTotal := base + tip

	if auth.Amount != newTotal || auth.Correlation.Tip != tip {
		_, err = m.Gateway.UpdateAuthorizationAmount(ctx, auth.ID, newTotal, models.CorrelationContext{
			OrderID:    orderID,
			Tip:        tip,
			BaseAmount: base,
			HasBase:    true,
		})
		if err != nil {
			m.logger.Error("PAYMENT", fmt.Sprintf("Update amount on %s failed: %v", auth.ID, err))
			return nil, err
		}
	}

	ok, err := m.Orders.ApplyTip(ctx, orderID, order.Tip, tip, newTotal)
	if err != nil {
		return nil, fmt.Errorf("persist tip: %w", err)
	}
	if !ok {
		current, err := m.Orders.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current.IsPaid() {
			return nil, models.NewError(models.KindAlreadyCaptured, "payment was captured while the tip was being applied", nil)
		}
		return nil, models.NewError(models.KindConflict, "tip changed concurrently", nil)
	}

	m.logger.LogPayment("TIP", auth.ID, fmt.Sprintf("order %s tip %d total %d", orderID, tip, newTotal))
	return &models.TipResponse{OrderID: orderID, Tip: tip, TotalCharged: newTotal}, nil
}

// baseAmount is the pre-tip amount of an authorization: the recorded base
// when present, otherwise its amount less the tip it carries.
func baseAmount(auth *models.Authorization) int64 {
	if auth.Correlation.HasBase {
		return auth.Correlation.BaseAmount
	}
	return auth.Amount - auth.Correlation.Tip
}
