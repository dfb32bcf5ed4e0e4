// Package notify sends at most one customer message per order milestone.
package notify

import (
	"context"
	"fmt"
	"time"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

// Sender delivers one rendered message. It reports success or failure only.
type Sender interface {
	Send(ctx context.Context, msg models.Message) error
}

type ClaimStore interface {
	ClaimNotification(ctx context.Context, id string, m models.Milestone, at time.Time) (bool, error)
	ReleaseNotification(ctx context.Context, id string, m models.Milestone, at time.Time) (bool, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderWithItems(ctx context.Context, id string) (*models.Order, error)
}

type Dispatcher struct {
	Orders      ClaimStore
	Email       Sender
	SMS         Sender
	Composer    *Composer
	SendTimeout time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

func NewDispatcher(orders ClaimStore, email, sms Sender, composer *Composer, sendTimeout time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		Orders:      orders,
		Email:       email,
		SMS:         sms,
		Composer:    composer,
		SendTimeout: sendTimeout,
		logger:      log,
		now:         time.Now,
	}
}

// Notify claims the milestone, then sends. Losing the claim means another
// caller owns this message. A failed send releases the claim so a later
// trigger can retry. An order that has not reached m is left unclaimed.
func (d *Dispatcher) Notify(ctx context.Context, orderID string, m models.Milestone) (models.NotifyResult, error) {
	if m.ClaimColumn() == "" {
		return "", models.ValidationError("unknown milestone %q", m)
	}

	current, err := d.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !current.Reached(m) {
		d.logger.LogNotify(string(m), orderID, fmt.Sprintf("not reached (order %s, payment %s), skipping", current.OrderStatus, current.PaymentStatus))
		return models.NotifySkippedNotReached, nil
	}

	at := utils.ClaimTime(d.now())
	claimed, err := d.Orders.ClaimNotification(ctx, orderID, m, at)
	if err != nil {
		return "", fmt.Errorf("claim %s notification: %w", m, err)
	}
	if !claimed {
		d.logger.LogNotify(string(m), orderID, "already claimed, skipping")
		return models.NotifySkippedAlreadySent, nil
	}

	order, err := d.Orders.GetOrderWithItems(ctx, orderID)
	if err != nil {
		d.release(ctx, orderID, m, at)
		return "", err
	}

	msg, ok := d.compose(order, m)
	if !ok {
		// the claim stays so the reconciler does not pick this order up again
		d.logger.Warn("NOTIFY", fmt.Sprintf("No reachable recipient for order %s milestone %s", orderID, m))
		return models.NotifySkippedNoRecipient, nil
	}

	sendCtx := ctx
	if d.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.SendTimeout)
		defer cancel()
	}

	if err := d.sender(msg.Channel).Send(sendCtx, msg); err != nil {
		d.release(ctx, orderID, m, at)
		d.logger.Error("NOTIFY", fmt.Sprintf("Send %s %s to order %s failed: %v", m, msg.Channel, orderID, err))
		return "", models.NewError(models.KindNotificationSendFailed, fmt.Sprintf("send %s notification", m), err)
	}

	d.logger.LogNotify(string(m), orderID, fmt.Sprintf("sent via %s", msg.Channel))
	return models.NotifySent, nil
}

// release clears only the claim this call made. It must run even when the
// caller's context is already done.
func (d *Dispatcher) release(ctx context.Context, orderID string, m models.Milestone, at time.Time) {
	ctx = context.WithoutCancel(ctx)
	released, err := d.Orders.ReleaseNotification(ctx, orderID, m, at)
	if err != nil {
		d.logger.Error("NOTIFY", fmt.Sprintf("Release %s claim for order %s failed: %v", m, orderID, err))
		return
	}
	if !released {
		d.logger.Warn("NOTIFY", fmt.Sprintf("Claim %s for order %s was replaced before release", m, orderID))
	}
}

// compose picks the channel and renders the message. Paid receipts prefer
// email; kitchen updates prefer SMS when the customer opted in.
func (d *Dispatcher) compose(order *models.Order, m models.Milestone) (models.Message, bool) {
	canEmail := d.Email != nil && order.CustomerEmail != ""
	canSMS := d.SMS != nil && order.CustomerPhone != "" && order.SMSOptIn

	var channel models.Channel
	switch {
	case m == models.MilestonePaid && canEmail:
		channel = models.ChannelEmail
	case m == models.MilestonePaid && canSMS:
		channel = models.ChannelSMS
	case canSMS:
		channel = models.ChannelSMS
	case canEmail:
		channel = models.ChannelEmail
	default:
		return models.Message{}, false
	}

	msg, err := d.Composer.Compose(order, m, channel)
	if err != nil {
		// the QR attachment is optional; a receipt without it still goes out
		d.logger.Warn("NOTIFY", fmt.Sprintf("Compose for order %s: %v", order.OrderID, err))
	}
	return msg, true
}

func (d *Dispatcher) sender(c models.Channel) Sender {
	if c == models.ChannelSMS {
		return d.SMS
	}
	return d.Email
}
