package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-fulfillment/internal/database"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

const orderNumberAttempts = 5

type DB struct {
	Bun *bun.DB
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---------------- ORDERS ----------------

// CreateOrder inserts the header and assigns the next order number. Two
// concurrent inserts may pick the same number; the loser retries.
func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		lastErr = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			var next int64
			err := tx.NewSelect().
				Model((*models.Order)(nil)).
				ColumnExpr("COALESCE(MAX(order_number), 0) + 1").
				Scan(ctx, &next)
			if err != nil {
				return fmt.Errorf("next order number: %w", err)
			}
			order.OrderNumber = next
			_, err = tx.NewInsert().Model(order).Exec(ctx)
			return err
		})
		if lastErr == nil {
			return nil
		}
		if !database.IsUniqueViolation(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("allocate order number after %d attempts: %w", orderNumberAttempts, lastErr)
}

// InsertItems writes the order lines in one statement.
func (d *DB) InsertItems(ctx context.Context, items []*models.OrderItem) error {
	if len(items) == 0 {
		return errors.New("no items to insert")
	}
	_, err := d.Bun.NewInsert().Model(&items).Exec(ctx)
	return err
}

// DeleteOrder is the compensating delete used when item insertion fails.
func (d *DB) DeleteOrder(ctx context.Context, orderID string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.OrderItem)(nil)).
			Where("order_id = ?", orderID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*models.Order)(nil)).
			Where("order_id = ?", orderID).
			Exec(ctx)
		return err
	})
}

// GetOrderByID fetches the header only.
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewError(models.KindNotFound, "order "+id+" not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderWithItems fetches the header and its lines in display order.
func (d *DB) GetOrderWithItems(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewError(models.KindNotFound, "order "+id+" not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetItems(ctx context.Context, orderID string) ([]*models.OrderItem, error) {
	var items []*models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateContact touches contact fields only, and only before payment.
func (d *DB) UpdateContact(ctx context.Context, id string, c models.ContactUpdate) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("customer_name = ?", c.Name).
		Set("customer_phone = ?", c.Phone).
		Set("sms_opt_in = ?", c.SMSOptIn).
		Set("updated_at = ?", utils.Now()).
		Where("order_id = ?", id).
		Where("payment_status <> ?", models.PaymentStatusPaid).
		Exec(ctx))
}

// ---------------- PAYMENT ----------------

// SetPaymentIntent stores the authorization reference only if none is set.
func (d *DB) SetPaymentIntent(ctx context.Context, id, intentID string) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_intent_id = ?", intentID).
		Set("payment_status = CASE WHEN payment_status IN (?) THEN ? ELSE payment_status END",
			bun.In([]string{string(models.PaymentStatusDraft), string(models.PaymentStatusUnpaid)}),
			models.PaymentStatusPending).
		Set("updated_at = ?", utils.Now()).
		Where("order_id = ?", id).
		Where("payment_intent_id IS NULL").
		Exec(ctx))
}

// ApplyTip writes tip and total only if the tip is still the one the caller
// read and the order has not been paid since.
func (d *DB) ApplyTip(ctx context.Context, id string, prevTip, tip, total int64) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("tip = ?", tip).
		Set("total_charged = ?", total).
		Set("updated_at = ?", utils.Now()).
		Where("order_id = ?", id).
		Where("tip = ?", prevTip).
		Where("payment_status <> ?", models.PaymentStatusPaid).
		Exec(ctx))
}

// MarkPaid records a successful payment. A redelivered event finds the order
// already paid and changes nothing. Kitchen progress is never moved backwards.
func (d *DB) MarkPaid(ctx context.Context, id string, base, tip, captured int64, at time.Time) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_status = ?", models.PaymentStatusPaid).
		Set("order_status = CASE WHEN order_status IN (?) THEN order_status ELSE ? END",
			bun.In([]string{string(models.OrderStatusAccepted), string(models.OrderStatusReady)}),
			models.OrderStatusPaid).
		Set("total_charged = ?", base).
		Set("tip = ?", tip).
		Set("amount_captured = ?", captured).
		Set("paid_at = COALESCE(paid_at, ?)", at).
		Set("updated_at = ?", at).
		Where("order_id = ?", id).
		Where("payment_status <> ?", models.PaymentStatusPaid).
		Exec(ctx))
}

// MarkPaymentFailed voids an unpaid order.
func (d *DB) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_status = ?", models.PaymentStatusFailed).
		Set("order_status = ?", models.OrderStatusVoided).
		Set("updated_at = ?", utils.Now()).
		Where("order_id = ?", id).
		Where("payment_status <> ?", models.PaymentStatusPaid).
		Exec(ctx))
}

// ---------------- KITCHEN PROGRESS ----------------

// AdvanceStatus moves order_status to `to` only from one of `from`.
func (d *DB) AdvanceStatus(ctx context.Context, id string, to models.OrderStatus, from ...models.OrderStatus) (bool, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("order_status = ?", to).
		Set("updated_at = ?", utils.Now()).
		Where("order_id = ?", id).
		Where("order_status IN (?)", bun.In(allowed)).
		Exec(ctx))
}

// ---------------- NOTIFICATION CLAIMS ----------------

// ClaimNotification sets the milestone claim column if it is null. The
// boolean is the compare-and-set result.
func (d *DB) ClaimNotification(ctx context.Context, id string, m models.Milestone, at time.Time) (bool, error) {
	col := m.ClaimColumn()
	if col == "" {
		return false, models.ValidationError("unknown milestone %q", m)
	}
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("? = ?", bun.Ident(col), at).
		Where("order_id = ?", id).
		Where("? IS NULL", bun.Ident(col)).
		Exec(ctx))
}

// ReleaseNotification clears a claim, but only the one set at `at`.
func (d *DB) ReleaseNotification(ctx context.Context, id string, m models.Milestone, at time.Time) (bool, error) {
	col := m.ClaimColumn()
	if col == "" {
		return false, models.ValidationError("unknown milestone %q", m)
	}
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("? = NULL", bun.Ident(col)).
		Where("order_id = ?", id).
		Where("? = ?", bun.Ident(col), at).
		Exec(ctx))
}

// ---------------- RECONCILIATION ----------------

// ListPaidWithoutTicket finds paid orders older than `before` that have no
// kitchen ticket.
func (d *DB) ListPaidWithoutTicket(ctx context.Context, before time.Time, limit int) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("payment_status = ?", models.PaymentStatusPaid).
		Where("paid_at < ?", before).
		Where("NOT EXISTS (SELECT 1 FROM kitchen_tickets kt WHERE kt.order_id = ?TableAlias.order_id)").
		OrderExpr("paid_at ASC").
		Limit(limit).
		Scan(ctx)
	return orders, err
}

// ListPaidUnnotified finds paid orders older than `before` whose paid
// notification was never claimed.
func (d *DB) ListPaidUnnotified(ctx context.Context, before time.Time, limit int) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("payment_status = ?", models.PaymentStatusPaid).
		Where("paid_at < ?", before).
		Where("paid_notified_at IS NULL").
		OrderExpr("paid_at ASC").
		Limit(limit).
		Scan(ctx)
	return orders, err
}
