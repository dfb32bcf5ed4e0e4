package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/utils"
)

type DB struct {
	Bun *bun.DB
}

// InsertTicket inserts the ticket unless one already exists for the order,
// then returns whichever row is stored. The unique order_id makes concurrent
// callers converge on one ticket.
func (d *DB) InsertTicket(ctx context.Context, ticket *models.KitchenTicket) (*models.KitchenTicket, bool, error) {
	res, err := d.Bun.NewInsert().
		Model(ticket).
		On("CONFLICT (order_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	stored, err := d.TicketForOrder(ctx, ticket.OrderID)
	if err != nil {
		return nil, false, err
	}
	return stored, n > 0, nil
}

// InsertItems links order lines to a ticket. A line already linked is
// skipped, so a retried materialization never duplicates items.
func (d *DB) InsertItems(ctx context.Context, items []*models.KitchenTicketItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	res, err := d.Bun.NewInsert().
		Model(&items).
		On("CONFLICT (order_item_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) GetTicket(ctx context.Context, ticketID string) (*models.KitchenTicket, error) {
	return d.getBy(ctx, "ticket_id = ?", ticketID)
}

func (d *DB) TicketForOrder(ctx context.Context, orderID string) (*models.KitchenTicket, error) {
	return d.getBy(ctx, "order_id = ?", orderID)
}

// itemsInLineOrder lists ticket items in the order the customer entered the
// lines, matching the receipt.
func itemsInLineOrder(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("(SELECT oi.position FROM order_items AS oi WHERE oi.id = ?TableAlias.order_item_id) ASC")
}

func (d *DB) getBy(ctx context.Context, where string, arg string) (*models.KitchenTicket, error) {
	var ticket models.KitchenTicket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Relation("Items", itemsInLineOrder).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewError(models.KindNotFound, "ticket not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ListActive returns tickets not yet done for a station, oldest first. An
// empty station lists every station.
func (d *DB) ListActive(ctx context.Context, station string) ([]*models.KitchenTicket, error) {
	var tickets []*models.KitchenTicket
	q := d.Bun.NewSelect().
		Model(&tickets).
		Relation("Items", itemsInLineOrder).
		Where("status <> ?", models.TicketStatusDone).
		Order("created_at ASC")
	if station != "" {
		q = q.Where("station = ?", station)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return tickets, nil
}

// AdvanceStatus moves a ticket from `from` to `to`. Items follow the ticket.
// The boolean is false when another writer moved the ticket first.
func (d *DB) AdvanceStatus(ctx context.Context, ticketID string, from, to models.TicketStatus) (bool, error) {
	var moved bool
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.KitchenTicket)(nil)).
			Set("status = ?", to).
			Set("updated_at = ?", utils.Now()).
			Where("ticket_id = ?", ticketID).
			Where("status = ?", from).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		moved = true
		_, err = tx.NewUpdate().
			Model((*models.KitchenTicketItem)(nil)).
			Set("status = ?", to).
			Where("ticket_id = ?", ticketID).
			Exec(ctx)
		return err
	})
	return moved, err
}
