package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/kitchen"
	kitchendb "ms-fulfillment/internal/kitchen/db"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/notify"
	orderdb "ms-fulfillment/internal/order/db"
	"ms-fulfillment/internal/reconcile"
	"ms-fulfillment/internal/testutil"
	"ms-fulfillment/internal/utils"
)

type outbox struct {
	mu   sync.Mutex
	sent []models.Message
	fail bool
}

func (o *outbox) Send(_ context.Context, msg models.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return errors.New("smtp down")
	}
	o.sent = append(o.sent, msg)
	return nil
}

type fixture struct {
	orders     *orderdb.DB
	kitchen    *kitchen.Service
	outbox     *outbox
	reconciler *reconcile.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNopLogger()
	bunDB := testutil.NewTestDB(t)
	orders := &orderdb.DB{Bun: bunDB}
	box := &outbox{}
	dispatcher := notify.NewDispatcher(orders, box, nil, notify.NewComposer("Test Kitchen"), time.Second, log)
	kitchenSvc := kitchen.NewService(&kitchendb.DB{Bun: bunDB}, orders, nil, nil, nil, log)
	r := reconcile.NewReconciler(orders, kitchenSvc, dispatcher, config.ReconcileConfig{
		Interval:    time.Minute,
		TicketGrace: 2 * time.Minute,
	}, log)
	return &fixture{orders: orders, kitchen: kitchenSvc, outbox: box, reconciler: r}
}

func (f *fixture) paidOrder(t *testing.T, paidAgo time.Duration) *models.Order {
	t.Helper()
	ctx := context.Background()
	now := utils.Now()
	o := &models.Order{
		OrderID:       utils.NewOrderID(),
		Source:        models.SourceWeb,
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		PaymentChoice: models.PayNow,
		Subtotal:      2000,
		Tax:           215,
		ServiceFee:    260,
		TotalCharged:  2475,
		OrderStatus:   models.OrderStatusDraft,
		PaymentStatus: models.PaymentStatusPending,
		PickupMode:    models.PickupASAP,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.orders.CreateOrder(ctx, o))
	require.NoError(t, f.orders.InsertItems(ctx, []*models.OrderItem{
		{ID: utils.NewID(), OrderID: o.OrderID, Name: "Burger", Quantity: 2, UnitPrice: 1000, LineSubtotal: 2000},
	}))
	ok, err := f.orders.MarkPaid(ctx, o.OrderID, 2475, 0, 2475, now.Add(-paidAgo))
	require.NoError(t, err)
	require.True(t, ok)
	return o
}

func TestRunOnce_ReportsWithoutFixing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.paidOrder(t, 10*time.Minute)
	f.paidOrder(t, 10*time.Second)

	report, err := f.reconciler.RunOnce(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, []string{stale.OrderID}, report.MissingTickets)
	assert.Equal(t, []string{stale.OrderID}, report.UnnotifiedPaid)
	assert.Zero(t, report.TicketsRepaired)

	ticket, err := f.kitchen.TicketForOrder(ctx, stale.OrderID)
	require.NoError(t, err)
	assert.Nil(t, ticket)
	assert.Empty(t, f.outbox.sent)
}

func TestRunOnce_FixRepairsAndConverges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.paidOrder(t, 10*time.Minute)

	report, err := f.reconciler.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TicketsRepaired)
	assert.Equal(t, 1, report.NoticesRepaired)
	assert.Empty(t, report.Failures)

	ticket, err := f.kitchen.TicketForOrder(ctx, stale.OrderID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Len(t, ticket.Items, 1)
	assert.Len(t, f.outbox.sent, 1)

	stored, err := f.orders.GetOrderByID(ctx, stale.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, int64(2475), stored.AmountCaptured)

	again, err := f.reconciler.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.True(t, again.Clean())
	assert.Len(t, f.outbox.sent, 1)
}

func TestRunOnce_SendFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.outbox.fail = true
	o := f.paidOrder(t, 10*time.Minute)

	report, err := f.reconciler.RunOnce(context.Background(), true)
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], o.OrderID)
	assert.Equal(t, 1, report.TicketsRepaired)
}

func TestRunOnce_UnreachableCustomerIsNotRevisited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, 10*time.Minute)
	_, err := f.orders.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("customer_email = ''").
		Where("order_id = ?", o.OrderID).
		Exec(ctx)
	require.NoError(t, err)

	report, err := f.reconciler.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{o.OrderID}, report.UnnotifiedPaid)
	assert.Zero(t, report.NoticesRepaired)
	assert.Empty(t, report.Failures)

	again, err := f.reconciler.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.True(t, again.Clean())
	assert.Empty(t, f.outbox.sent)
}

func TestRun_StopsWithContext(t *testing.T) {
	f := newFixture(t)
	f.reconciler.Interval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.NoError(t, f.reconciler.Run(ctx))
}
