package notify_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/notify"
	orderdb "ms-fulfillment/internal/order/db"
	"ms-fulfillment/internal/testutil"
	"ms-fulfillment/internal/utils"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []models.Message
	fail  atomic.Int32
	delay time.Duration
}

func (s *fakeSender) Send(ctx context.Context, msg models.Message) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail.Load() > 0 {
		s.fail.Add(-1)
		return errors.New("gateway unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	d      *notify.Dispatcher
	orders *orderdb.DB
	email  *fakeSender
	sms    *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := &orderdb.DB{Bun: testutil.NewTestDB(t)}
	email, sms := &fakeSender{}, &fakeSender{}
	d := notify.NewDispatcher(orders, email, sms, notify.NewComposer("Test Kitchen"), time.Second, logger.NewNopLogger())
	return &fixture{d: d, orders: orders, email: email, sms: sms}
}

// order seeds a paid order the kitchen has already marked ready, so every
// milestone has been reached.
func (f *fixture) order(t *testing.T, email, phone string, optIn bool) *models.Order {
	t.Helper()
	return f.orderIn(t, email, phone, optIn, models.PayNow, models.OrderStatusReady, models.PaymentStatusPaid)
}

func (f *fixture) orderIn(t *testing.T, email, phone string, optIn bool, choice models.PaymentChoice, status models.OrderStatus, payment models.PaymentStatus) *models.Order {
	t.Helper()
	now := utils.Now()
	o := &models.Order{
		OrderID:       utils.NewOrderID(),
		Source:        models.SourceWeb,
		CustomerName:  "Ada",
		CustomerEmail: email,
		CustomerPhone: phone,
		SMSOptIn:      optIn,
		PaymentChoice: choice,
		Subtotal:      2000,
		Tax:           215,
		ServiceFee:    260,
		TotalCharged:  2475,
		OrderStatus:   status,
		PaymentStatus: payment,
		PickupMode:    models.PickupASAP,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.orders.CreateOrder(context.Background(), o))
	require.NoError(t, f.orders.InsertItems(context.Background(), []*models.OrderItem{
		{ID: utils.NewID(), OrderID: o.OrderID, Name: "Burger", Quantity: 2, UnitPrice: 1000, LineSubtotal: 2000},
	}))
	return o
}

func TestNotify_ConcurrentReadySendsOnce(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, "ada@example.com", "+15550100", true)

	var wg sync.WaitGroup
	results := make([]models.NotifyResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.d.Notify(context.Background(), o.OrderID, models.MilestoneReady)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, r := range results {
		if r == models.NotifySent {
			sent++
		} else {
			assert.Equal(t, models.NotifySkippedAlreadySent, r)
		}
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, f.sms.count())
	assert.Equal(t, 0, f.email.count())
}

func TestNotify_FailureReleasesClaimForRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "ada@example.com", "", false)
	f.email.fail.Store(1)

	_, err := f.d.Notify(ctx, o.OrderID, models.MilestonePaid)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotificationSendFailed)

	stored, err := f.orders.GetOrderByID(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Nil(t, stored.PaidNotifiedAt)

	res, err := f.d.Notify(ctx, o.OrderID, models.MilestonePaid)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySent, res)
	require.Equal(t, 1, f.email.count())

	receipt := f.email.sent[0]
	assert.Equal(t, "ada@example.com", receipt.Recipient)
	assert.Contains(t, receipt.Body, "2 x Burger")
	assert.Contains(t, receipt.Body, "$24.75")
	require.Len(t, receipt.Attachments, 1)
	assert.Equal(t, "image/png", receipt.Attachments[0].ContentType)

	res, err = f.d.Notify(ctx, o.OrderID, models.MilestonePaid)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySkippedAlreadySent, res)
}

func TestNotify_TimeoutReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "ada@example.com", "", false)
	f.email.delay = 200 * time.Millisecond
	f.d.SendTimeout = 20 * time.Millisecond

	_, err := f.d.Notify(ctx, o.OrderID, models.MilestoneAccepted)
	assert.ErrorIs(t, err, models.ErrNotificationSendFailed)

	stored, err := f.orders.GetOrderByID(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Nil(t, stored.AcceptedNotifiedAt)
}

func TestNotify_NoRecipientKeepsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "", "+15550100", false)

	res, err := f.d.Notify(ctx, o.OrderID, models.MilestoneReady)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySkippedNoRecipient, res)

	stored, err := f.orders.GetOrderByID(ctx, o.OrderID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ClaimedAt(models.MilestoneReady))

	res, err = f.d.Notify(ctx, o.OrderID, models.MilestoneReady)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySkippedAlreadySent, res)
	assert.Zero(t, f.email.count()+f.sms.count())
}

func (f *fixture) assertUnclaimed(t *testing.T, orderID string, milestones ...models.Milestone) {
	t.Helper()
	stored, err := f.orders.GetOrderByID(context.Background(), orderID)
	require.NoError(t, err)
	for _, m := range milestones {
		assert.Nil(t, stored.ClaimedAt(m), "milestone %s", m)
	}
}

func TestNotify_SkipsMilestonesNotReached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.orderIn(t, "ada@example.com", "+15550100", true, models.PayNow, models.OrderStatusDraft, models.PaymentStatusPending)
	all := []models.Milestone{models.MilestonePaid, models.MilestoneAccepted, models.MilestoneReady}

	for _, m := range all {
		res, err := f.d.Notify(ctx, o.OrderID, m)
		require.NoError(t, err)
		assert.Equal(t, models.NotifySkippedNotReached, res, "milestone %s", m)
	}
	f.assertUnclaimed(t, o.OrderID, all...)
	assert.Zero(t, f.email.count()+f.sms.count())

	ok, err := f.orders.MarkPaid(ctx, o.OrderID, 2475, 0, 2475, utils.Now())
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.d.Notify(ctx, o.OrderID, models.MilestonePaid)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySent, res)
	res, err = f.d.Notify(ctx, o.OrderID, models.MilestoneAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySkippedNotReached, res)

	moved, err := f.orders.AdvanceStatus(ctx, o.OrderID, models.OrderStatusAccepted, models.OrderStatusPaid)
	require.NoError(t, err)
	require.True(t, moved)

	res, err = f.d.Notify(ctx, o.OrderID, models.MilestoneAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySent, res)
	res, err = f.d.Notify(ctx, o.OrderID, models.MilestoneReady)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySkippedNotReached, res)
	f.assertUnclaimed(t, o.OrderID, models.MilestoneReady)

	assert.Equal(t, 1, f.email.count())
	assert.Equal(t, 1, f.sms.count())
}

func TestNotify_PayAtPickupReachesKitchenMilestonesUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.orderIn(t, "", "+15550100", true, models.PayAtPickup, models.OrderStatusAccepted, models.PaymentStatusUnpaid)

	res, err := f.d.Notify(ctx, o.OrderID, models.MilestoneAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySent, res)

	res, err = f.d.Notify(ctx, o.OrderID, models.MilestonePaid)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySkippedNotReached, res)
	f.assertUnclaimed(t, o.OrderID, models.MilestonePaid)
}

func TestNotify_PaidFallsBackToSMS(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, "", "+15550100", true)

	res, err := f.d.Notify(context.Background(), o.OrderID, models.MilestonePaid)
	require.NoError(t, err)
	assert.Equal(t, models.NotifySent, res)
	require.Equal(t, 1, f.sms.count())
	assert.Empty(t, f.sms.sent[0].Attachments)
}

func TestNotify_UnknownOrderAndMilestone(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Notify(context.Background(), "missing", models.MilestonePaid)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.d.Notify(context.Background(), "missing", models.Milestone("shipped"))
	assert.ErrorIs(t, err, models.ErrValidation)
}
