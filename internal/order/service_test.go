package order_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/order"
	"ms-fulfillment/internal/order/db"
	"ms-fulfillment/internal/pricing"
	"ms-fulfillment/internal/testutil"
)

var policy = pricing.Policy{TaxRateBps: 1075, ServiceFeeBps: 1300}

// Mock implementations
type MockAvailability struct {
	mock.Mock
}

func (m *MockAvailability) UnavailableItems(ctx context.Context, items []models.OrderItemRequest) ([]string, error) {
	args := m.Called(ctx, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockTickets struct {
	mock.Mock
}

func (m *MockTickets) Materialize(ctx context.Context, orderID string) (*models.KitchenTicket, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.KitchenTicket), args.Error(1)
}

func (m *MockTickets) TicketForOrder(ctx context.Context, orderID string) (*models.KitchenTicket, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.KitchenTicket), args.Error(1)
}

// failingItemsDB wraps the real store and fails item inserts.
type failingItemsDB struct {
	*db.DB
	deleted []string
}

func (f *failingItemsDB) InsertItems(ctx context.Context, items []*models.OrderItem) error {
	return errors.New("disk full")
}

func (f *failingItemsDB) DeleteOrder(ctx context.Context, orderID string) error {
	f.deleted = append(f.deleted, orderID)
	return f.DB.DeleteOrder(ctx, orderID)
}

func validRequest() models.OrderRequest {
	return models.OrderRequest{
		Source:        models.SourceWeb,
		Customer:      models.CustomerRequest{Name: "Ada", Email: "ada@example.com"},
		Pickup:        models.PickupRequest{Mode: models.PickupASAP},
		PaymentChoice: models.PayNow,
		Items: []models.OrderItemRequest{
			{MenuItemID: "burger", Name: "Burger", Quantity: 2, UnitPrice: 750, Options: "no onions"},
			{MenuItemID: "shake", Name: "Shake", Quantity: 1, UnitPrice: 500, Instructions: "extra thick"},
		},
	}
}

func newService(t *testing.T) (*order.OrderService, *db.DB, *MockAvailability, *MockPublisher, *MockTickets) {
	store := &db.DB{Bun: testutil.NewTestDB(t)}
	avail := new(MockAvailability)
	pub := new(MockPublisher)
	tickets := new(MockTickets)
	svc := order.NewOrderService(store, avail, pub, tickets, policy, logger.NewNopLogger())
	return svc, store, avail, pub, tickets
}

func TestCreateOrder_ComputesTotals(t *testing.T) {
	svc, store, avail, pub, _ := newService(t)
	avail.On("UnavailableItems", mock.Anything, mock.Anything).Return(nil, nil)
	pub.On("PublishOrderEvent", mock.Anything, mock.MatchedBy(func(e models.OrderEvent) bool {
		return e.Type == models.EventOrderCreated
	})).Return(nil)

	o, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(2000), o.Subtotal)
	assert.Equal(t, int64(215), o.Tax)
	assert.Equal(t, int64(260), o.ServiceFee)
	assert.Equal(t, int64(0), o.Tip)
	assert.Equal(t, int64(2475), o.TotalCharged)
	assert.Equal(t, o.Subtotal+o.Tax+o.ServiceFee, o.TotalCharged)
	assert.Equal(t, int64(1075), o.TaxRateBps)
	assert.Equal(t, models.OrderStatusDraft, o.OrderStatus)
	assert.Equal(t, models.PaymentStatusUnpaid, o.PaymentStatus)
	assert.Equal(t, int64(1), o.OrderNumber)

	stored, err := store.GetOrderWithItems(context.Background(), o.OrderID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, int64(1500), stored.Items[0].LineSubtotal)
	assert.Equal(t, "no onions", stored.Items[0].Options)
	assert.Equal(t, "extra thick", stored.Items[1].Instructions)
	pub.AssertExpectations(t)
}

func TestCreateOrder_Validation(t *testing.T) {
	svc, _, _, _, _ := newService(t)
	ctx := context.Background()

	noItems := validRequest()
	noItems.Items = nil
	_, err := svc.CreateOrder(ctx, noItems)
	assert.ErrorIs(t, err, models.ErrValidation)

	noEmail := validRequest()
	noEmail.Customer.Email = ""
	_, err = svc.CreateOrder(ctx, noEmail)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "email")

	noSlot := validRequest()
	noSlot.Pickup = models.PickupRequest{Mode: models.PickupScheduled}
	_, err = svc.CreateOrder(ctx, noSlot)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "scheduled_at")

	zeroQty := validRequest()
	zeroQty.Items[0].Quantity = 0
	_, err = svc.CreateOrder(ctx, zeroQty)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateOrder_PayAtPickupNeedsNoEmailAndGoesToKitchen(t *testing.T) {
	svc, _, avail, pub, tickets := newService(t)
	avail.On("UnavailableItems", mock.Anything, mock.Anything).Return(nil, nil)
	pub.On("PublishOrderEvent", mock.Anything, mock.Anything).Return(nil)

	req := validRequest()
	req.Source = models.SourcePhone
	req.PaymentChoice = models.PayAtPickup
	req.Customer = models.CustomerRequest{Name: "Caller", Phone: "+15550100", SMSOptIn: true}
	at := time.Now().Add(time.Hour)
	req.Pickup = models.PickupRequest{Mode: models.PickupScheduled, ScheduledAt: &at}

	tickets.On("Materialize", mock.Anything, mock.AnythingOfType("string")).Return(&models.KitchenTicket{Status: models.TicketStatusNew}, nil)

	o, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNew, o.OrderStatus)
	assert.Equal(t, models.PaymentStatusNeedsPayment, o.PaymentStatus)
	require.NotNil(t, o.PickupScheduledAt)
	tickets.AssertCalled(t, "Materialize", mock.Anything, o.OrderID)
}

func TestCreateOrder_ItemsUnavailable(t *testing.T) {
	svc, store, avail, pub, _ := newService(t)
	avail.On("UnavailableItems", mock.Anything, mock.Anything).Return([]string{"Shake"}, nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrItemsUnavailable)

	var de *models.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, []string{"Shake"}, de.Items)

	count, err := store.Bun.NewSelect().Model((*models.Order)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	pub.AssertNotCalled(t, "PublishOrderEvent", mock.Anything, mock.Anything)
}

func TestCreateOrder_AvailabilityOutageFailsOpen(t *testing.T) {
	svc, _, avail, pub, _ := newService(t)
	avail.On("UnavailableItems", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	pub.On("PublishOrderEvent", mock.Anything, mock.Anything).Return(nil)

	o, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, o.OrderID)
}

func TestCreateOrder_ItemInsertFailureDeletesHeader(t *testing.T) {
	store := &db.DB{Bun: testutil.NewTestDB(t)}
	failing := &failingItemsDB{DB: store}
	avail := new(MockAvailability)
	avail.On("UnavailableItems", mock.Anything, mock.Anything).Return(nil, nil)
	pub := new(MockPublisher)
	var logs bytes.Buffer
	svc := order.NewOrderService(failing, avail, pub, nil, policy, logger.New(&logs))

	_, err := svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrItemInsertFailed)
	require.Len(t, failing.deleted, 1)
	assert.Contains(t, logs.String(), "compensating delete of "+failing.deleted[0])

	count, err := store.Bun.NewSelect().Model((*models.Order)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	pub.AssertNotCalled(t, "PublishOrderEvent", mock.Anything, mock.Anything)
}

func TestCreateOrder_PublishFailureDoesNotFail(t *testing.T) {
	svc, _, avail, pub, _ := newService(t)
	avail.On("UnavailableItems", mock.Anything, mock.Anything).Return(nil, nil)
	pub.On("PublishOrderEvent", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := svc.CreateOrder(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestUpdateContact(t *testing.T) {
	svc, store, avail, pub, _ := newService(t)
	avail.On("UnavailableItems", mock.Anything, mock.Anything).Return(nil, nil)
	pub.On("PublishOrderEvent", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	updated, err := svc.UpdateContact(ctx, o.OrderID, models.ContactUpdate{Name: " Grace ", Phone: "+15550101", SMSOptIn: true})
	require.NoError(t, err)
	assert.Equal(t, "Grace", updated.CustomerName)
	assert.True(t, updated.SMSOptIn)
	assert.Equal(t, o.TotalCharged, updated.TotalCharged)

	_, err = store.MarkPaid(ctx, o.OrderID, o.TotalCharged, 0, o.TotalCharged, time.Now())
	require.NoError(t, err)
	_, err = svc.UpdateContact(ctx, o.OrderID, models.ContactUpdate{Name: "Late"})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = svc.UpdateContact(ctx, "missing", models.ContactUpdate{Name: "X"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetOrder_IncludesTicketStatus(t *testing.T) {
	svc, _, avail, pub, tickets := newService(t)
	avail.On("UnavailableItems", mock.Anything, mock.Anything).Return(nil, nil)
	pub.On("PublishOrderEvent", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)
	tickets.On("TicketForOrder", mock.Anything, o.OrderID).Return(&models.KitchenTicket{Status: models.TicketStatusInProgress}, nil)

	view, err := svc.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusInProgress, view.TicketStatus)
	assert.Len(t, view.Order.Items, 2)
}
