package order_api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/order/order_api"
	"ms-fulfillment/internal/utils"
)

type MockOrders struct{ mock.Mock }

func (m *MockOrders) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrders) GetOrder(ctx context.Context, id string) (*models.OrderView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OrderView), args.Error(1)
}

func (m *MockOrders) UpdateContact(ctx context.Context, id string, c models.ContactUpdate) (*models.Order, error) {
	args := m.Called(ctx, id, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

type MockPayments struct{ mock.Mock }

func (m *MockPayments) EnsureAuthorization(ctx context.Context, orderID string) (*models.Authorization, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Authorization), args.Error(1)
}

func (m *MockPayments) ApplyTip(ctx context.Context, orderID string, tip int64) (*models.TipResponse, error) {
	args := m.Called(ctx, orderID, tip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TipResponse), args.Error(1)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Notify(ctx context.Context, orderID string, ms models.Milestone) (models.NotifyResult, error) {
	args := m.Called(ctx, orderID, ms)
	return args.Get(0).(models.NotifyResult), args.Error(1)
}

type MockMenu struct{ mock.Mock }

func (m *MockMenu) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMenu) MarkUnavailable(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMenu) MarkAvailable(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type fixture struct {
	router   http.Handler
	orders   *MockOrders
	payments *MockPayments
	notifier *MockNotifier
	menu     *MockMenu
}

func newFixture() *fixture {
	f := &fixture{orders: &MockOrders{}, payments: &MockPayments{}, notifier: &MockNotifier{}, menu: &MockMenu{}}
	h := order_api.NewHandler(f.orders, f.payments, f.notifier, f.menu, logger.NewNopLogger())
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		h.PublicRoutes(r)
		h.StaffRoutes(r)
	})
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string) (*httptest.ResponseRecorder, utils.APIResponse) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var resp utils.APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestCreateOrder_Created(t *testing.T) {
	f := newFixture()
	f.orders.On("CreateOrder", mock.Anything, mock.MatchedBy(func(r models.OrderRequest) bool {
		return r.Customer.Name == "Ada" && len(r.Items) == 1
	})).Return(&models.Order{OrderID: "o1", OrderNumber: 3, TotalCharged: 2475}, nil)

	rec, resp := f.do(http.MethodPost, "/api/orders",
		`{"customer":{"name":"Ada","email":"ada@example.com"},"pickup":{"mode":"asap"},"payment_choice":"pay_now","items":[{"name":"Burger","quantity":1,"unit_price":2000}]}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	f.orders.AssertExpectations(t)
}

func TestCreateOrder_ItemsUnavailable(t *testing.T) {
	f := newFixture()
	f.orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, models.ItemsUnavailableError([]string{"Oysters"}))

	rec, resp := f.do(http.MethodPost, "/api/orders", `{"items":[{"name":"Oysters","quantity":1}]}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(models.KindItemsUnavailable), resp.ErrorKind)
	assert.Equal(t, []string{"Oysters"}, resp.Items)
}

func TestCreateOrder_InternalErrorIsGeneric(t *testing.T) {
	f := newFixture()
	f.orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, errors.New("pq: connection refused"))

	rec, resp := f.do(http.MethodPost, "/api/orders", `{}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "order could not be placed", resp.Message)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestCreateOrder_BadJSON(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodPost, "/api/orders", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyTip_StatusCodes(t *testing.T) {
	f := newFixture()
	f.payments.On("ApplyTip", mock.Anything, "o1", int64(300)).Return(&models.TipResponse{OrderID: "o1", Tip: 300, TotalCharged: 2775}, nil)
	f.payments.On("ApplyTip", mock.Anything, "o1", int64(200000)).Return(nil, models.NewError(models.KindTipTooLarge, "tip must be between 0 and 100000", nil))
	f.payments.On("ApplyTip", mock.Anything, "o2", int64(100)).Return(nil, models.NewError(models.KindAlreadyCaptured, "", nil))

	rec, resp := f.do(http.MethodPost, "/api/orders/o1/tip", `{"tip_cents":300}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = f.do(http.MethodPost, "/api/orders/o1/tip", `{"tip_cents":200000}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "tip must be between 0 and 100000", resp.Error)

	rec, resp = f.do(http.MethodPost, "/api/orders/o2/tip", `{"tip_cents":100}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(models.KindAlreadyCaptured), resp.ErrorKind)
}

func TestApplyTip_NotOnPublicRoutes(t *testing.T) {
	payments := &MockPayments{}
	h := order_api.NewHandler(&MockOrders{}, payments, &MockNotifier{}, &MockMenu{}, logger.NewNopLogger())
	r := chi.NewRouter()
	r.Route("/api", h.PublicRoutes)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/tip", strings.NewReader(`{"tip_cents":300}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	payments.AssertNotCalled(t, "ApplyTip", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture()
	f.payments.On("EnsureAuthorization", mock.Anything, "o1").Return(&models.Authorization{ID: "pi_1", ClientSecret: "sec", Amount: 2475}, nil)
	f.payments.On("EnsureAuthorization", mock.Anything, "missing").Return(nil, models.NewError(models.KindNotFound, "order missing not found", nil))

	rec, resp := f.do(http.MethodPost, "/api/orders/o1/payment-intent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "pi_1", data["payment_intent_id"])
	assert.Equal(t, "sec", data["client_secret"])

	rec, _ = f.do(http.MethodPost, "/api/orders/missing/payment-intent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateContact_PaidOrderConflict(t *testing.T) {
	f := newFixture()
	f.orders.On("UpdateContact", mock.Anything, "o1", models.ContactUpdate{Name: "Bo", Phone: "+15550100", SMSOptIn: true}).
		Return(nil, models.NewError(models.KindConflict, "paid", nil))

	rec, _ := f.do(http.MethodPatch, "/api/orders/o1/contact", `{"name":"Bo","phone":"+15550100","sms_opt_in":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResendNotification(t *testing.T) {
	f := newFixture()
	f.notifier.On("Notify", mock.Anything, "o1", models.MilestoneReady).Return(models.NotifySkippedAlreadySent, nil)

	rec, resp := f.do(http.MethodPost, "/api/orders/o1/notifications/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped_already_sent", resp.Data.(map[string]interface{})["result"])

	rec, _ = f.do(http.MethodPost, "/api/orders/o1/notifications/shipped", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMenuAvailability(t *testing.T) {
	f := newFixture()
	f.menu.On("MarkUnavailable", mock.Anything, "oysters").Return(nil)
	f.menu.On("MarkAvailable", mock.Anything, "oysters").Return(nil)
	f.menu.On("List", mock.Anything).Return([]string{"oysters"}, nil)

	rec, _ := f.do(http.MethodPut, "/api/menu/unavailable/oysters", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, resp := f.do(http.MethodGet, "/api/menu/unavailable", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"oysters"}, resp.Data)

	rec, _ = f.do(http.MethodDelete, "/api/menu/unavailable/oysters", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	f.menu.AssertExpectations(t)
}
