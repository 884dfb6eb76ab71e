package services_test

import (
	"context"
	"testing"
	"time"

	"mpesa-orders/internal/metrics"
	"mpesa-orders/internal/models"
	"mpesa-orders/internal/repositories"
	"mpesa-orders/internal/services"
	"mpesa-orders/pkg/mpesa"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// MockGateway is a mock implementation of services.PaymentGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) STKPush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mpesa.PushResponse), args.Error(1)
}

// MockMailer is a mock implementation of services.OrderMailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendConfirmation(ctx context.Context, order models.Order) error {
	return m.Called(order.ID).Error(0)
}

func (m *MockMailer) SendAdminAlert(ctx context.Context, order models.Order) error {
	return m.Called(order.ID).Error(0)
}

// failingOrderRepo wraps the in-memory repository and fails status updates.
type failingOrderRepo struct {
	*repositories.MockOrderRepository
	err error
}

func (r *failingOrderRepo) UpdateStatus(context.Context, string, models.StatusChange, ...models.OrderStatus) error {
	return r.err
}

type fixture struct {
	orders        repositories.OrderRepository
	notifications *repositories.MockNotificationRepository
	gateway       *MockGateway
	mailer        *MockMailer
	pool          *services.WorkerPool
	metrics       *metrics.Registry
	logs          *observer.ObservedLogs
	orderSvc      *services.OrderService
	paymentSvc    *services.PaymentService
}

func newFixture(t *testing.T, orders repositories.OrderRepository) *fixture {
	t.Helper()
	if orders == nil {
		orders = repositories.NewMockOrderRepository()
	}
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(core)
	m := metrics.NewRegistry()
	pool := services.NewWorkerPool(64, 2, m, log)
	t.Cleanup(pool.Close)

	notifications := repositories.NewMockNotificationRepository()
	notifier := services.NewNotificationService(notifications, nil, pool, log)
	gateway := new(MockGateway)
	mailer := new(MockMailer)

	return &fixture{
		orders:        orders,
		notifications: notifications,
		gateway:       gateway,
		mailer:        mailer,
		pool:          pool,
		metrics:       m,
		logs:          logs,
		orderSvc:      services.NewOrderService(orders, notifier, m, log),
		paymentSvc: services.NewPaymentService(orders, gateway, notifier, mailer, pool, services.PaymentConfig{
			LookupAttempts: 2,
			LookupBackoff:  5 * time.Millisecond,
		}, m, log),
	}
}

func (f *fixture) noticeCount(t *testing.T, orderID string) int64 {
	t.Helper()
	f.pool.Flush()
	n, err := f.notifications.CountByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return n
}

func sampleOrderRequest() models.CreateOrderRequest {
	return models.CreateOrderRequest{
		Items: []models.OrderItem{
			{Name: "Maize flour 2kg", Price: decimal.RequireFromString("500"), Quantity: 2},
			{Name: "Cooking oil 1L", Price: decimal.RequireFromString("500"), Quantity: 1},
		},
		Total: decimal.RequireFromString("1500"),
		CustomerInfo: models.CustomerInfo{
			Name:    "Wanjiku Kamau",
			Phone:   "0712345678",
			Address: "Moi Avenue, Nairobi",
			Email:   "wanjiku@example.com",
		},
		PaymentMethod: models.PaymentMethodMpesa,
	}
}
