package services

import (
	"context"
	"errors"
	"fmt"

	"mpesa-orders/internal/metrics"
	"mpesa-orders/internal/models"
	"mpesa-orders/internal/repositories"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService handles business logic related to orders.
type OrderService struct {
	orderRepo repositories.OrderRepository
	notifier  Notifier
	validate  *validator.Validate
	metrics   *metrics.Registry
	log       *zap.Logger
}

// NewOrderService creates a new OrderService.
func NewOrderService(orderRepo repositories.OrderRepository, notifier Notifier, m *metrics.Registry, log *zap.Logger) *OrderService {
	return &OrderService{
		orderRepo: orderRepo,
		notifier:  notifier,
		validate:  newValidator(),
		metrics:   m,
		log:       log,
	}
}

// ListOrders retrieves orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	orders, err := s.orderRepo.GetAll(ctx, filter)
	if err != nil {
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}
	return orders, nil
}

// GetOrderByID retrieves a single order by its ID.
func (s *OrderService) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get order", Err: err}
	}
	return order, nil
}

// CreateOrder validates req and stores a new pending order. The total is taken as given,
// not recomputed from the items.
func (s *OrderService) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	phone, err := NormalizePhone(req.CustomerInfo.Phone)
	if err != nil {
		return nil, NewValidationError("customerInfo.phone", err.Error())
	}

	customer := req.CustomerInfo
	customer.Phone = phone
	newOrder := &models.Order{
		ID:            uuid.New().String(),
		Items:         req.Items,
		Total:         req.Total,
		CustomerInfo:  customer,
		PaymentMethod: req.PaymentMethod,
		Status:        models.StatusPending,
	}

	if err := s.orderRepo.Create(ctx, newOrder); err != nil {
		s.log.Error("failed to store order", zap.Error(err))
		return nil, &PersistenceError{Op: "create order", Err: err}
	}
	s.metrics.OrdersCreated.Inc()
	s.log.Info("order created",
		zap.String("orderID", newOrder.ID),
		zap.String("total", newOrder.Total.String()),
		zap.String("paymentMethod", newOrder.PaymentMethod),
	)

	s.notifier.Notify(Notice{
		Event:    EventOrderCreated,
		Message:  fmt.Sprintf("New order from %s for KES %s", customer.Name, newOrder.Total.StringFixed(2)),
		Severity: models.SeverityInfo,
		OrderID:  newOrder.ID,
	})

	return newOrder, nil
}
