package repositories

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"mpesa-orders/internal/models"

	"github.com/google/uuid"
)

// MockOrderRepository is an in-memory implementation of OrderRepository.
type MockOrderRepository struct {
	orders map[string]models.Order
	byRef  map[string]string
	mu     sync.RWMutex
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[string]models.Order),
		byRef:  make(map[string]string),
	}
}

// GetAll returns orders, newest first.
func (r *MockOrderRepository) GetAll(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderList := make([]models.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orderList = append(orderList, order)
	}
	sort.Slice(orderList, func(i, j int) bool {
		return orderList[i].CreatedAt.After(orderList[j].CreatedAt)
	})
	if filter.Limit > 0 && len(orderList) > filter.Limit {
		orderList = orderList[:filter.Limit]
	}
	return orderList, nil
}

// GetByID returns an order by its ID.
func (r *MockOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &order, nil
}

// GetByPaymentReference returns the order holding ref.
func (r *MockOrderRepository) GetByPaymentReference(_ context.Context, ref string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	order := r.orders[id]
	return &order, nil
}

// Create adds a new order.
func (r *MockOrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	r.orders[order.ID] = *order
	if order.PaymentReference != nil {
		r.byRef[*order.PaymentReference] = order.ID
	}
	return nil
}

// UpdateStatus applies change under the write lock.
func (r *MockOrderRepository) UpdateStatus(_ context.Context, id string, change models.StatusChange, from ...models.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if len(from) > 0 && !slices.Contains(from, order.Status) {
		return ErrStaleTransition
	}

	order.Status = change.Status
	if change.PaymentReference != "" {
		if order.PaymentReference != nil {
			delete(r.byRef, *order.PaymentReference)
		}
		ref := change.PaymentReference
		order.PaymentReference = &ref
		r.byRef[ref] = id
	}
	if change.MerchantRequestID != "" {
		order.MerchantRequestID = change.MerchantRequestID
	}
	if change.PaymentDetails != nil {
		order.PaymentDetails = *change.PaymentDetails
	}
	order.UpdatedAt = time.Now()
	r.orders[id] = order
	return nil
}

// Ping always succeeds.
func (r *MockOrderRepository) Ping(context.Context) error { return nil }
