package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mpesa-orders/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

// GetAll retrieves orders, newest first.
func (r *GORMOrderRepository) GetAll(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var orders []models.Order
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	return orders, nil
}

// GetByID retrieves a single order by its ID.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByPaymentReference uses the unique payment_reference index.
func (r *GORMOrderRepository) GetByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	return r.first(ctx, "payment_reference = ?", ref)
}

func (r *GORMOrderRepository) first(ctx context.Context, query string, arg string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order (%s %s): %w", query, arg, err)
	}
	return &order, nil
}

// Create inserts a new order, assigning an ID when missing.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// UpdateStatus runs a single conditional UPDATE so the status guard and the write are atomic.
func (r *GORMOrderRepository) UpdateStatus(ctx context.Context, id string, change models.StatusChange, from ...models.OrderStatus) error {
	updates := map[string]interface{}{
		"status":     string(change.Status),
		"updated_at": time.Now(),
	}
	if change.PaymentReference != "" {
		updates["payment_reference"] = change.PaymentReference
	}
	if change.MerchantRequestID != "" {
		updates["merchant_request_id"] = change.MerchantRequestID
	}
	if d := change.PaymentDetails; d != nil {
		updates["payment_receipt_number"] = d.ReceiptNumber
		updates["payment_amount"] = d.Amount
		updates["payment_phone_number"] = d.PhoneNumber
		updates["payment_reason"] = d.Reason
		updates["payment_completed_at"] = d.CompletedAt
		updates["payment_failed_at"] = d.FailedAt
	}

	q := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", statusStrings(from))
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check order %s: %w", id, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleTransition
}

// Ping checks the database connection.
func (r *GORMOrderRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
