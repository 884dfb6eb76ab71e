package repositories

import (
	"context"
	"fmt"
	"time"

	"mpesa-orders/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMNotificationRepository is a GORM implementation of NotificationRepository.
type GORMNotificationRepository struct {
	db *gorm.DB
}

// NewGORMNotificationRepository creates a new instance of GORMNotificationRepository.
func NewGORMNotificationRepository(db *gorm.DB) *GORMNotificationRepository {
	return &GORMNotificationRepository{db: db}
}

// Create appends a notification.
func (r *GORMNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// List returns notifications, newest first.
func (r *GORMNotificationRepository) List(ctx context.Context, unreadOnly bool, limit int) ([]models.Notification, error) {
	var out []models.Notification
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// CountByOrder counts notifications referencing orderID.
func (r *GORMNotificationRepository) CountByOrder(ctx context.Context, orderID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Notification{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count notifications for order %s: %w", orderID, err)
	}
	return count, nil
}

// MarkRead sets the read flag.
func (r *GORMNotificationRepository) MarkRead(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Update("read", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
