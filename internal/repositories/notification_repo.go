package repositories

import (
	"context"

	"mpesa-orders/internal/models"
)

// NotificationRepository stores operator notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, unreadOnly bool, limit int) ([]models.Notification, error)
	CountByOrder(ctx context.Context, orderID string) (int64, error)
	MarkRead(ctx context.Context, id string) error
}
