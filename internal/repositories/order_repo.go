package repositories

import (
	"context"

	"mpesa-orders/internal/models"
)

// OrderRepository defines the interface for order data access.
type OrderRepository interface {
	GetAll(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	// GetByPaymentReference looks an order up by the gateway checkout request id.
	GetByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) error
	// UpdateStatus applies change atomically. When from is non-empty the update only
	// happens if the stored status is one of from; otherwise ErrStaleTransition.
	UpdateStatus(ctx context.Context, id string, change models.StatusChange, from ...models.OrderStatus) error
	Ping(ctx context.Context) error
}
