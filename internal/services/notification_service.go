package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mpesa-orders/internal/models"
	"mpesa-orders/internal/repositories"

	"go.uber.org/zap"
)

// Event types published alongside notifications.
const (
	EventOrderCreated         = "order.created"
	EventPaymentInitiated     = "payment.initiated"
	EventPaymentRequestFailed = "payment.request_failed"
	EventPaymentCompleted     = "payment.completed"
	EventPaymentFailed        = "payment.failed"
)

// Notice is a single operator notification.
type Notice struct {
	Event    string
	Message  string
	Severity models.Severity
	OrderID  string
}

// Notifier is a fire-and-forget notification sink; failures never reach the caller.
type Notifier interface {
	Notify(n Notice)
}

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, payload any) error
}

// OrderEvent is the broker payload for a notice.
type OrderEvent struct {
	Type       string          `json:"type"`
	OrderID    string          `json:"orderId,omitempty"`
	Message    string          `json:"message"`
	Severity   models.Severity `json:"severity"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NotificationService stores notifications and publishes them as events, both on the
// dispatcher's workers.
type NotificationService struct {
	repo       repositories.NotificationRepository
	publisher  EventPublisher // optional
	dispatcher Dispatcher
	log        *zap.Logger
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(repo repositories.NotificationRepository, publisher EventPublisher, dispatcher Dispatcher, log *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:       repo,
		publisher:  publisher,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Notify queues n for persistence and publication.
func (s *NotificationService) Notify(n Notice) {
	occurredAt := time.Now()
	err := s.dispatcher.Enqueue("notification", func(ctx context.Context) error {
		var errs []error
		record := &models.Notification{
			Message:   n.Message,
			Type:      n.Severity,
			OrderID:   n.OrderID,
			CreatedAt: occurredAt,
		}
		if err := s.repo.Create(ctx, record); err != nil {
			errs = append(errs, err)
		}
		if s.publisher != nil && n.Event != "" {
			event := OrderEvent{
				Type:       n.Event,
				OrderID:    n.OrderID,
				Message:    n.Message,
				Severity:   n.Severity,
				OccurredAt: occurredAt,
			}
			if err := s.publisher.PublishEvent(ctx, n.Event, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		s.log.Warn("notification not queued", zap.String("event", n.Event), zap.String("orderID", n.OrderID), zap.Error(err))
	}
}

// List returns notifications, newest first.
func (s *NotificationService) List(ctx context.Context, unreadOnly bool, limit int) ([]models.Notification, error) {
	out, err := s.repo.List(ctx, unreadOnly, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list notifications", Err: err}
	}
	return out, nil
}

// MarkRead flags a notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	err := s.repo.MarkRead(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}
	if err != nil {
		return &PersistenceError{Op: "mark notification read", Err: err}
	}
	return nil
}
