package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"mpesa-orders/internal/metrics"
	"mpesa-orders/internal/models"
	"mpesa-orders/internal/repositories"
	"mpesa-orders/pkg/mpesa"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RetryHint accompanies gateway failures returned to API callers.
const RetryHint = "Payment request could not be completed. Please try again."

// PaymentGateway submits push-payment requests.
type PaymentGateway interface {
	STKPush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error)
}

// CallbackOutcome says what applying a callback did.
type CallbackOutcome string

const (
	OutcomePaid      CallbackOutcome = "paid"
	OutcomeFailed    CallbackOutcome = "failed"
	OutcomeDuplicate CallbackOutcome = "duplicate"
	OutcomeUnmatched CallbackOutcome = "unmatched"
)

// Orders in these states accept a new push attempt; a retry while one is in flight
// replaces the stored payment reference.
var payableStatuses = []models.OrderStatus{
	models.StatusPending,
	models.StatusPendingPayment,
	models.StatusPaymentPending,
}

var awaitingStatuses = []models.OrderStatus{
	models.StatusPaymentPending,
	models.StatusPendingPayment,
}

// PaymentConfig tunes the payment flow.
type PaymentConfig struct {
	// LookupAttempts is how many times an unmatched callback's reference is looked up
	// before it is acknowledged as unmatched.
	LookupAttempts int
	LookupBackoff  time.Duration
	Description    string
}

// PushResult is returned to the caller when the gateway accepts a push request.
type PushResult struct {
	OrderID             string `json:"orderId"`
	CheckoutRequestID   string `json:"checkoutRequestId"`
	MerchantRequestID   string `json:"merchantRequestId"`
	ResponseDescription string `json:"responseDescription"`
	CustomerMessage     string `json:"customerMessage"`
}

// PaymentService owns the order payment lifecycle: it starts push payments and
// reconciles gateway callbacks against stored orders.
type PaymentService struct {
	orderRepo  repositories.OrderRepository
	gateway    PaymentGateway
	notifier   Notifier
	mailer     OrderMailer
	dispatcher Dispatcher
	cfg        PaymentConfig
	validate   *validator.Validate
	metrics    *metrics.Registry
	log        *zap.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	orderRepo repositories.OrderRepository,
	gateway PaymentGateway,
	notifier Notifier,
	mailer OrderMailer,
	dispatcher Dispatcher,
	cfg PaymentConfig,
	m *metrics.Registry,
	log *zap.Logger,
) *PaymentService {
	if cfg.LookupAttempts < 1 {
		cfg.LookupAttempts = 1
	}
	if cfg.Description == "" {
		cfg.Description = "Order payment"
	}
	return &PaymentService{
		orderRepo:  orderRepo,
		gateway:    gateway,
		notifier:   notifier,
		mailer:     mailer,
		dispatcher: dispatcher,
		cfg:        cfg,
		validate:   newValidator(),
		metrics:    m,
		log:        log,
	}
}

// InitiatePush asks the gateway to prompt the customer for payment and records the
// gateway's checkout request id on the order. The order is only reported as awaiting
// payment once that write has succeeded.
func (s *PaymentService) InitiatePush(ctx context.Context, req models.PushPaymentRequest) (*PushResult, error) {
	if err := validateStruct(s.validate, req); err != nil {
		s.metrics.PushRequests.WithLabelValues(metrics.PushInvalid).Inc()
		return nil, err
	}

	order, err := s.orderRepo.GetByID(ctx, req.OrderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, req.OrderID)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get order", Err: err}
	}

	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		s.metrics.PushRequests.WithLabelValues(metrics.PushInvalid).Inc()
		return nil, NewValidationError("phoneNumber", err.Error())
	}
	if !req.Amount.Equal(order.Total) {
		s.metrics.PushRequests.WithLabelValues(metrics.PushInvalid).Inc()
		return nil, NewValidationError("amount",
			fmt.Sprintf("amount %s does not match order total %s", req.Amount.String(), order.Total.String()))
	}
	// The gateway only charges whole shillings.
	if !req.Amount.IsInteger() {
		s.metrics.PushRequests.WithLabelValues(metrics.PushInvalid).Inc()
		return nil, NewValidationError("amount",
			fmt.Sprintf("amount %s must be a whole number of shillings", req.Amount.String()))
	}
	if !slices.Contains(payableStatuses, order.Status) {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, order.ID, order.Status)
	}

	started := time.Now()
	resp, err := s.gateway.STKPush(ctx, mpesa.PushRequest{
		Amount:           req.Amount.IntPart(),
		PhoneNumber:      phone,
		AccountReference: order.ID,
		Description:      s.cfg.Description,
	})
	s.metrics.GatewayLatencySec.Observe(time.Since(started).Seconds())
	if err != nil {
		s.metrics.PushRequests.WithLabelValues(metrics.PushRejected).Inc()
		upstream := toUpstreamError(err)
		s.log.Warn("push payment request failed",
			zap.String("orderID", order.ID),
			zap.Int("gatewayStatus", upstream.StatusCode),
			zap.Error(err),
		)
		s.notifier.Notify(Notice{
			Event:    EventPaymentRequestFailed,
			Message:  fmt.Sprintf("Payment request for order %s failed: %s", order.ID, upstream.Message),
			Severity: models.SeverityError,
			OrderID:  order.ID,
		})
		return nil, upstream
	}

	err = s.orderRepo.UpdateStatus(ctx, order.ID, models.StatusChange{
		Status:            models.StatusPaymentPending,
		PaymentReference:  resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
	}, payableStatuses...)
	if err != nil {
		// The gateway will call back with a reference nothing points to.
		s.log.Error("failed to record payment reference",
			zap.String("orderID", order.ID),
			zap.String("checkoutRequestID", resp.CheckoutRequestID),
			zap.Error(err),
		)
		if errors.Is(err, repositories.ErrStaleTransition) {
			return nil, fmt.Errorf("%w: order %s changed while the payment was requested", ErrInvalidTransition, order.ID)
		}
		return nil, &PersistenceError{Op: "record payment reference", Err: err}
	}

	if previous := order.PaymentReference; previous != nil && *previous != "" && *previous != resp.CheckoutRequestID {
		// A result for the earlier prompt will no longer match this order.
		s.log.Warn("payment reference superseded",
			zap.String("orderID", order.ID),
			zap.String("previousCheckoutRequestID", *previous),
			zap.String("checkoutRequestID", resp.CheckoutRequestID),
		)
	}

	s.metrics.PushRequests.WithLabelValues(metrics.PushAccepted).Inc()
	s.log.Info("push payment initiated",
		zap.String("orderID", order.ID),
		zap.String("checkoutRequestID", resp.CheckoutRequestID),
	)
	s.notifier.Notify(Notice{
		Event:    EventPaymentInitiated,
		Message:  fmt.Sprintf("Payment of KES %s requested from %s for order %s", order.Total.StringFixed(2), phone, order.ID),
		Severity: models.SeverityInfo,
		OrderID:  order.ID,
	})

	return &PushResult{
		OrderID:             order.ID,
		CheckoutRequestID:   resp.CheckoutRequestID,
		MerchantRequestID:   resp.MerchantRequestID,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

// ApplyCallback reconciles a gateway result with the order holding its checkout request id.
// Unknown references and repeated deliveries are not errors. An error is returned only
// when the store fails, in which case the gateway should redeliver.
func (s *PaymentService) ApplyCallback(ctx context.Context, cb *mpesa.Callback) (CallbackOutcome, error) {
	if cb == nil || cb.CheckoutRequestID == "" || cb.Result == nil {
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackMalformed).Inc()
		return "", mpesa.ErrMalformedCallback
	}
	log := s.log.With(zap.String("checkoutRequestID", cb.CheckoutRequestID), zap.Int("resultCode", cb.ResultCode))

	order, err := s.findByReference(ctx, cb.CheckoutRequestID)
	if errors.Is(err, repositories.ErrNotFound) {
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackUnmatched).Inc()
		log.Warn("callback matches no order", zap.String("resultDesc", cb.ResultDesc))
		return OutcomeUnmatched, nil
	}
	if err != nil {
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackError).Inc()
		return "", &PersistenceError{Op: "find order by payment reference", Err: err}
	}
	log = log.With(zap.String("orderID", order.ID))

	if order.Status.IsTerminal() {
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackDuplicate).Inc()
		log.Info("callback for settled order ignored", zap.String("status", string(order.Status)))
		return OutcomeDuplicate, nil
	}

	now := time.Now().UTC()
	var (
		change  models.StatusChange
		outcome CallbackOutcome
	)
	switch r := cb.Result.(type) {
	case mpesa.Confirmation:
		outcome = OutcomePaid
		change = models.StatusChange{
			Status: models.StatusPaid,
			PaymentDetails: &models.PaymentDetails{
				ReceiptNumber: r.ReceiptNumber,
				Amount:        r.Amount,
				PhoneNumber:   r.PhoneNumber,
				CompletedAt:   &now,
			},
		}
	case mpesa.Rejection:
		outcome = OutcomeFailed
		change = models.StatusChange{
			Status: models.StatusPaymentFailed,
			PaymentDetails: &models.PaymentDetails{
				Reason:   r.Reason,
				FailedAt: &now,
			},
		}
	default:
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackMalformed).Inc()
		return "", mpesa.ErrMalformedCallback
	}

	err = s.orderRepo.UpdateStatus(ctx, order.ID, change, awaitingStatuses...)
	if errors.Is(err, repositories.ErrStaleTransition) {
		// A concurrent delivery of the same result got there first.
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackDuplicate).Inc()
		log.Info("callback lost race to a concurrent delivery")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackError).Inc()
		log.Error("failed to apply callback", zap.Error(err))
		return "", &PersistenceError{Op: "apply payment result", Err: err}
	}

	order.Status = change.Status
	order.PaymentDetails = *change.PaymentDetails

	if outcome == OutcomePaid {
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackPaid).Inc()
		log.Info("order paid", zap.String("receipt", order.PaymentDetails.ReceiptNumber))
		s.afterPaid(*order)
	} else {
		s.metrics.Callbacks.WithLabelValues(metrics.CallbackFailed).Inc()
		log.Info("order payment failed", zap.String("reason", order.PaymentDetails.Reason))
		s.notifier.Notify(Notice{
			Event:    EventPaymentFailed,
			Message:  fmt.Sprintf("Payment for order %s failed: %s", order.ID, order.PaymentDetails.Reason),
			Severity: models.SeverityWarning,
			OrderID:  order.ID,
		})
	}
	return outcome, nil
}

// findByReference retries not-found lookups with linear backoff to cover callbacks that
// overtake the write recording the reference.
func (s *PaymentService) findByReference(ctx context.Context, ref string) (*models.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.LookupAttempts; attempt++ {
		order, err := s.orderRepo.GetByPaymentReference(ctx, ref)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
		lastErr = err
		if attempt == s.cfg.LookupAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(s.cfg.LookupBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (s *PaymentService) afterPaid(order models.Order) {
	s.notifier.Notify(Notice{
		Event: EventPaymentCompleted,
		Message: fmt.Sprintf("Payment of KES %s received for order %s (receipt %s)",
			order.PaymentDetails.Amount, order.ID, order.PaymentDetails.ReceiptNumber),
		Severity: models.SeveritySuccess,
		OrderID:  order.ID,
	})
	if order.CustomerInfo.Email != "" {
		s.enqueue("confirmation_email", order.ID, func(ctx context.Context) error {
			return s.mailer.SendConfirmation(ctx, order)
		})
	}
	s.enqueue("admin_email", order.ID, func(ctx context.Context) error {
		return s.mailer.SendAdminAlert(ctx, order)
	})
}

func (s *PaymentService) enqueue(name, orderID string, job Job) {
	if err := s.dispatcher.Enqueue(name, job); err != nil {
		s.log.Warn("side effect not queued", zap.String("job", name), zap.String("orderID", orderID), zap.Error(err))
	}
}

func toUpstreamError(err error) *UpstreamError {
	op := "stkpush"
	if errors.Is(err, mpesa.ErrToken) {
		op = "token"
	}
	var apiErr *mpesa.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Op: op, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return &UpstreamError{Op: op, Message: err.Error(), Err: err}
}
