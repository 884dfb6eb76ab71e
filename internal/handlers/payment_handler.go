package handlers

import (
	"errors"

	"mpesa-orders/internal/metrics"
	"mpesa-orders/internal/models"
	"mpesa-orders/internal/services"
	"mpesa-orders/pkg/mpesa"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Acknowledgement codes returned to the gateway. Anything but ackAccepted asks it to redeliver.
const (
	ackAccepted = 0
	ackRetry    = 1
)

// PaymentHandler handles push initiation and the gateway callback.
type PaymentHandler struct {
	service *services.PaymentService
	metrics *metrics.Registry
	log     *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(service *services.PaymentService, m *metrics.Registry, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		metrics: m,
		log:     log,
	}
}

// RegisterRoutes registers the payment routes with the Fiber app.
func (h *PaymentHandler) RegisterRoutes(router fiber.Router) {
	paymentRoutes := router.Group("/payments")
	paymentRoutes.Post("/push", h.HandlePush)
	paymentRoutes.Post("/callback", h.HandleCallback)
}

// HandlePush asks the gateway to prompt the customer's phone for an order's payment.
func (h *PaymentHandler) HandlePush(c *fiber.Ctx) error {
	var req models.PushPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	res, err := h.service.InitiatePush(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, fiber.StatusOK, res)
}

// HandleCallback receives payment results. It always answers 200; the body's resultCode
// tells the gateway whether to redeliver.
func (h *PaymentHandler) HandleCallback(c *fiber.Ctx) error {
	cb, err := mpesa.ParseCallback(c.Body())
	if err != nil {
		h.metrics.Callbacks.WithLabelValues(metrics.CallbackMalformed).Inc()
		h.log.Warn("malformed payment callback", zap.Error(err), zap.Int("bytes", len(c.Body())))
		return ack(c, ackRetry, "Rejected: malformed callback payload")
	}

	outcome, err := h.service.ApplyCallback(c.UserContext(), cb)
	if err != nil {
		if errors.Is(err, mpesa.ErrMalformedCallback) {
			return ack(c, ackRetry, "Rejected: malformed callback payload")
		}
		h.log.Error("payment callback not applied",
			zap.String("checkoutRequestID", cb.CheckoutRequestID),
			zap.Error(err),
		)
		return ack(c, ackRetry, "Temporary failure, please retry")
	}

	h.log.Debug("payment callback handled",
		zap.String("checkoutRequestID", cb.CheckoutRequestID),
		zap.String("outcome", string(outcome)),
	)
	return ack(c, ackAccepted, "Accepted")
}

func ack(c *fiber.Ctx, code int, desc string) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"resultCode": code,
		"resultDesc": desc,
	})
}
