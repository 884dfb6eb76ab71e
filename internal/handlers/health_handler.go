package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus reports the message broker connection state.
type BrokerStatus interface {
	Connected() bool
}

// GatewayStatus reports whether gateway credentials are present.
type GatewayStatus interface {
	Configured() bool
}

// HealthHandler summarizes dependency state. It answers 200 even when degraded.
type HealthHandler struct {
	db      Pinger
	broker  BrokerStatus // nil when publishing is disabled
	gateway GatewayStatus
}

// NewHealthHandler creates a new HealthHandler. broker may be nil.
func NewHealthHandler(db Pinger, broker BrokerStatus, gateway GatewayStatus) *HealthHandler {
	return &HealthHandler{db: db, broker: broker, gateway: gateway}
}

// RegisterRoutes registers GET /health.
func (h *HealthHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.HandleHealth)
}

// HandleHealth reports service and dependency status.
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	status := "healthy"
	checks := fiber.Map{}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		status = "degraded"
		checks["database"] = "error: " + err.Error()
	} else {
		checks["database"] = "ok"
	}

	switch {
	case h.broker == nil:
		checks["rabbitmq"] = "disabled"
	case h.broker.Connected():
		checks["rabbitmq"] = "connected"
	default:
		status = "degraded"
		checks["rabbitmq"] = "disconnected"
	}

	if h.gateway != nil && h.gateway.Configured() {
		checks["gateway"] = "configured"
	} else {
		checks["gateway"] = "not configured"
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
		"checks": checks,
	})
}
