package handlers

import (
	"errors"

	"mpesa-orders/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func fail(c *fiber.Ctx, status int, message string, fields map[string]string) error {
	body := fiber.Map{
		"success": false,
		"message": message,
	}
	if len(fields) > 0 {
		body["errors"] = fields
	}
	return c.Status(status).JSON(body)
}

func ok(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func badBody(c *fiber.Ctx, err error) error {
	return fail(c, fiber.StatusBadRequest, "Invalid request body", map[string]string{"body": err.Error()})
}

// respondError maps the service error taxonomy onto HTTP statuses.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var (
		verr     *services.ValidationError
		upstream *services.UpstreamError
		perr     *services.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		return fail(c, fiber.StatusBadRequest, "Validation failed", verr.Fields)
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrNotificationNotFound):
		return fail(c, fiber.StatusNotFound, err.Error(), nil)
	case errors.Is(err, services.ErrInvalidTransition):
		return fail(c, fiber.StatusConflict, err.Error(), nil)
	case errors.Is(err, services.ErrInvalidCredentials):
		return fail(c, fiber.StatusUnauthorized, "Authentication failed", nil)
	case errors.As(err, &upstream):
		status := upstream.StatusCode
		if status < 400 {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"message": services.RetryHint,
			"error":   upstream.Message,
		})
	case errors.As(err, &perr):
		log.Error("persistence failure", zap.String("path", c.Path()), zap.String("op", perr.Op), zap.Error(perr.Err))
		return fail(c, fiber.StatusInternalServerError, "Internal server error", nil)
	default:
		log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Internal server error", nil)
	}
}
