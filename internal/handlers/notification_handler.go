package handlers

import (
	"mpesa-orders/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// NotificationHandler exposes the operator notification feed.
type NotificationHandler struct {
	service *services.NotificationService
	log     *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(service *services.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, log: log}
}

// RegisterRoutes registers the notification routes; all of them require auth.
func (h *NotificationHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	notificationRoutes := router.Group("/notifications", auth)
	notificationRoutes.Get("/", h.HandleList)
	notificationRoutes.Patch("/:id/read", h.HandleMarkRead)
}

// HandleList returns notifications, newest first. ?unread=true limits to unread ones.
func (h *NotificationHandler) HandleList(c *fiber.Ctx) error {
	list, err := h.service.List(c.UserContext(), c.QueryBool("unread", false), c.QueryInt("limit", defaultListLimit))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, fiber.StatusOK, list)
}

// HandleMarkRead flags a notification as read.
func (h *NotificationHandler) HandleMarkRead(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.MarkRead(c.UserContext(), id); err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"id": id, "read": true})
}
