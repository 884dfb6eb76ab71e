package handlers

import (
	"mpesa-orders/internal/models"
	"mpesa-orders/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const defaultListLimit = 100

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service *services.OrderService
	log     *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		log:     log,
	}
}

// RegisterRoutes registers the order routes. Listing every order is for operators only
// and sits behind auth.
func (h *OrderHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", auth, h.HandleGetOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Post("/", h.HandleCreateOrder)
}

// HandleGetOrders lists orders, newest first, optionally filtered by ?status=.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	filter := models.OrderFilter{
		Status: models.OrderStatus(c.Query("status")),
		Limit:  c.QueryInt("limit", defaultListLimit),
	}
	orders, err := h.service.ListOrders(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, fiber.StatusOK, orders)
}

// HandleGetOrderByID retrieves a single order by its ID.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	order, err := h.service.GetOrderByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, fiber.StatusOK, order)
}

// HandleCreateOrder creates a new order.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var req models.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	order, err := h.service.CreateOrder(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, fiber.StatusCreated, order)
}
