package models

import "github.com/shopspring/decimal"

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Items         []OrderItem     `json:"items" validate:"required,min=1,dive"`
	Total         decimal.Decimal `json:"total" validate:"gt=0"`
	CustomerInfo  CustomerInfo    `json:"customerInfo"`
	PaymentMethod string          `json:"paymentMethod" validate:"required"`
}

// PushPaymentRequest is the body of POST /payments/push.
type PushPaymentRequest struct {
	PhoneNumber string          `json:"phoneNumber" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	OrderID     string          `json:"orderId" validate:"required"`
}

// LoginRequest represents the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}
