package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, matching what the gateway sends.
	decimal.MarshalJSONWithoutQuotes = true
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	// StatusPendingPayment is a legacy spelling of StatusPaymentPending still found on
	// older records; both mean a push payment is in flight.
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaymentPending OrderStatus = "payment_pending"
	StatusPaid           OrderStatus = "paid"
	StatusPaymentFailed  OrderStatus = "payment_failed"
)

// PaymentMethodMpesa is the only payment method that goes through the gateway.
const PaymentMethodMpesa = "mpesa"

// IsTerminal reports whether no further payment result may change the order.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusPaymentFailed
}

// AwaitingPayment reports whether a push payment has been accepted and the result is outstanding.
func (s OrderStatus) AwaitingPayment() bool {
	return s == StatusPaymentPending || s == StatusPendingPayment
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPendingPayment, StatusPaymentPending, StatusPaid, StatusPaymentFailed:
		return true
	}
	return false
}

// OrderItem represents a single line within an order.
type OrderItem struct {
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
	Quantity int             `json:"quantity" validate:"gt=0"`
	Image    string          `json:"image,omitempty"`
	Brand    string          `json:"brand,omitempty"`
}

// CustomerInfo identifies who placed the order and where it goes.
type CustomerInfo struct {
	Name    string `json:"name" gorm:"type:varchar(255)" validate:"required"`
	Phone   string `json:"phone" gorm:"type:varchar(20)" validate:"required"`
	Address string `json:"address" gorm:"type:text" validate:"required"`
	Email   string `json:"email,omitempty" gorm:"type:varchar(255)" validate:"omitempty,email"`
}

// PaymentDetails is filled in only from gateway callbacks.
type PaymentDetails struct {
	ReceiptNumber string     `json:"receiptNumber,omitempty" gorm:"type:varchar(64)"`
	Amount        string     `json:"amount,omitempty" gorm:"type:varchar(32)"`
	PhoneNumber   string     `json:"phoneNumber,omitempty" gorm:"type:varchar(20)"`
	Reason        string     `json:"reason,omitempty" gorm:"type:text"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
}

// Order represents a customer order and its payment state.
type Order struct {
	ID                string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Items             []OrderItem     `json:"items" gorm:"serializer:json;type:text"`
	Total             decimal.Decimal `json:"total" gorm:"type:numeric(12,2)"`
	CustomerInfo      CustomerInfo    `json:"customerInfo" gorm:"embedded;embeddedPrefix:customer_"`
	PaymentMethod     string          `json:"paymentMethod" gorm:"type:varchar(32)"`
	Status            OrderStatus     `json:"status" gorm:"type:varchar(32);index"`
	PaymentReference  *string         `json:"paymentReference,omitempty" gorm:"uniqueIndex;type:varchar(64)"`
	MerchantRequestID string          `json:"merchantRequestId,omitempty" gorm:"type:varchar(64)"`
	PaymentDetails    PaymentDetails  `json:"paymentDetails" gorm:"embedded;embeddedPrefix:payment_"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// StatusChange describes a single status mutation applied by the store.
// Empty fields are left untouched.
type StatusChange struct {
	Status            OrderStatus
	PaymentReference  string
	MerchantRequestID string
	PaymentDetails    *PaymentDetails
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status OrderStatus
	Limit  int
}
