package models

import "time"

// Severity tags a notification for the operator dashboard.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is an append-only operator message. Only Read is ever mutated.
type Notification struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Message   string    `json:"message" gorm:"type:text"`
	Type      Severity  `json:"type" gorm:"type:varchar(16)"`
	OrderID   string    `json:"orderId,omitempty" gorm:"type:varchar(36);index"`
	Read      bool      `json:"read" gorm:"index"`
	CreatedAt time.Time `json:"createdAt"`
}
