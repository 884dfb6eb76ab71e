package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned when the order's status does not allow the operation.
	ErrInvalidTransition = errors.New("order status does not allow this operation")
	// ErrNotificationNotFound is returned for unknown notification ids.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrInvalidCredentials is returned on failed operator login.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError reports bad caller input. Fields maps each offending field to a message.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// UpstreamError wraps a payment gateway failure. StatusCode is the gateway's HTTP
// status, zero when the gateway was unreachable.
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %s", e.Op, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure that must not be masked.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
