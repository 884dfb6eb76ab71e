package repositories

import "errors"

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrStaleTransition is returned when a guarded status update finds the order in a
	// status other than the expected ones.
	ErrStaleTransition = errors.New("order status changed concurrently")
)
