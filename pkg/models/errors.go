package models

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidQuantity    = errors.New("quantity must be positive")

	// ErrVersionConflict is returned when an order changed between read
	// and compare-and-set.
	ErrVersionConflict = errors.New("order version conflict")
)
