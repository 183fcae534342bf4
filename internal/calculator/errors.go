package calculator

import "errors"

var (
	// ErrInvalidQuantity is returned when the requested number of items is not a positive integer.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	// ErrEmptyCatalog is returned when no pack sizes are available to fulfil an order.
	ErrEmptyCatalog = errors.New("no packs configured")
	// ErrInvalidPackSizes is returned when a pack size list contains non-positive entries.
	ErrInvalidPackSizes = errors.New("pack sizes must be positive integers")
	// ErrBoundExceeded is returned when the bounded search cannot be carried out safely.
	// It signals a defect in bound computation or an adversarial input, never a caller mistake
	// that retrying with the same catalog could fix.
	ErrBoundExceeded = errors.New("pack search bound exceeded")
)
