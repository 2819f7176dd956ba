package partition

import "errors"

var (
	// ErrNegativeTotal is returned when the item count is below zero.
	ErrNegativeTotal = errors.New("partition: total items must not be negative")

	// ErrInvalidPageSize is returned when the page size is zero or negative.
	ErrInvalidPageSize = errors.New("partition: page size must be positive")

	// ErrShrunkTotal is returned when an extension is asked for fewer items
	// than were already partitioned.
	ErrShrunkTotal = errors.New("partition: total items decreased")
)
