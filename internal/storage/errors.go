package storage

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEventNotFound is returned when a photo references an event that does not exist.
	ErrEventNotFound = errors.New("event not found")

	// ErrInvalidTransition is returned when a status update would break the status order.
	ErrInvalidTransition = errors.New("invalid status transition")
)
