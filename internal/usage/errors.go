package usage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a request is malformed. Nothing is
	// recorded when it is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage is returned when a durable read or write fails.
	ErrStorage = errors.New("storage failure")
)

func invalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
