package chm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned by New for an out-of-range option and is
	// wrapped by the *ArgumentError a Map panics with when handed a nil key or
	// value.
	ErrInvalidArgument = errors.New("chm: invalid argument")
	// ErrCapacityExceeded is returned when a requested capacity cannot be
	// addressed by a single table.
	ErrCapacityExceeded = errors.New("chm: capacity exceeded")
)

// ArgumentError describes a rejected argument. It unwraps to ErrInvalidArgument.
type ArgumentError struct {
	Op     string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidArgument, e.Op, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func invalidArgument(op, format string, args ...any) error {
	return &ArgumentError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
