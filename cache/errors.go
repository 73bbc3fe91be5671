package cache

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation is attempted on an
// adapter before Connect or after Disconnect.
var ErrNotConnected = errors.New("cache: adapter not connected")

// AdapterError wraps a backend failure (unreachable store, auth
// failure, protocol error). Absence of a key is never an AdapterError;
// it is reported through the found/bool return values.
//
// The throttle engine matches on this type at its boundary to convert
// storage outages into the configured fail-open or fail-closed verdict.
type AdapterError struct {
	Backend string
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// adapterErr wraps err as an AdapterError, passing nil through.
func adapterErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Backend: backend, Op: op, Err: err}
}

// IsAdapterError reports whether err is (or wraps) a backend failure.
func IsAdapterError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae)
}
