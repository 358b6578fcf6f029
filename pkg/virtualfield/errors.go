package virtualfield

import (
	"errors"
	"fmt"
)

// ErrInitFailed matches every *InitError
var ErrInitFailed = errors.New("virtual field registry initialization failed")

// InitError reports a failed registry build. Builds that fail are never cached.
type InitError struct {
	Field string
	cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("virtual field registry initialization failed at %s: %v", e.Field, e.cause)
}

func (e *InitError) Unwrap() []error { return []error{ErrInitFailed, e.cause} }
