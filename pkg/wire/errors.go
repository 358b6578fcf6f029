package wire

import (
	"errors"
	"fmt"
)

// ErrMalformedSpec matches every *FormatError
var ErrMalformedSpec = errors.New("malformed spec")

// FormatError reports wire input with the wrong shape.
// Key is the path of the offending member and Kind the JSON node kind found there.
type FormatError struct {
	Key  string
	Kind string
	Msg  string
}

func (e *FormatError) Error() string {
	switch {
	case e.Key != "" && e.Kind != "":
		return fmt.Sprintf("malformed spec: %s: %s, got %s", e.Key, e.Msg, e.Kind)
	case e.Key != "":
		return fmt.Sprintf("malformed spec: %s: %s", e.Key, e.Msg)
	case e.Kind != "":
		return fmt.Sprintf("malformed spec: %s, got %s", e.Msg, e.Kind)
	default:
		return "malformed spec: " + e.Msg
	}
}

func (e *FormatError) Unwrap() error { return ErrMalformedSpec }

// Errorf builds a FormatError for key without a node kind
func Errorf(key, format string, args ...any) *FormatError {
	return &FormatError{Key: key, Msg: fmt.Sprintf(format, args...)}
}

// KindError builds a FormatError naming the kind of node found at key
func KindError(key string, node any, expected string) *FormatError {
	return &FormatError{Key: key, Kind: KindOf(node), Msg: "expected " + expected}
}
