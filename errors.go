package msgctx

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedContext matches every *MalformedContextError via errors.Is.
	ErrMalformedContext = errors.New("msgctx: malformed context")

	// ErrIDMismatch is returned when a factory creates a context whose id
	// differs from the requested one.
	ErrIDMismatch = errors.New("msgctx: factory returned context with different id")

	// ErrNoFactory is returned when a context must be created but the
	// provider has no factory.
	ErrNoFactory = errors.New("msgctx: no factory configured")
)

// MalformedContextError reports inbound header bytes that are not valid
// UTF-8 text or do not decode to a context with a correlation id.
type MalformedContextError struct {
	// Reason describes which check failed.
	Reason string
	// Err is the underlying decode error, if any.
	Err error
}

func (e *MalformedContextError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("msgctx: malformed context: %s: %v", e.Reason, e.Err)
	}
	return "msgctx: malformed context: " + e.Reason
}

func (e *MalformedContextError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedContext.
func (e *MalformedContextError) Is(target error) bool {
	return target == ErrMalformedContext
}
