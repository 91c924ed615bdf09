package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrTransport          = errors.New("transport failure")
	ErrProtocol           = errors.New("protocol violation")
	ErrEmptyIDs           = errors.New("empty id list")
	ErrMissingContent     = errors.New("missing content")
	ErrEmptyQuery         = errors.New("empty query")
	ErrNonNormalizedField = errors.New("field name is not normalized")
)

// TransportError reports a network, timeout or connection failure reaching the
// vector index or the embedding gateway. It is never retried internally.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// NewTransportError creates a TransportError.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// ProtocolError reports a transport-level success whose response lacks the
// structure the caller expects.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %s", e.Op, e.Detail)
}

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// NewProtocolError creates a ProtocolError.
func NewProtocolError(op, format string, args ...any) *ProtocolError {
	return &ProtocolError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// ValidationError wraps a sentinel with context. Validation failures are
// handled by skipping the offending unit.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsBatchFailure reports whether err is a transport or protocol failure, the
// two kinds that escalate to the calling operation.
func IsBatchFailure(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocol)
}
