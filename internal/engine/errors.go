package engine

import (
	"fmt"

	"mindtype/internal/protocol"
)

// Kind classifies engine failures. Every kind maps to the error tag the
// host sees in a response.
type Kind int

const (
	ConfigInvalid Kind = iota + 1
	EngineNotReady
	MalformedRequest
	InternalFailure
	EngineDisposed
)

// String returns the wire tag for k.
func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return protocol.KindConfigInvalid
	case EngineNotReady:
		return protocol.KindEngineNotReady
	case MalformedRequest:
		return protocol.KindMalformedRequest
	case InternalFailure:
		return protocol.KindInternalFailure
	case EngineDisposed:
		return protocol.KindEngineDisposed
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is an engine failure of a given Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotReady)
// works for wrapped causes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel errors, one per kind.
var (
	ErrConfigInvalid = &Error{Kind: ConfigInvalid}
	ErrNotReady      = &Error{Kind: EngineNotReady}
	ErrMalformed     = &Error{Kind: MalformedRequest}
	ErrInternal      = &Error{Kind: InternalFailure}
	ErrDisposed      = &Error{Kind: EngineDisposed}
)

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
