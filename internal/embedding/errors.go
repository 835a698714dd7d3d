package embedding

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the inference core.
type Kind int

const (
	// KindUnknown is any error not produced by this package.
	KindUnknown Kind = iota
	// KindNotReady means the model is still loading.
	KindNotReady
	// KindEncodeFailure means the model artifact failed on this input. Not retried.
	KindEncodeFailure
	// KindUnavailable means the engine is shutting down or stopped.
	KindUnavailable
	// KindInvalidInput means the request itself is malformed.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotReady:
		return "not_ready"
	case KindEncodeFailure:
		return "encode_failure"
	case KindUnavailable:
		return "unavailable"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrNotReady      = errors.New("model not ready")
	ErrEncodeFailure = errors.New("encode failed")
	ErrUnavailable   = errors.New("engine unavailable")
	ErrInvalidInput  = errors.New("invalid input")
)

// Error is a classified failure from the handle or engine.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the Kind's sentinel.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotReady:
		return ErrNotReady
	case KindEncodeFailure:
		return ErrEncodeFailure
	case KindUnavailable:
		return ErrUnavailable
	case KindInvalidInput:
		return ErrInvalidInput
	default:
		return nil
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
