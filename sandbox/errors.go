package sandbox

import (
	"errors"
	"fmt"
)

// Kind classifies why a call into the sandbox failed.
type Kind int

const (
	// KindInit covers a missing or invalid artifact, engine setup failures
	// and guest instantiation failures.
	KindInit Kind = iota + 1
	// KindGuest means the guest reported its own error (syntax error,
	// runtime exception, resource exhaustion inside the interpreter).
	KindGuest
	// KindInterrupted means the timeout fired and the engine stopped the guest.
	KindInterrupted
	// KindHostTrap is an engine-level trap that is not a timeout.
	KindHostTrap
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindGuest:
		return "guest"
	case KindInterrupted:
		return "interrupted"
	case KindHostTrap:
		return "host_trap"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrInit        = errors.New("sandbox initialization failed")
	ErrGuest       = errors.New("guest error")
	ErrInterrupted = errors.New("execution timed out")
	ErrHostTrap    = errors.New("host trap")

	// ErrNoResult is wrapped by a KindHostTrap error when the guest returns
	// without reporting a result.
	ErrNoResult = errors.New("guest exited without reporting a result")
)

// Error is the error type returned by Host.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.sentinel().Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindInit:
		return ErrInit
	case KindGuest:
		return ErrGuest
	case KindInterrupted:
		return ErrInterrupted
	case KindHostTrap:
		return ErrHostTrap
	default:
		return nil
	}
}

func initErrorf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInit, Message: fmt.Sprintf(format, args...), Err: err}
}

func guestError(msg string) *Error {
	return &Error{Kind: KindGuest, Message: msg}
}

func hostTrap(err error) *Error {
	return &Error{Kind: KindHostTrap, Message: "execution failed", Err: err}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
