package fabric

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	// TransportFailure covers a nonzero transport exit or any other
	// transport-level fault.
	TransportFailure ErrorKind = "transport_failure"
	// TransportTimeout covers an operation that exceeded its deadline.
	TransportTimeout ErrorKind = "transport_timeout"
	// ParseFailure covers transport output with no recoverable payload,
	// which only happens on fully empty output.
	ParseFailure ErrorKind = "parse_failure"
)

// Error is a tagged gateway failure. Gateway operations return it instead of
// letting transport faults escape untyped.
type Error struct {
	Kind   ErrorKind
	Op     string // "invoke" or "query"
	Fn     string // chaincode function name
	Output string // transport diagnostic text, when available
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Fn, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the gateway error kind, or "" for non-gateway errors.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// IsTimeout reports whether err is a deadline-exceeded gateway failure.
func IsTimeout(err error) bool {
	return KindOf(err) == TransportTimeout
}

// ExitError reports a transport process that exited nonzero. Its diagnostic
// text is whatever the process wrote to stderr.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("transport exited with code %d: %s", e.Code, e.Stderr)
}
