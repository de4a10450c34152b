package bambutunnel

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind - category of a tunnel failure
type Kind int

const (
	// KindConfig - malformed or incomplete descriptor
	KindConfig Kind = iota + 1
	// KindConnection - TCP connect or TLS handshake failed
	KindConnection
	// KindSequence - operation called in the wrong lifecycle state
	KindSequence
	// KindRetry - no complete sample yet, call again later
	KindRetry
	// KindTransport - I/O failure on an established session
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConnection:
		return "connection"
	case KindSequence:
		return "sequence"
	case KindRetry:
		return "retry"
	case KindTransport:
		return "transport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error - tagged error returned by every session operation
type Error struct {
	Kind Kind
	// Op - operation that failed, e.g. "open"
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable - true only for KindRetry
func (e *Error) Retryable() bool {
	return e.Kind == KindRetry
}

// IsRetryable - err is a tunnel error of KindRetry
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// KindOf - kind of a tunnel error, 0 for anything else
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op string, format string, args ...interface{}) *Error {
	return newError(kind, op, errors.Errorf(format, args...))
}
