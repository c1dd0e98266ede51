package connect

import (
	"context"
	"io"
	"net"
	"syscall"

	"github.com/teranos/netpulse/errors"
)

// Class is the retry disposition of a connection failure
type Class int

const (
	// ClassUnexpected is anything unclassified. Not retried; the engine
	// falls back to the next candidate.
	ClassUnexpected Class = iota
	// ClassTransient covers timeouts, unreachable networks and handshake
	// failures. Retried in place with backoff.
	ClassTransient
	// ClassAuthentication is a credential rejection. Not retried; falls
	// back to the next candidate immediately.
	ClassAuthentication
	// ClassConfiguration is invalid connection parameters. Fatal for the
	// whole attempt.
	ClassConfiguration
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassAuthentication:
		return "authentication"
	case ClassConfiguration:
		return "configuration"
	default:
		return "unexpected"
	}
}

// Error carries an explicit class through wrapping
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Class.String() + " error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable in place
func Transient(err error) error {
	return &Error{Class: ClassTransient, Err: err}
}

// Authentication marks err as a credential rejection
func Authentication(err error) error {
	return &Error{Class: ClassAuthentication, Err: err}
}

// Misconfigured marks err as a fatal configuration error
func Misconfigured(err error) error {
	return &Error{Class: ClassConfiguration, Err: errors.Mark(err, errors.ErrConfiguration)}
}

// Classify determines the class of err. Explicitly classed errors win;
// otherwise network and syscall shapes are inspected.
func Classify(err error) Class {
	if err == nil {
		return ClassUnexpected
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, errors.ErrConfiguration) {
		return ClassConfiguration
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout) {
		return ClassTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return ClassConfiguration
		}
		return ClassTransient
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.ETIMEDOUT,
		syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return ClassTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}
	return ClassUnexpected
}
