// Package errors is the error vocabulary of netpulse.
//
// It re-exports github.com/cockroachdb/errors so every package wraps, inspects
// and annotates errors the same way, and adds the sentinels the daemon
// classifies on.
//
//	if err := store.CreateExecution(ctx, rec); err != nil {
//	    return errors.Wrap(err, "failed to create execution")
//	}
//
// See https://pkg.go.dev/github.com/cockroachdb/errors for the full surface.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Construction and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// Hints and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	GetAllHints        = crdb.GetAllHints
	GetAllDetails      = crdb.GetAllDetails
	FlattenDetails     = crdb.FlattenDetails
)

// Inspection
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
	Join       = crdb.Join
)

// Sentinels shared across packages. Match them with errors.Is and wrap them
// with errors.Wrap or errors.Mark to add context without losing identity.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrConfiguration indicates invalid or incomplete schedule or connection
	// parameters. It is fatal and never retried.
	ErrConfiguration = New("configuration error")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrCanceled indicates that cooperative cancellation was observed
	ErrCanceled = New("canceled")
)

// IsNotFoundError reports whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConfigurationError reports whether err is or wraps ErrConfiguration.
func IsConfigurationError(err error) bool {
	return err != nil && Is(err, ErrConfiguration)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewConfigurationError creates a configuration error with a formatted message
func NewConfigurationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConfiguration)
}
