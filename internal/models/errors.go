package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy every user-visible failure maps onto.
type ErrorKind string

const (
	KindSourceUnavailable   ErrorKind = "SourceUnavailable"
	KindRateLimited         ErrorKind = "RateLimited"
	KindInsufficientHistory ErrorKind = "InsufficientHistory"
	KindSchemaMismatch      ErrorKind = "SchemaMismatch"
	KindRegressionBlocked   ErrorKind = "RegressionBlocked"
	KindAlreadyRunning      ErrorKind = "AlreadyRunning"
	KindUnknownSymbol       ErrorKind = "UnknownSymbol"
	KindUnknownKind         ErrorKind = "UnknownKind"
	KindUnavailable         ErrorKind = "Unavailable"
	KindStorageError        ErrorKind = "StorageError"
	KindConfigError         ErrorKind = "ConfigError"
)

// AppError carries an ErrorKind across the API boundary. Everything the HTTP
// layer returns as {"status":"error"} wraps one of these.
type AppError struct {
	Kind    ErrorKind
	Message string
	// RetryAfterSec is set on RateLimited when the upstream advertised a
	// reset interval.
	RetryAfterSec int
	cause         error
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// NewAppError builds an AppError with a formatted message.
func NewAppError(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapAppError attaches a cause so errors.Is/As keep working through the kind.
func WrapAppError(kind ErrorKind, cause error, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified errors
// report StorageError's sibling catch-all, Unavailable, only when asked by the
// caller; here they simply return ok=false.
func KindOf(err error) (ErrorKind, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
