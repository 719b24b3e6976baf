package errors

import (
	"context"
	stderrors "errors"
)

// CheckContext returns an error if the context is canceled or timed out.
// Deadline expiry maps to Timeout, explicit cancellation to Canceled.
func CheckContext(ctx context.Context, operation string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, Timeout, operation+" timed out")
	}
	return Wrap(err, Canceled, operation+" canceled")
}

// Code extracts the ErrorCode from an error chain, returning Unknown
// for errors produced outside this package.
func Code(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code()
	}
	return Unknown
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code() == code
	}
	return false
}
