package domain

import (
	"errors"
	"fmt"
)

// Code is a stable error classification attached to errors as they cross a
// component boundary. The retrier inspects only the code to decide retry
// eligibility; callers inspect it to distinguish terminal states from faults.
type Code string

const (
	CodeValidation        Code = "validation"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeVenueTransient    Code = "venue_transient"
	CodeBundleFailed      Code = "bundle_failed"
	CodePriceUnavailable  Code = "price_unavailable"
	CodeNotFound          Code = "position_not_found"
	CodeAlreadyExists     Code = "already_exists"
	CodeUnknown           Code = "unknown"
)

// CodedError wraps a lower-level error with an operation tag and a Code.
type CodedError struct {
	Code Code
	Op   string
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CodedError) Unwrap() error { return e.Err }

// Coded wraps err with an operation tag and code. A nil err yields an error
// carrying just the op and code, for failures with no underlying cause.
func Coded(code Code, op string, err error) error {
	return &CodedError{Code: code, Op: op, Err: err}
}

// Codedf is Coded with a formatted message instead of a wrapped cause.
func Codedf(code Code, op, format string, args ...any) error {
	return &CodedError{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf walks the error chain and returns the first Code found, or
// CodeUnknown when no CodedError is present.
func CodeOf(err error) Code {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}
