package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorValidation          ErrorCode = "VALIDATION_ERROR"
	ErrorQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrorNotFound            ErrorCode = "NOT_FOUND"
	ErrorForbidden           ErrorCode = "FORBIDDEN"
	ErrorUpstreamDegraded    ErrorCode = "UPSTREAM_DEGRADED"
	ErrorTokenDecode         ErrorCode = "TOKEN_DECODE_ERROR"
	ErrorSessionInconsistent ErrorCode = "SESSION_INCONSISTENT"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or ErrorInternal when err is not
// a usecase error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorInternal
}
