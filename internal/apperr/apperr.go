// Package apperr defines the error taxonomy shared by the routing core and the API.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeValidation   Code = "validation"
	CodeBusinessRule Code = "business_rule"
	CodeConflict     Code = "conflict"
	CodeDependency   Code = "dependency"
	CodeInternal     Code = "internal"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...), nil)
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...), nil)
}

func BusinessRule(format string, args ...any) *Error {
	return New(CodeBusinessRule, fmt.Sprintf(format, args...), nil)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, fmt.Sprintf(format, args...), nil)
}

// Dependency wraps a failed collaborator call
func Dependency(message string, err error) *Error {
	return New(CodeDependency, message, err)
}

// CodeOf returns the code of the first *Error in err's chain.
// Context deadline errors count as dependency failures.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeDependency
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether retrying the same operation may succeed
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeDependency, CodeConflict:
		return true
	}
	return false
}

// FromContext converts a timed-out or cancelled collaborator call into a dependency error
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Dependency(op+" timed out", err)
	}
	return Dependency(op+" failed", err)
}

// HTTPStatus maps an error to the status code the API responds with
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeBusinessRule:
		return http.StatusUnprocessableEntity
	case CodeConflict:
		return http.StatusConflict
	case CodeDependency:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
