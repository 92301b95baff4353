package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable codes for governance failures. Handlers map these to HTTP
// statuses; operators are expected to be able to self-correct from the code
// alone, so every state-machine violation gets its own code.
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeSelfApproval        = "SELF_APPROVAL"
	CodeDuplicateCode       = "DUPLICATE_CODE"
	CodeConflict            = "CONFLICT"
	CodeNotDraft            = "NOT_DRAFT"
	CodeNotSubmitted        = "NOT_SUBMITTED"
	CodeIncompleteTargeting = "INCOMPLETE_TARGETING"
	CodeInternal            = "INTERNAL"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Newf(status int, code string, format string, args ...interface{}) *Error {
	return &Error{Status: status, Code: code, Err: fmt.Errorf(format, args...)}
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return Newf(http.StatusBadRequest, CodeInvalidArgument, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return Newf(http.StatusNotFound, CodeNotFound, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return Newf(http.StatusForbidden, CodeForbidden, format, args...)
}

func SelfApproval(format string, args ...interface{}) *Error {
	return Newf(http.StatusForbidden, CodeSelfApproval, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return Newf(http.StatusConflict, CodeConflict, format, args...)
}

func DuplicateCode(format string, args ...interface{}) *Error {
	return Newf(http.StatusConflict, CodeDuplicateCode, format, args...)
}

func NotDraft(format string, args ...interface{}) *Error {
	return Newf(http.StatusBadRequest, CodeNotDraft, format, args...)
}

func NotSubmitted(format string, args ...interface{}) *Error {
	return Newf(http.StatusBadRequest, CodeNotSubmitted, format, args...)
}

func IncompleteTargeting(format string, args ...interface{}) *Error {
	return Newf(http.StatusBadRequest, CodeIncompleteTargeting, format, args...)
}

// From extracts an *Error from an error chain. Anything that is not an
// *Error is treated as an internal failure.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, CodeInternal, err)
}

// HasCode reports whether err carries the given machine code.
func HasCode(err error, code string) bool {
	ae := From(err)
	return ae != nil && ae.Code == code
}
