package auth

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code carried to clients.
type Code string

const (
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS"
	CodeAccountLocked        Code = "ACCOUNT_LOCKED"
	CodeEmailNotVerified     Code = "EMAIL_NOT_VERIFIED"
	CodeSessionLimitExceeded Code = "SESSION_LIMIT_EXCEEDED"
	CodeSessionExpired       Code = "SESSION_EXPIRED"
	CodeInvalidRefreshToken  Code = "INVALID_REFRESH_TOKEN"
	CodeSecurityBreach       Code = "SECURITY_BREACH"
	CodeCsrfTokenMissing     Code = "CSRF_TOKEN_MISSING"
	CodeCsrfTokenInvalid     Code = "CSRF_TOKEN_INVALID"
	CodeInvalidDuration      Code = "INVALID_DURATION"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeAlreadyExists        Code = "ALREADY_EXISTS"
	CodeTwoFactorRequired    Code = "TWO_FACTOR_REQUIRED"
	CodeTwoFactorInvalid     Code = "TWO_FACTOR_INVALID"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeInternal             Code = "INTERNAL"
)

// Error pairs a stable code with a human message. Details carry
// client-facing context such as remaining lock minutes or session
// counts; the wrapped cause never reaches clients.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E builds an Error with the given code and message.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a cause to a new Error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetail returns a copy of the error carrying one extra detail.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	out := &Error{Code: e.Code, Message: e.Message, cause: e.cause}
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return out
}

// CodeOf extracts the stable code from an error chain, defaulting to
// CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// errInvalidCredentials is shared so wrong-username and wrong-password
// paths are indistinguishable to clients.
func errInvalidCredentials() *Error {
	return E(CodeInvalidCredentials, "Invalid credentials")
}
