package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents categorized error types.
// These codes are stable and can be used for programmatic error handling.
type ErrorCode string

const (
	ErrCodeConfigMissing    ErrorCode = "config_missing"
	ErrCodeSessionExpired   ErrorCode = "session_expired"
	ErrCodeUnknownTicket    ErrorCode = "unknown_ticket"
	ErrCodeServerBusy       ErrorCode = "server_busy"
	ErrCodeSignatureInvalid ErrorCode = "signature_invalid"
	ErrCodeBadRequest       ErrorCode = "bad_request"
	ErrCodeInternal         ErrorCode = "internal_error"
)

// Result codes delivered to callers via redirect parameter or error page.
// "0000" is success, everything else identifies the failure class.
const (
	ResultCodeSuccess          = "0000"
	ResultCodeInternal         = "0001"
	ResultCodeSessionExpired   = "0102"
	ResultCodeUnknownTicket    = "0103"
	ResultCodeServerBusy       = "0105"
	ResultCodeInvalidSignature = "0106"
	ResultCodeBadRequest       = "0107"
)

// String returns the error code as a string.
func (c ErrorCode) String() string {
	return string(c)
}

// ResultCode maps the error code to the wire-level result code.
func (c ErrorCode) ResultCode() string {
	switch c {
	case ErrCodeSessionExpired:
		return ResultCodeSessionExpired
	case ErrCodeUnknownTicket:
		return ResultCodeUnknownTicket
	case ErrCodeServerBusy:
		return ResultCodeServerBusy
	case ErrCodeSignatureInvalid:
		return ResultCodeInvalidSignature
	case ErrCodeBadRequest:
		return ResultCodeBadRequest
	default:
		return ResultCodeInternal
	}
}

// HTTPStatus returns the HTTP status code for this error code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeSessionExpired, ErrCodeUnknownTicket:
		return http.StatusUnauthorized
	case ErrCodeBadRequest, ErrCodeSignatureInvalid:
		return http.StatusBadRequest
	case ErrCodeServerBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AppError is a structured error with code, message, and optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ConfigError creates a configuration error. Configuration errors are fatal
// at startup; they are never produced on the request path.
func ConfigError(message string) *AppError {
	return &AppError{Code: ErrCodeConfigMissing, Message: message}
}

// SessionExpiredError creates an error for a missing or expired
// authentication session.
func SessionExpiredError(rid string) *AppError {
	return &AppError{
		Code:    ErrCodeSessionExpired,
		Message: fmt.Sprintf("no authentication session for rid %q", rid),
	}
}

// UnknownTicketError creates an error for an unknown or expired ticket.
func UnknownTicketError() *AppError {
	return &AppError{Code: ErrCodeUnknownTicket, Message: "unknown ticket"}
}

// ServerBusyError creates an error for an exhausted ticket store.
func ServerBusyError() *AppError {
	return &AppError{Code: ErrCodeServerBusy, Message: "ticket store capacity reached"}
}

// SignatureError creates a signature validation error with optional cause.
func SignatureError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeSignatureInvalid, Message: message, Cause: cause}
}

// BadRequestError creates a bad request error.
func BadRequestError(message string) *AppError {
	return &AppError{Code: ErrCodeBadRequest, Message: message}
}

// InternalError wraps an unexpected failure.
func InternalError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message, Cause: cause}
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal if err is not
// an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}
