package aselect

import (
	"github.com/renait/aselect-sub006/internal/core/domain"
)

// Re-export error types from domain package so embedding applications never
// import internal packages directly.
type ErrorCode = domain.ErrorCode
type AppError = domain.AppError

// Re-export error code constants
const (
	ErrCodeConfigMissing    = domain.ErrCodeConfigMissing
	ErrCodeSessionExpired   = domain.ErrCodeSessionExpired
	ErrCodeUnknownTicket    = domain.ErrCodeUnknownTicket
	ErrCodeServerBusy       = domain.ErrCodeServerBusy
	ErrCodeSignatureInvalid = domain.ErrCodeSignatureInvalid
	ErrCodeBadRequest       = domain.ErrCodeBadRequest
	ErrCodeInternal         = domain.ErrCodeInternal
)

// Re-export wire-level result codes
const (
	ResultCodeSuccess          = domain.ResultCodeSuccess
	ResultCodeInternal         = domain.ResultCodeInternal
	ResultCodeSessionExpired   = domain.ResultCodeSessionExpired
	ResultCodeUnknownTicket    = domain.ResultCodeUnknownTicket
	ResultCodeServerBusy       = domain.ResultCodeServerBusy
	ResultCodeInvalidSignature = domain.ResultCodeInvalidSignature
	ResultCodeBadRequest       = domain.ResultCodeBadRequest
)

// Re-export error constructors
var (
	ConfigError         = domain.ConfigError
	SessionExpiredError = domain.SessionExpiredError
	UnknownTicketError  = domain.UnknownTicketError
	ServerBusyError     = domain.ServerBusyError
	SignatureError      = domain.SignatureError
	BadRequestError     = domain.BadRequestError
	InternalError       = domain.InternalError
	CodeOf              = domain.CodeOf
)
