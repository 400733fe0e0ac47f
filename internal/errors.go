package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/frahmantamala/expense-approval/internal/workflow"
)

type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized  ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden     ErrorType = "FORBIDDEN"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypeUnprocessable ErrorType = "UNPROCESSABLE"
	ErrorTypeInternal      ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal      ErrorType = "EXTERNAL_ERROR"
	ErrorTypeClientClosed  ErrorType = "CLIENT_CLOSED"
)

// StatusClientClosedRequest is the non-standard status proxies log when the
// client went away before the response.
const StatusClientClosedRequest = 499

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidStatus    ErrorCode = "INVALID_STATUS"
	ErrCodeInvalidVersion   ErrorCode = "INVALID_VERSION"

	ErrCodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"
	ErrCodeRequestNotFound   ErrorCode = "REQUEST_NOT_FOUND"
	ErrCodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"
	ErrCodeForbiddenScope    ErrorCode = "FORBIDDEN_SCOPE"
	ErrCodeTerminalState     ErrorCode = "TERMINAL_STATE"
	ErrCodeStaleVersion      ErrorCode = "STALE_VERSION"
	ErrCodeStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeRequestAbandoned  ErrorCode = "REQUEST_ABANDONED"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	ErrCodeRoleRequired ErrorCode = "ROLE_REQUIRED"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy carrying cause so shared sentinels stay untouched.
func (e *AppError) WithCause(cause error) *AppError {
	c := *e
	c.Cause = cause
	return &c
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	c := *e
	c.Details = details
	return &c
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewUnprocessableError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnprocessable,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewUnavailableError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func NewClientClosedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeClientClosed,
		Code:       code,
		Message:    message,
		StatusCode: StatusClientClosedRequest,
	}
}

var (
	ErrUnauthenticated   = NewUnauthorizedError("Authentication required", ErrCodeUnauthenticated)
	ErrRequestNotFound   = NewNotFoundError("Expense request not found", ErrCodeRequestNotFound)
	ErrIllegalTransition = NewUnprocessableError("Transition is not allowed from the current status", ErrCodeIllegalTransition)
	ErrForbiddenScope    = NewForbiddenError("Request is outside your approval scope", ErrCodeForbiddenScope)
	ErrTerminalState     = NewConflictError("Request has already been decided", ErrCodeTerminalState)
	ErrStaleVersion      = NewConflictError("Request was modified by someone else, reload and retry", ErrCodeStaleVersion)
	ErrStoreUnavailable  = NewUnavailableError("Request store is unavailable", ErrCodeStoreUnavailable)
	ErrRequestAbandoned  = NewClientClosedError("Request was abandoned before it was applied", ErrCodeRequestAbandoned)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrRoleRequired = NewForbiddenError("Your role cannot access this resource", ErrCodeRoleRequired)
)

var kindErrors = map[workflow.ErrorKind]*AppError{
	workflow.KindUnauthenticated:   ErrUnauthenticated,
	workflow.KindNotFound:          ErrRequestNotFound,
	workflow.KindIllegalTransition: ErrIllegalTransition,
	workflow.KindForbiddenScope:    ErrForbiddenScope,
	workflow.KindTerminalState:     ErrTerminalState,
	workflow.KindStaleVersion:      ErrStaleVersion,
	workflow.KindStoreUnavailable:  ErrStoreUnavailable,
	workflow.KindAbandoned:         ErrRequestAbandoned,
}

// ToAppError maps any error returned by the service layer to the HTTP
// error model. Unknown errors become internal errors.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if mapped, ok := kindErrors[workflow.KindOf(err)]; ok {
		out := mapped.WithCause(err)
		var te *workflow.TransitionError
		if errors.As(err, &te) && te.RequestID != "" {
			details := map[string]interface{}{"request_id": te.RequestID}
			if te.From != "" {
				details["current_status"] = te.From
			}
			if te.To != "" {
				details["target_status"] = te.To
			}
			out = out.WithDetails(details)
		}
		return out
	}
	return NewInternalError("Internal server error", err)
}

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
