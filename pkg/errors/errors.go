package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code carried in error frames and
// HTTP error bodies.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// websocket rejections
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	ErrCodeUnknownEvent   ErrorCode = "UNKNOWN_EVENT"
	ErrCodeUnknownRole    ErrorCode = "UNKNOWN_ROLE"
	ErrCodeNotInRoom      ErrorCode = "NOT_IN_ROOM"
)

var defaultStatus = map[ErrorCode]int{
	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeRateLimit:          http.StatusTooManyRequests,
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeInvalidPayload:     http.StatusBadRequest,
	ErrCodeUnknownEvent:       http.StatusBadRequest,
	ErrCodeUnknownRole:        http.StatusBadRequest,
	ErrCodeNotInRoom:          http.StatusForbidden,
}

// StatusFor returns the HTTP status used for code when none is given.
func StatusFor(code ErrorCode) int {
	if status, ok := defaultStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AppError is a coded error. Context holds structured details that are
// logged and echoed to HTTP clients.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return string(e.Code) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is reports a match for any *AppError with the same code, so a bare
// &AppError{Code: ErrCodeNotInRoom} works as a target for errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// WithContext sets key on the error's context and returns e.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return WrapError(nil, code, message, httpStatus)
}

// WrapError attaches code and message to err. A zero httpStatus picks the
// code's default.
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	if httpStatus == 0 {
		httpStatus = StatusFor(code)
	}
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func coded(code ErrorCode, format string, args ...interface{}) *AppError {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	return WrapError(nil, code, format, 0)
}

func NewInvalidInputError(message string) *AppError { return coded(ErrCodeInvalidInput, message) }

func NewNotFoundError(resource string) *AppError {
	return coded(ErrCodeNotFound, "%s not found", resource)
}

func NewUnauthorizedError(message string) *AppError { return coded(ErrCodeUnauthorized, message) }

func NewForbiddenError(message string) *AppError { return coded(ErrCodeForbidden, message) }

func NewRateLimitError() *AppError { return coded(ErrCodeRateLimit, "rate limit exceeded") }

func NewInternalError(message string) *AppError { return coded(ErrCodeInternal, message) }

func NewServiceUnavailableError(message string) *AppError {
	return coded(ErrCodeServiceUnavailable, message)
}

func NewInvalidPayloadError(message string) *AppError { return coded(ErrCodeInvalidPayload, message) }

func NewUnknownEventError(eventType string) *AppError {
	return coded(ErrCodeUnknownEvent, "unknown event type %q", eventType).WithContext("type", eventType)
}

func NewUnknownRoleError(role string) *AppError {
	return coded(ErrCodeUnknownRole, "unknown role %q", role).WithContext("role", role)
}

func NewNotInRoomError(roomID string) *AppError {
	return coded(ErrCodeNotInRoom, "not a member of room %q", roomID).WithContext("room_id", roomID)
}

// GetAppError returns the first *AppError in err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if err != nil && errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func IsAppError(err error) bool { return GetAppError(err) != nil }

// CodeOf returns the code of the AppError in err's chain. Anything else is
// reported as ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}
