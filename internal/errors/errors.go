package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound        = NewAppError("NOT_FOUND", "card not found", http.StatusNotFound)
	ErrCardInactive    = NewAppError("CARD_INACTIVE", "card is inactive", http.StatusConflict)
	ErrUnauthorized    = NewAppError("UNAUTHORIZED", "caller is not allowed to operate this card", http.StatusForbidden)
	ErrInvalidArgument = NewAppError("INVALID_ARGUMENT", "invalid argument", http.StatusBadRequest)
	ErrLimitExceeded   = NewAppError("LIMIT_EXCEEDED", "charge exceeds the available limit", http.StatusUnprocessableEntity)
	ErrInvalidState    = NewAppError("INVALID_STATE", "reversal exceeds the current balance", http.StatusUnprocessableEntity)
	ErrContention      = NewAppError("CONTENTION", "card is being updated concurrently, retry later", http.StatusServiceUnavailable)

	ErrUnauthenticated = NewAppError("UNAUTHENTICATED", "missing or invalid credentials", http.StatusUnauthorized)
	ErrBadRequest      = NewAppError("BAD_REQUEST", "malformed request", http.StatusBadRequest)
	ErrValidation      = NewAppError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrDatabase        = NewAppError("DATABASE_ERROR", "storage operation failed", http.StatusInternalServerError)
	ErrInternalServer  = NewAppError("INTERNAL_SERVER_ERROR", "internal server error", http.StatusInternalServerError)
)

// AppError is the typed failure returned by every ledger operation.
// Two AppErrors match under errors.Is when their codes are equal, so clones
// produced by WithError/WithDetails still match the package sentinels.
type AppError struct {
	Code       string
	Message    string
	StatusCode int
	Details    map[string]interface{}
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	clone := e.clone()
	for k, v := range details {
		clone.Details[k] = v
	}
	return clone
}

func (e *AppError) WithMessage(message string) *AppError {
	clone := e.clone()
	clone.Message = message
	return clone
}

func (e *AppError) WithError(err error) *AppError {
	clone := e.clone()
	clone.Err = err
	return clone
}

func NewAppError(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    make(map[string]interface{}),
	}
}

func WrapError(err error, code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
		Details:    make(map[string]interface{}),
	}
}

func (e *AppError) clone() *AppError {
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	return &clone
}

// Retryable reports whether the caller may resubmit the same request.
// Contention is the only such kind.
func Retryable(err error) bool {
	return errors.Is(err, ErrContention)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func FromError(err error) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	if errors.Is(err, context.Canceled) {
		return WrapError(err, "REQUEST_CANCELED", "request canceled by the client", http.StatusRequestTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(err, "DEADLINE_EXCEEDED", "request deadline exceeded", http.StatusGatewayTimeout)
	}

	return ErrInternalServer.WithError(err)
}

func NewDatabaseError(err error) *AppError {
	return ErrDatabase.WithError(err)
}

func NewInvalidArgument(field, message string) *AppError {
	return ErrInvalidArgument.WithMessage(message).WithDetails(map[string]interface{}{
		"field": field,
	})
}

func ParseValidationErrors(err error) *AppError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return ErrBadRequest.WithError(err)
	}

	fieldErrors := make([]map[string]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fieldErrors = append(fieldErrors, map[string]string{
			"field":   strings.ToLower(fieldErr.Field()),
			"message": translateValidationError(fieldErr),
		})
	}

	return ErrValidation.WithDetails(map[string]interface{}{
		"fields": fieldErrors,
	})
}

func translateValidationError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
