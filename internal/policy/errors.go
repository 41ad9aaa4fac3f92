package policy

import (
	"errors"
	"fmt"
	"net/http"

	"rentgate/internal/models"
)

// Sentinel errors, matchable with errors.Is through a ServiceError.
var (
	ErrPolicyNotFound = errors.New("policy not found")
	ErrInvalidPolicy  = errors.New("invalid policy")
)

// ServiceError carries the HTTP status and error code a handler should
// answer with.
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewPolicyNotFoundError(name string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodePolicyNotFound,
		Message:    fmt.Sprintf("policy '%s' not found", name),
		StatusCode: http.StatusNotFound,
		Err:        ErrPolicyNotFound,
	}
}

func NewInvalidPolicyError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        errors.Join(ErrInvalidPolicy, err),
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
