package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid            ErrorCode = "invalid"
	ErrorMissingHeaders     ErrorCode = "missing_headers"
	ErrorInvalidCredentials ErrorCode = "invalid_credentials"
	ErrorNotFound           ErrorCode = "not_found"
	ErrorNoTasksAvailable   ErrorCode = "no_tasks_available"
	ErrorUnauthorized       ErrorCode = "unauthorized"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error { return &ServiceError{Code: ErrorInvalid, Message: msg} }

func NewMissingHeadersError() error {
	return &ServiceError{Code: ErrorMissingHeaders, Message: "Missing headers"}
}

func NewInvalidCredentialsError() error {
	return &ServiceError{Code: ErrorInvalidCredentials, Message: "Invalid credentials"}
}

func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }

func NewNoTasksAvailableError() error {
	return &ServiceError{Code: ErrorNoTasksAvailable, Message: "No tasks left"}
}

func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
