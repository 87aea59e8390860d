package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInvalidAmount  ErrorCode = "INVALID_AMOUNT"
	ErrEmptyQueue     ErrorCode = "EMPTY_QUEUE"
	ErrPaymentSetup   ErrorCode = "PAYMENT_SETUP_FAILED"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the error the APIError was built from, if any.
func (e APIError) Unwrap() error {
	return e.cause
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Error(details)
	}
	apiErr := APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
	if err, ok := details.(error); ok {
		apiErr.cause = err
		apiErr.Details = err.Error()
	}
	return apiErr
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict, ErrEmptyQueue:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest, ErrInvalidAmount:
			return http.StatusBadRequest
		case ErrPaymentSetup:
			return http.StatusBadGateway
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
