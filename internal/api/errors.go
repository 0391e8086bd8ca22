// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/csv-chatbot/backend/internal/analysis"
	"github.com/csv-chatbot/backend/internal/parser"
	"github.com/csv-chatbot/backend/internal/session"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewParseError creates a 400 error for an upload that is not a readable table
func NewParseError(err error) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "PARSE_ERROR",
		Message: fmt.Sprintf("Could not read the CSV: %v", err),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(code, message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    code,
		Message: message,
	}
}

// NewPayloadTooLargeError creates a 413 error
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "PAYLOAD_TOO_LARGE",
		Message: fmt.Sprintf("file exceeds the %d byte upload limit", limit),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(code, message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    code,
		Message: message,
	}
}

// FromDomainError maps session, parser and query errors onto API errors.
func FromDomainError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		return NewParseError(parseErr)
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, session.ErrNoTable):
		return NewConflictError("NO_TABLE", "Upload a CSV file first")
	case errors.Is(err, session.ErrAskInFlight):
		return NewConflictError("ASK_IN_FLIGHT", err.Error())
	case errors.Is(err, session.ErrChatUnavailable):
		return NewServiceUnavailableError("CHAT_UNAVAILABLE", "Please enter your API key to activate the chatbot")
	case errors.Is(err, session.ErrTooManySessions):
		return NewServiceUnavailableError("TOO_MANY_SESSIONS", err.Error())
	case errors.Is(err, session.ErrEmptyQuestion):
		return NewValidationError("question")
	case errors.Is(err, analysis.ErrQueryNotAllowed):
		return &APIError{Status: http.StatusBadRequest, Code: "QUERY_NOT_ALLOWED", Message: err.Error()}
	}
	return NewInternalError("request failed", err)
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
			Details: err.Error(),
		}
	}

	if err := c.JSON(apiErr.Status, apiErr); err != nil {
		fmt.Printf("[API] Failed to write error response: %v\n", err)
	}
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
