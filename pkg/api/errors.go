package api

import (
	"encoding/json"
	"net/http"
)

// ErrorCode represents standardized API error codes
type ErrorCode string

const (
	ErrCodeBadRequest          ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodePayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeRangeNotSatisfiable ErrorCode = "RANGE_NOT_SATISFIABLE"
	ErrCodeInternalServer      ErrorCode = "INTERNAL_SERVER_ERROR"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string    `json:"error"`
	Code  ErrorCode `json:"code"`
}

// APIError represents an internal API error with HTTP status
type APIError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new API error
func NewAPIError(code ErrorCode, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// BadRequest creates a 400 Bad Request error
func BadRequest(message string) *APIError {
	return NewAPIError(ErrCodeBadRequest, message, http.StatusBadRequest)
}

// NotFound creates a 404 Not Found error
func NotFound(message string) *APIError {
	return NewAPIError(ErrCodeNotFound, message, http.StatusNotFound)
}

// Conflict creates a 409 Conflict error
func Conflict(message string) *APIError {
	return NewAPIError(ErrCodeConflict, message, http.StatusConflict)
}

// PayloadTooLarge creates a 413 error
func PayloadTooLarge(message string) *APIError {
	return NewAPIError(ErrCodePayloadTooLarge, message, http.StatusRequestEntityTooLarge)
}

// RangeNotSatisfiable creates a 416 error
func RangeNotSatisfiable(message string) *APIError {
	return NewAPIError(ErrCodeRangeNotSatisfiable, message, http.StatusRequestedRangeNotSatisfiable)
}

// InternalServerError creates a 500 Internal Server Error
func InternalServerError(message string) *APIError {
	return NewAPIError(ErrCodeInternalServer, message, http.StatusInternalServerError)
}

// WriteError writes an API error response
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: err.Message,
		Code:  err.Code,
	})
}
