package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ===============================
// ERROR TYPES
// ===============================

const (
	ErrorTypeValidation      = "VALIDATION_ERROR"
	ErrorTypeNotFound        = "NOT_FOUND"
	ErrorTypeRateLimit       = "RATE_LIMIT"
	ErrorTypeDuplicateVote   = "DUPLICATE_VOTE"
	ErrorTypeInvalidVoteType = "INVALID_VOTE_TYPE"
	ErrorTypeInternal        = "INTERNAL_ERROR"
	ErrorTypeUnauthorized    = "UNAUTHORIZED"
	ErrorTypeForbidden       = "FORBIDDEN"
)

// Rate limit identifiers carried in RATE_LIMIT details
const (
	LimitPerDay          = "per_day"
	LimitPerHour         = "per_hour"
	LimitPerAuthorPerDay = "per_author_per_day"
)

// ServiceError represents a structured service error
type ServiceError struct {
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// GetStatusCode returns the HTTP status code for this error
func (e *ServiceError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// ===============================
// ERROR CONSTRUCTORS
// ===============================

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewRateLimitError creates a rate limit error naming the breached limit
func NewRateLimitError(limit string, max, count int, resetAt time.Time) *ServiceError {
	return &ServiceError{
		Type:    ErrorTypeRateLimit,
		Message: fmt.Sprintf("Vote rate limit exceeded (%s: %d)", limit, max),
		Code:    limit,
		Details: map[string]interface{}{
			"limit":    limit,
			"max":      max,
			"count":    count,
			"reset_at": resetAt.UTC().Format(time.RFC3339),
		},
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewDuplicateVoteError reports a violation of the one-active-vote invariant
func NewDuplicateVoteError(message string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeDuplicateVote,
		Message:    message,
		StatusCode: http.StatusConflict,
		Cause:      cause,
	}
}

// NewInvalidVoteTypeError rejects an unknown vote type
func NewInvalidVoteTypeError(voteType string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeInvalidVoteType,
		Message:    fmt.Sprintf("Invalid vote type %q", voteType),
		Details:    map[string]interface{}{"vote_type": voteType},
		StatusCode: http.StatusBadRequest,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewUnauthorizedError is returned when no acting user is known
func NewUnauthorizedError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewForbiddenError is returned when the acting user lacks a privilege
func NewForbiddenError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeForbidden,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// ===============================
// ERROR UTILITIES
// ===============================

// AsServiceError extracts a ServiceError anywhere in the chain
func AsServiceError(err error) (*ServiceError, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return nil, false
}

// GetServiceError extracts a ServiceError from an error, or wraps it as internal
func GetServiceError(err error) *ServiceError {
	if serviceErr, ok := AsServiceError(err); ok {
		return serviceErr
	}
	return NewInternalError("An internal error occurred", err)
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errorType string) bool {
	serviceErr, ok := AsServiceError(err)
	return ok && serviceErr.Type == errorType
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return IsErrorType(err, ErrorTypeRateLimit)
}

// IsDuplicateVoteError checks if an error is a duplicate vote error
func IsDuplicateVoteError(err error) bool {
	return IsErrorType(err, ErrorTypeDuplicateVote)
}

// IsInvalidVoteTypeError checks if an error is an invalid vote type error
func IsInvalidVoteTypeError(err error) bool {
	return IsErrorType(err, ErrorTypeInvalidVoteType)
}

// ===============================
// ERROR RESPONSE BUILDERS
// ===============================

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     *ServiceError `json:"error"`
	RequestID string        `json:"request_id,omitempty"`
	Timestamp string        `json:"timestamp"`
	Path      string        `json:"path,omitempty"`
}

// BuildErrorResponse creates a standardized error response. Internal causes
// are not exposed.
func BuildErrorResponse(err error, requestID, path string, now time.Time) *ErrorResponse {
	serviceErr := GetServiceError(err)
	public := *serviceErr
	public.Cause = nil
	return &ErrorResponse{
		Error:     &public,
		RequestID: requestID,
		Timestamp: now.UTC().Format(time.RFC3339),
		Path:      path,
	}
}

// ===============================
// COMMON ERROR PATTERNS
// ===============================

// EntityNotFoundError creates a standard entity not found error
func EntityNotFoundError(entityType string, id interface{}) *ServiceError {
	err := NewNotFoundError(fmt.Sprintf("%s not found", entityType))
	err.Details = map[string]interface{}{
		"resource": entityType,
		"id":       id,
	}
	return err
}

// InvalidInputError creates a standard invalid input error
func InvalidInputError(field, reason string) *ServiceError {
	err := NewValidationError(fmt.Sprintf("Invalid input for field '%s': %s", field, reason), nil)
	err.Details = map[string]interface{}{
		"field":  field,
		"reason": reason,
	}
	return err
}
