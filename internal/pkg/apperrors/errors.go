// Package apperrors holds the error kinds shared by the query pipeline.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Validation error codes
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidTimeData      = "invalid_time_data"
	CodeInvalidTimezone      = "invalid_timezone"
	CodeInvalidDuration      = "invalid_duration"
	CodeConflictingIntervals = "conflicting_intervals"
	CodeTooManyIntervals     = "too_many_intervals"
	CodeInvalidFilter        = "invalid_filter"
	CodeUnknownCondition     = "unknown_condition"
	CodeInvalidRegex         = "invalid_regex"
	CodeInvalidAggregation   = "invalid_aggregation"
	CodeInvalidFunnel        = "invalid_funnel"
	CodeInvalidMetric        = "invalid_metric"
)

// ValidationError reports a malformed request. The caller can fix it and retry.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(code, field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError is returned when the caller may not read the site.
type AuthorizationError struct {
	CallerID string
	SiteID   uint
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("caller %q is not allowed to access site %d", e.CallerID, e.SiteID)
}

// NewAuthorizationError creates a new AuthorizationError
func NewAuthorizationError(callerID string, siteID uint) *AuthorizationError {
	return &AuthorizationError{CallerID: callerID, SiteID: siteID}
}

// DataError covers out-of-range timestamps and stored data that cannot be decoded.
type DataError struct {
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError
func NewDataError(err error, format string, args ...any) *DataError {
	return &DataError{Message: fmt.Sprintf(format, args...), Err: err}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsAuthorization reports whether err wraps an AuthorizationError.
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

// IsData reports whether err wraps a DataError.
func IsData(err error) bool {
	var target *DataError
	return errors.As(err, &target)
}

// HTTPStatus maps an error to the status code the HTTP layer responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsAuthorization(err):
		return http.StatusForbidden
	case IsData(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
