package app

import (
	"fmt"
	"net/http"
	"time"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// FieldErrors maps a request field to what is wrong with it.
type FieldErrors map[string]string

func validationError(message string, fields FieldErrors) *DomainError {
	var details any
	if len(fields) > 0 {
		details = fields
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func fieldError(field, reason string) *DomainError {
	return validationError(field+" "+reason, FieldErrors{field: reason})
}

func notFound(resource string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", resource+" not found", nil)
}

func forbidden(message string, details any) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, details)
}

func conflict(code, message string, details any) *DomainError {
	return domainError(http.StatusConflict, code, message, details)
}

func unauthenticated(message string) *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// RetryAfterSeconds rounds a wait to whole seconds, never below one.
func RetryAfterSeconds(wait time.Duration) int {
	seconds := int(wait.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// RateLimited is raised by the submission throttle.
func RateLimited(retryAfter time.Duration) *DomainError {
	return domainError(http.StatusTooManyRequests, "RATE_LIMITED", "too many submissions, try again later", map[string]any{
		"retry_after_seconds": RetryAfterSeconds(retryAfter),
	})
}
