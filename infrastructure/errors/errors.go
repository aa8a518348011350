// Package errors provides unified error handling for the gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken ErrorCode = "AUTH_1002"

	// Authorization errors (2xxx)
	ErrCodeForbidden         ErrorCode = "AUTHZ_2001"
	ErrCodeScopeDenied       ErrorCode = "AUTHZ_2002"
	ErrCodeEnvironmentDenied ErrorCode = "AUTHZ_2003"

	// Validation errors (3xxx)
	ErrCodeInvalidInput       ErrorCode = "VAL_3001"
	ErrCodeMissingParameter   ErrorCode = "VAL_3002"
	ErrCodeDisallowedColumn   ErrorCode = "VAL_3003"
	ErrCodeUnsupportedFilter  ErrorCode = "VAL_3004"
	ErrCodeUnknownWebhook     ErrorCode = "VAL_3005"
	ErrCodeUnresolvedTemplate ErrorCode = "VAL_3006"

	// Resource errors (4xxx)
	ErrCodeNotFound           ErrorCode = "RES_4001"
	ErrCodeEnvironmentUnknown ErrorCode = "RES_4002"
	ErrCodeMethodNotAllowed   ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeDatabaseError     ErrorCode = "SVC_5002"
	ErrCodeUpstreamError     ErrorCode = "SVC_5003"
	ErrCodeTimeout           ErrorCode = "SVC_5004"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5005"
	ErrCodePayloadTooLarge   ErrorCode = "SVC_5006"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Authentication Errors

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required"
	}
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken() *ServiceError {
	return New(ErrCodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

// Authorization Errors

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// ScopeDenied reports a token whose allowedScopes does not cover the
// requested endpoint name. The allowed set is echoed in the body per the
// gateway's authorization contract.
func ScopeDenied(requestedEndpoint, availableScopes string) *ServiceError {
	return New(ErrCodeScopeDenied, "Endpoint not in allowed scopes", http.StatusForbidden).
		WithDetails("requestedEndpoint", requestedEndpoint).
		WithDetails("availableScopes", availableScopes)
}

// EnvironmentDenied reports a token whose allowedEnvironments does not
// cover the requested env path segment.
func EnvironmentDenied(requestedEnvironment, availableEnvironments string) *ServiceError {
	return New(ErrCodeEnvironmentDenied, "Environment not in allowed environments", http.StatusForbidden).
		WithDetails("requestedEnvironment", requestedEnvironment).
		WithDetails("availableEnvironments", availableEnvironments)
}

// Validation Errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "Invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "Missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

// DisallowedColumn reports a $select column outside the endpoint's
// allowedColumns set. No database round-trip occurs for this error.
func DisallowedColumn(column string) *ServiceError {
	return New(ErrCodeDisallowedColumn, "Column not in allowed columns", http.StatusBadRequest).
		WithDetails("column", column)
}

// UnsupportedFilter reports an OData $filter expression the translator
// cannot parse or that falls outside the supported grammar subset.
func UnsupportedFilter(expression string) *ServiceError {
	return New(ErrCodeUnsupportedFilter, "Unsupported filter expression", http.StatusBadRequest).
		WithDetails("expression", expression)
}

// UnknownWebhook reports a webhook {id} not present in the endpoint's
// AllowedWebhookIDs allow-list.
func UnknownWebhook(id string) *ServiceError {
	return New(ErrCodeUnknownWebhook, "Unknown webhook id", http.StatusBadRequest).
		WithDetails("id", id)
}

// UnresolvedTemplate reports a composite step whose $prev.<step>.<path>
// or $guid expression could not be resolved.
func UnresolvedTemplate(expression string) *ServiceError {
	return New(ErrCodeUnresolvedTemplate, "Unresolved template expression", http.StatusBadRequest).
		WithDetails("expression", expression)
}

// Resource Errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "Resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// EnvironmentUnknown reports an env path segment that does not correspond to
// any endpoint or route at all — a bare unknown environment, surfaced as 404
// alongside the other "nothing here" cases.
func EnvironmentUnknown(env string) *ServiceError {
	return New(ErrCodeEnvironmentUnknown, "Unknown environment", http.StatusNotFound).
		WithDetails("environment", env)
}

// EnvironmentUnresolved reports an env path segment the resolver could not
// map to a connection string or server name for an endpoint that does
// exist. Distinct from EnvironmentUnknown's 404: the route and endpoint are
// both valid, only the environment lookup failed, so this is a client-fixable
// 400 rather than a "nothing here" 404.
func EnvironmentUnresolved(env string) *ServiceError {
	return New(ErrCodeEnvironmentUnknown, "Environment could not be resolved", http.StatusBadRequest).
		WithDetails("environment", env)
}

func MethodNotAllowed(method string, allowed []string) *ServiceError {
	return New(ErrCodeMethodNotAllowed, "Method not allowed", http.StatusMethodNotAllowed).
		WithDetails("method", method).
		WithDetails("allowedMethods", allowed)
}

// Service Errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "Database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// UpstreamError reports a proxy or composite-step call that failed
// transport-level or returned a non-2xx status considered fatal by policy.
func UpstreamError(endpoint string, status int, excerpt string, err error) *ServiceError {
	se := Wrap(ErrCodeUpstreamError, "Upstream call failed", http.StatusBadGateway, err).
		WithDetails("endpoint", endpoint)
	if status != 0 {
		se = se.WithDetails("upstreamStatus", status)
	}
	if excerpt != "" {
		se = se.WithDetails("upstreamExcerpt", excerpt)
	}
	return se
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "Operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// PayloadTooLarge reports a request body over the configured MaxBodyBytes
// limit, rejected before any decoder runs against it.
func PayloadTooLarge(limitBytes int64) *ServiceError {
	return New(ErrCodePayloadTooLarge, "Request body too large", http.StatusRequestEntityTooLarge).
		WithDetails("limitBytes", limitBytes)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
