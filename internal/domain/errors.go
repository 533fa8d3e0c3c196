package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the category of a gateway error.
type ErrorType string

const (
	// ErrorTypeInvalidKeyFormat indicates a secret that does not match the provider's key pattern.
	ErrorTypeInvalidKeyFormat ErrorType = "invalid_key_format"

	// ErrorTypeNoCredential indicates no credential is stored for a provider that requires one.
	ErrorTypeNoCredential ErrorType = "no_credential"

	// ErrorTypeInvalidRequest indicates a malformed request or a model outside the catalog.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeContextLength indicates the prompt does not fit the model's context window.
	ErrorTypeContextLength ErrorType = "context_length"

	// ErrorTypeAuthentication indicates the provider rejected the credential.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeRateLimit indicates the provider throttled the call.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeProviderProtocol indicates a malformed or unexpected provider response.
	ErrorTypeProviderProtocol ErrorType = "provider_protocol"

	// ErrorTypeTransport indicates a network failure, idle timeout, truncation or cancellation.
	ErrorTypeTransport ErrorType = "transport"

	// ErrorTypeProxyForward indicates the pass-through proxy could not reach the provider.
	ErrorTypeProxyForward ErrorType = "proxy_forward"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeContextLengthExceeded ErrorCode = "context_length_exceeded"
	ErrorCodeRateLimitExceeded     ErrorCode = "rate_limit_exceeded"
	ErrorCodeInvalidAPIKey         ErrorCode = "invalid_api_key"
	ErrorCodeModelNotFound         ErrorCode = "model_not_found"
	ErrorCodeProviderNotFound      ErrorCode = "provider_not_found"
	ErrorCodeUnsupportedModality   ErrorCode = "unsupported_modality"
	ErrorCodeIdleTimeout           ErrorCode = "idle_timeout"
	ErrorCodeStreamTruncated       ErrorCode = "stream_truncated"
	ErrorCodeCanceled              ErrorCode = "canceled"
	ErrorCodeJobFailed             ErrorCode = "job_failed"
)

// APIError is the canonical error surfaced by every component.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the request field that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the upstream or suggested HTTP status code
	StatusCode int `json:"-"`

	// ProviderID is the provider the error came from, if any
	ProviderID ProviderID `json:"-"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidKeyFormat, ErrorTypeInvalidRequest, ErrorTypeContextLength:
		return http.StatusBadRequest
	case ErrorTypeNoCredential, ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTransport:
		return http.StatusGatewayTimeout
	case ErrorTypeProviderProtocol, ErrorTypeProxyForward:
		return http.StatusBadGateway
	default:
		if e.StatusCode != 0 {
			return e.StatusCode
		}
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode records the upstream HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithProvider records the originating provider.
func (e *APIError) WithProvider(id ProviderID) *APIError {
	e.ProviderID = id
	return e
}

// WithCause attaches the underlying error.
func (e *APIError) WithCause(err error) *APIError {
	e.Cause = err
	return e
}

// Convenience constructors for common errors

// ErrInvalidKeyFormat creates an invalid key format error.
func ErrInvalidKeyFormat(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidKeyFormat, message).WithCode(ErrorCodeInvalidAPIKey)
}

// ErrNoCredential creates a missing credential error.
func ErrNoCredential(id ProviderID) *APIError {
	return NewAPIError(ErrorTypeNoCredential, fmt.Sprintf("no credential stored for provider %q", id)).
		WithProvider(id)
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrContextLength creates a context length exceeded error.
func ErrContextLength(message string) *APIError {
	return NewAPIError(ErrorTypeContextLength, message).
		WithCode(ErrorCodeContextLengthExceeded)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message).
		WithCode(ErrorCodeRateLimitExceeded)
}

// ErrProviderProtocol creates a provider protocol error.
func ErrProviderProtocol(message string) *APIError {
	return NewAPIError(ErrorTypeProviderProtocol, message)
}

// ErrTransport wraps a network level failure. Context cancellation is
// recognised and coded as canceled.
func ErrTransport(err error) *APIError {
	e := NewAPIError(ErrorTypeTransport, err.Error()).WithCause(err)
	if errors.Is(err, context.Canceled) {
		e.Code = ErrorCodeCanceled
	}
	return e
}

// ErrIdleTimeout creates the error for a stream that went quiet.
func ErrIdleTimeout(message string) *APIError {
	return NewAPIError(ErrorTypeTransport, message).WithCode(ErrorCodeIdleTimeout)
}

// ErrStreamTruncated creates the error for a stream that ended without a final marker.
func ErrStreamTruncated(message string) *APIError {
	return NewAPIError(ErrorTypeTransport, message).WithCode(ErrorCodeStreamTruncated)
}

// ErrProxyForward creates a proxy forwarding error.
func ErrProxyForward(err error) *APIError {
	return NewAPIError(ErrorTypeProxyForward, err.Error()).WithCause(err)
}

// ErrFromStatus maps a non-2xx provider status to the taxonomy.
// 401 and 403 are authentication failures, 429 is rate limiting, and
// anything else is a protocol error.
func ErrFromStatus(status int, message string) *APIError {
	if message == "" {
		message = http.StatusText(status)
	}
	var e *APIError
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e = ErrAuthentication(message)
	case http.StatusTooManyRequests:
		e = ErrRateLimit(message)
	default:
		e = ErrProviderProtocol(message)
	}
	return e.WithStatusCode(status)
}

// AsAPIError extracts an APIError from err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsType reports whether err carries an APIError of the given type.
func IsType(err error, t ErrorType) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Type == t
}

// Normalize converts any error into an APIError. Errors that are already
// canonical pass through; context errors become transport errors; anything
// else is treated as a protocol error.
func Normalize(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTransport(err)
	}
	return ErrProviderProtocol(err.Error()).WithCause(err)
}

// Scrub removes every occurrence of secret from msg.
func Scrub(msg, secret string) string {
	if secret == "" {
		return msg
	}
	return strings.ReplaceAll(msg, secret, "[redacted]")
}
