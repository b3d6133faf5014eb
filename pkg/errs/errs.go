package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"tourmaline.app/pkg/logger"
)

// Error codes
const (
	// 400 Bad Request
	InvalidArgument    = "INVALID_ARGUMENT"
	ValidationFailed   = "VALIDATION_FAILED"
	FailedPrecondition = "FAILED_PRECONDITION"

	// 404 Not Found
	NotFound = "NOT_FOUND"

	// 405 Method Not Allowed
	MethodNotAllowed = "METHOD_NOT_ALLOWED"

	// 413 Payload Too Large
	PayloadTooLarge = "PAYLOAD_TOO_LARGE"

	// 429 Too Many Requests
	TooManyRequests = "TOO_MANY_REQUESTS"

	// 500 Internal Server Error
	Internal = "INTERNAL_ERROR"

	// 502 Bad Gateway
	BadGateway = "BAD_GATEWAY"

	// 503 Service Unavailable
	ServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Cart domain codes (CART)
	CartEmpty = "CART_EMPTY"

	// Payment domain codes (PAY)
	PayInvalidRequest          = "PAY_INVALID_REQUEST"
	PayProviderError           = "PAY_PROVIDER_ERROR"
	PaySessionFailed           = "PAY_SESSION_FAILED"
	PayWebhookInvalidSignature = "PAY_WEBHOOK_INVALID_SIGNATURE"
	PayWebhookInvalidPayload   = "PAY_WEBHOOK_INVALID_PAYLOAD"

	// Stock domain codes (STK)
	StkMissingProduct = "STK_MISSING_PRODUCT"
	StkUpstreamFailed = "STK_UPSTREAM_FAILED"
	StkUnavailable    = "STK_UNAVAILABLE"
)

// Error represents a structured error
type Error struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.CorrelationID, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the HTTP status code for the error
func (e *Error) HTTPStatus() int {
	switch e.Code {
	// Payment domain mappings. Provider errors surface as 400 so the
	// storefront shows the provider's message and re-enables submission.
	case PayInvalidRequest, PayProviderError:
		return http.StatusBadRequest
	case PayWebhookInvalidSignature, PayWebhookInvalidPayload:
		return http.StatusBadRequest
	case PaySessionFailed:
		return http.StatusInternalServerError

	case CartEmpty:
		return http.StatusBadRequest

	// Stock domain mappings
	case StkMissingProduct:
		return http.StatusBadRequest
	case StkUpstreamFailed:
		return http.StatusBadGateway
	case StkUnavailable:
		return http.StatusServiceUnavailable

	// Generic mappings
	case InvalidArgument, ValidationFailed, FailedPrecondition:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case TooManyRequests:
		return http.StatusTooManyRequests
	case BadGateway:
		return http.StatusBadGateway
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	case Internal:
		return http.StatusInternalServerError
	default:
		// Heuristics for domain-prefixed codes
		upper := strings.ToUpper(e.Code)
		switch {
		case strings.Contains(upper, "NOT_FOUND"):
			return http.StatusNotFound
		case strings.Contains(upper, "RATE_LIMIT") || strings.Contains(upper, "TOO_MANY"):
			return http.StatusTooManyRequests
		case strings.HasPrefix(upper, "PAY_"),
			strings.HasPrefix(upper, "CART_"),
			strings.HasPrefix(upper, "STK_"):
			return http.StatusBadRequest
		default:
			return http.StatusInternalServerError
		}
	}
}

// New creates a new error
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithCorrelationID adds correlation ID to an error
func (e *Error) WithCorrelationID(correlationID string) *Error {
	e.CorrelationID = correlationID
	return e
}

// CorrelationIDFromContext returns the request id carried by ctx, or a fresh
// random id when the request was not tagged by the request-id middleware.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx != nil {
		if id := logger.RequestIDFromContext(ctx); id != "" {
			return id
		}
	}
	return "cid-" + uuid.NewString()
}

// E creates a domain-coded error and auto-fills correlation_id from context.
func E(ctx context.Context, code, message string) *Error {
	return New(code, message).WithCorrelationID(CorrelationIDFromContext(ctx))
}

// As converts any error into *Error; foreign errors become Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Internal, Message: err.Error()}
}
