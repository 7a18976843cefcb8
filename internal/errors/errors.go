package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
	ErrInternalError    = errors.New("internal error")

	// ErrTotalPollFailure marks a poll cycle where the required domain failed
	// or nothing succeeded.
	ErrTotalPollFailure = errors.New("total poll failure")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// MonitorError is a structured error for synchronization operations
type MonitorError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "fetch", "connect", "invoke")
	Instance   string // Agent host the error occurred against
	Domain     string // Domain name if applicable
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *MonitorError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("%s %s failed on %s: %v", e.Op, e.Domain, e.Instance, e.Err)
	}
	if e.Instance != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Instance, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *MonitorError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *MonitorError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	}

	return errors.Is(e.Err, target)
}

// NewMonitorError creates a new MonitorError
func NewMonitorError(errorType ErrorType, op, instance string, err error) *MonitorError {
	return &MonitorError{
		Type:      errorType,
		Op:        op,
		Instance:  instance,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType, err),
	}
}

// WithDomain adds domain information to the error
func (e *MonitorError) WithDomain(domain string) *MonitorError {
	e.Domain = domain
	return e
}

// WithStatusCode adds HTTP status code to the error
func (e *MonitorError) WithStatusCode(code int) *MonitorError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

func isRetryable(errorType ErrorType, err error) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeValidation, ErrorTypeNotFound:
		return false
	default:
		if err != nil {
			return !errors.Is(err, ErrInvalidInput)
		}
		return true
	}
}

// Helper functions

// WrapConnectionError wraps a connection error with context
func WrapConnectionError(op, instance string, err error) error {
	return NewMonitorError(ErrorTypeConnection, op, instance, err)
}

// WrapAPIError wraps an API error with context
func WrapAPIError(op, instance string, err error, statusCode int) error {
	return NewMonitorError(ErrorTypeAPI, op, instance, err).WithStatusCode(statusCode)
}

// Classify maps a transport or API failure onto a MonitorError. Errors that
// are already MonitorErrors are returned unchanged.
func Classify(op, instance string, err error) *MonitorError {
	if err == nil {
		return nil
	}

	var existing *MonitorError
	if errors.As(err, &existing) {
		return existing
	}

	errType := ErrorTypeInternal
	statusCode := 0

	var apiErr *unraid.APIError
	var urlErr *url.Error
	var netOpErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &apiErr):
		statusCode = apiErr.StatusCode
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			errType = ErrorTypeNotFound
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			errType = ErrorTypeTimeout
		default:
			errType = ErrorTypeAPI
		}
	// Timeout takes precedence over generic connection failures.
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &urlErr) && urlErr.Timeout():
		errType = ErrorTypeTimeout
	case errors.As(err, &netOpErr), errors.As(err, &dnsErr), errors.As(err, &urlErr):
		errType = ErrorTypeConnection
	case errors.Is(err, ErrInvalidInput):
		errType = ErrorTypeValidation
	}

	monErr := NewMonitorError(errType, op, instance, err)
	if statusCode != 0 {
		monErr = monErr.WithStatusCode(statusCode)
	}
	return monErr
}

// TypeOf returns the error category used for metric labels.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.Type
	}
	return Classify("", "", err).Type
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}
