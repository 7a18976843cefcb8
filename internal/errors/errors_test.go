package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"server error", &unraid.APIError{StatusCode: http.StatusInternalServerError}, ErrorTypeAPI, true},
		{"bad request", fmt.Errorf("wrap: %w", &unraid.APIError{StatusCode: http.StatusBadRequest}), ErrorTypeAPI, false},
		{"not found", &unraid.APIError{StatusCode: http.StatusNotFound}, ErrorTypeNotFound, false},
		{"gateway timeout", &unraid.APIError{StatusCode: http.StatusGatewayTimeout}, ErrorTypeTimeout, true},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), ErrorTypeTimeout, true},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, ErrorTypeConnection, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "tower"}, ErrorTypeConnection, true},
		{"invalid input", ErrInvalidInput, ErrorTypeValidation, false},
		{"other", errors.New("boom"), ErrorTypeInternal, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify("fetch", "tower", tc.err)
			assert.Equal(t, tc.wantType, got.Type)
			assert.Equal(t, tc.retryable, got.Retryable)
			assert.ErrorIs(t, got, tc.err)
		})
	}

	assert.Nil(t, Classify("fetch", "tower", nil))
}

func TestClassifyKeepsExistingMonitorError(t *testing.T) {
	orig := NewMonitorError(ErrorTypeConnection, "connect", "tower", errors.New("refused"))
	got := Classify("fetch", "other", fmt.Errorf("outer: %w", orig))
	assert.Same(t, orig, got)
}

func TestMonitorErrorIs(t *testing.T) {
	timeout := NewMonitorError(ErrorTypeTimeout, "fetch", "tower", errors.New("slow"))
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.NotErrorIs(t, timeout, ErrConnectionFailed)

	conn := WrapConnectionError("connect", "tower", errors.New("refused"))
	assert.ErrorIs(t, conn, ErrConnectionFailed)
	assert.True(t, IsRetryableError(conn))

	api := WrapAPIError("invoke", "tower", errors.New("bad"), http.StatusBadRequest)
	assert.False(t, IsRetryableError(api))
}

func TestMonitorErrorMessage(t *testing.T) {
	err := NewMonitorError(ErrorTypeAPI, "fetch", "tower", errors.New("boom")).WithDomain("disks")
	assert.Equal(t, "fetch disks failed on tower: boom", err.Error())
	assert.Equal(t, "connect failed on tower: x", NewMonitorError(ErrorTypeConnection, "connect", "tower", errors.New("x")).Error())
	assert.Equal(t, "invoke failed: x", NewMonitorError(ErrorTypeAPI, "invoke", "", errors.New("x")).Error())
	assert.Equal(t, ErrorTypeTimeout, TypeOf(context.DeadlineExceeded))
	assert.Equal(t, ErrorType(""), TypeOf(nil))
}
