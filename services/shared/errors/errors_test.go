package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	t.Run("without underlying error", func(t *testing.T) {
		err := New(CodeStateMismatch, "State mismatch")
		assert.Equal(t, "STATE_MISMATCH: State mismatch", err.Error())
	})

	t.Run("with underlying error", func(t *testing.T) {
		underlying := errors.New("connection refused")
		err := Wrap(CodeUpstreamError, "Failed to fetch access token", underlying)
		assert.Contains(t, err.Error(), "UPSTREAM_ERROR: Failed to fetch access token")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	assert.True(t, errors.Is(err, underlying))
}

func TestError_Is(t *testing.T) {
	err1 := New(CodeStateMissing, "missing 1")
	err2 := New(CodeStateMissing, "missing 2")
	err3 := New(CodeStateMismatch, "mismatch")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestError_WithDetails(t *testing.T) {
	err := New(CodeInvalidInput, "Missing authorization code")
	details := map[string]string{"parameter": "code"}

	withDetails := err.WithDetails(details)

	assert.Equal(t, err.Code, withDetails.Code)
	assert.Equal(t, err.Message, withDetails.Message)
	assert.Equal(t, details, withDetails.Details)
}

func TestError_Wrap(t *testing.T) {
	underlying := errors.New("underlying")
	err := New(CodeUpstreamError, "wrapper")

	wrapped := err.Wrap(underlying)

	assert.Equal(t, err.Code, wrapped.Code)
	assert.Equal(t, err.Message, wrapped.Message)
	assert.Equal(t, underlying, wrapped.Err)
	assert.Nil(t, err.Err, "original must not be mutated")
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeOAuthError, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeStateMissing, http.StatusUnauthorized},
		{CodeStateMismatch, http.StatusUnauthorized},
		{CodeStateReused, http.StatusUnauthorized},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeUpstreamError, http.StatusBadGateway},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeCircuitOpen, http.StatusServiceUnavailable},
		{CodeCanceled, StatusClientClosedRequest},
		{CodeInternal, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "test")
			assert.Equal(t, tt.expected, err.HTTPStatusCode())
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code Code
	}{
		{"Internal", Internal("x"), CodeInternal},
		{"InvalidInput", InvalidInput("x"), CodeInvalidInput},
		{"Unauthorized", Unauthorized("x"), CodeUnauthorized},
		{"RateLimited", RateLimited("x"), CodeRateLimited},
		{"Unavailable", Unavailable("x"), CodeUnavailable},
		{"Timeout", Timeout("x"), CodeTimeout},
		{"Canceled", Canceled("x"), CodeCanceled},
		{"StateMissing", StateMissing("x"), CodeStateMissing},
		{"StateMismatch", StateMismatch("x"), CodeStateMismatch},
		{"StateReused", StateReused("x"), CodeStateReused},
		{"OAuthError", OAuthError("x"), CodeOAuthError},
		{"UpstreamError", UpstreamError("x"), CodeUpstreamError},
		{"CircuitOpen", CircuitOpen("x"), CodeCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, "x", tt.err.Message)
		})
	}

	t.Run("InternalWrap", func(t *testing.T) {
		underlying := errors.New("entropy exhausted")
		err := InternalWrap("failed", underlying)
		assert.Equal(t, CodeInternal, err.Code)
		assert.Equal(t, underlying, err.Err)
	})
}

func TestIsCode(t *testing.T) {
	err := StateMismatch("State mismatch")

	assert.True(t, IsCode(err, CodeStateMismatch))
	assert.False(t, IsCode(err, CodeInternal))
	assert.False(t, IsCode(errors.New("regular error"), CodeStateMismatch))
	assert.True(t, IsCode(fmt.Errorf("exchanging: %w", err), CodeStateMismatch))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, CodeCircuitOpen, GetCode(CircuitOpen("open")))
	assert.Equal(t, CodeInternal, GetCode(errors.New("plain")))
}
