// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncErrorsAreDistinct(t *testing.T) {
	errorVars := []error{
		ErrInvalidRecurrenceRule,
		ErrInvalidWindow,
		ErrNoEventComponent,
		ErrMalformedRemoteData,
		ErrAuthenticationFailed,
		ErrTransientNetworkError,
		ErrCalendarWriteFailed,
	}

	for i, err1 := range errorVars {
		for j, err2 := range errorVars {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors should be distinct: %v and %v are considered equal", err1, err2)
			}
		}
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"validation", NewValidationError("bad"), ErrorTypeValidation},
		{"not found", NewNotFoundError("missing"), ErrorTypeNotFound},
		{"conflict", NewConflictError("modified"), ErrorTypeConflict},
		{"unavailable", NewUnavailableError("down"), ErrorTypeUnavailable},
		{"transient", NewTransientError("timeout"), ErrorTypeUnavailable},
		{"bare invalid rule", fmt.Errorf("parse: %w", ErrInvalidRecurrenceRule), ErrorTypeValidation},
		{"bare invalid window", ErrInvalidWindow, ErrorTypeValidation},
		{"plain error", errors.New("boom"), ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorType(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"transient", NewTransientError("timeout", errors.New("i/o timeout")), true},
		{"wrapped transient", fmt.Errorf("put: %w", ErrTransientNetworkError), true},
		{"auth", NewAuthError("401"), false},
		{"write failed", NewWriteFailedError("gave up"), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsSkippable(t *testing.T) {
	assert.True(t, IsSkippable(ErrNoEventComponent))
	assert.True(t, IsSkippable(NewMalformedDataError("bad tz")))
	assert.False(t, IsSkippable(NewAuthError("denied")))
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransientError("caldav put", cause)

	assert.ErrorIs(t, err, ErrTransientNetworkError)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "caldav put")
}
