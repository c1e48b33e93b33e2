// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import "errors"

// ErrorType represents the semantic category of an error
type ErrorType int

const (
	ErrorTypeValidation  ErrorType = iota // Input validation errors (400 Bad Request)
	ErrorTypeNotFound                     // Resource not found errors (404 Not Found)
	ErrorTypeConflict                     // Resource conflict errors (409 Conflict)
	ErrorTypeInternal                     // Internal server errors (500 Internal Server Error)
	ErrorTypeUnavailable                  // Service unavailable errors (503 Service Unavailable)
)

// Sync failure kinds. Each one decides how far a failure propagates.
var (
	// ErrInvalidRecurrenceRule is a caller bug: the rule could not be parsed.
	ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")
	// ErrInvalidWindow is a caller bug: the window ends before it starts.
	ErrInvalidWindow = errors.New("invalid window")
	// ErrNoEventComponent marks a calendar object without a VEVENT. Callers skip it.
	ErrNoEventComponent = errors.New("no event component")
	// ErrMalformedRemoteData marks a remote item that could not be interpreted. Callers drop it.
	ErrMalformedRemoteData = errors.New("malformed remote data")
	// ErrAuthenticationFailed means the provider rejected the connection credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrTransientNetworkError is retried with bounded backoff.
	ErrTransientNetworkError = errors.New("transient network error")
	// ErrCalendarWriteFailed is terminal for one operation on one calendar.
	ErrCalendarWriteFailed = errors.New("calendar write failed")
	// ErrLeaseLost is the cancel cause of a lease context whose lease expired
	// or was taken by another holder before release.
	ErrLeaseLost = errors.New("account lease lost")
)

// DomainError represents an error with semantic type information
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error // underlying error for wrapping
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// GetErrorType returns the semantic type of an error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	switch {
	case errors.Is(err, ErrInvalidRecurrenceRule), errors.Is(err, ErrInvalidWindow):
		return ErrorTypeValidation
	case errors.Is(err, ErrTransientNetworkError):
		return ErrorTypeUnavailable
	}
	return ErrorTypeInternal // default fallback
}

// IsRetryable reports whether the orchestrator should try the call again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		return false
	}
	return errors.Is(err, ErrTransientNetworkError)
}

// IsSkippable reports whether err describes one bad remote item that should be
// dropped without failing the batch it belongs to.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrNoEventComponent) || errors.Is(err, ErrMalformedRemoteData)
}

// Error constructors for different types
func NewValidationError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeValidation, Message: message, Err: errors.Join(err...)}
}

func NewNotFoundError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeNotFound, Message: message, Err: errors.Join(err...)}
}

func NewConflictError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeConflict, Message: message, Err: errors.Join(err...)}
}

func NewInternalError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeInternal, Message: message, Err: errors.Join(err...)}
}

func NewUnavailableError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUnavailable, Message: message, Err: errors.Join(err...)}
}

// NewTransientError wraps a network failure that is worth retrying.
func NewTransientError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUnavailable, Message: message, Err: errors.Join(append([]error{ErrTransientNetworkError}, err...)...)}
}

// NewAuthError wraps a credential rejection.
func NewAuthError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUnavailable, Message: message, Err: errors.Join(append([]error{ErrAuthenticationFailed}, err...)...)}
}

// NewWriteFailedError wraps the last error seen before a calendar write was abandoned.
func NewWriteFailedError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeInternal, Message: message, Err: errors.Join(append([]error{ErrCalendarWriteFailed}, err...)...)}
}

// NewMalformedDataError wraps a remote payload that could not be decoded.
func NewMalformedDataError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeInternal, Message: message, Err: errors.Join(append([]error{ErrMalformedRemoteData}, err...)...)}
}
