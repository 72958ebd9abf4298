package service

import (
	"errors"
	"fmt"
)

// ControlError is returned by the tracking control operations.
type ControlError struct {
	// Code identifies the error category.
	Code ControlErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ControlErrorCode categorizes control errors.
type ControlErrorCode string

const (
	// ErrCodePermission indicates the location capability is not granted
	// or the provider is disabled.
	ErrCodePermission ControlErrorCode = "PERMISSION"

	// ErrCodePlatform indicates the request could not be carried out:
	// invalid arguments or a failing dependency.
	ErrCodePlatform ControlErrorCode = "PLATFORM"
)

// Error implements the error interface.
func (e *ControlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *ControlError) Unwrap() error {
	return e.Err
}

// IsPermissionError reports whether err is a ControlError with
// ErrCodePermission.
func IsPermissionError(err error) bool {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodePermission
	}
	return false
}

// IsPlatformError reports whether err is a ControlError with
// ErrCodePlatform.
func IsPlatformError(err error) bool {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodePlatform
	}
	return false
}

// Outcome describes what a successful control call did.
type Outcome string

const (
	// OutcomeApplied means the request changed the tracking state.
	OutcomeApplied Outcome = "APPLIED"

	// OutcomeAlreadyInState means nothing had to change.
	OutcomeAlreadyInState Outcome = "ALREADY_IN_STATE"
)
