package location

import (
	"errors"
	"fmt"
)

// CapabilityCode identifies why the platform cannot provide locations.
type CapabilityCode string

const (
	// ErrCodePermissionDenied indicates location access is not granted.
	ErrCodePermissionDenied CapabilityCode = "PERMISSION_DENIED"

	// ErrCodeProviderDisabled indicates the location source is switched off
	// or absent.
	ErrCodeProviderDisabled CapabilityCode = "PROVIDER_DISABLED"
)

// CapabilityError is fatal to a start attempt and is never retried
// automatically.
type CapabilityError struct {
	Code    CapabilityCode
	Message string
	Err     error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// ErrNoFix is returned when the provider is available but has no usable
// fix yet. It is transient.
var ErrNoFix = errors.New("no location fix available")

// IsCapabilityError returns true if err is a CapabilityError.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// IsPermissionDenied returns true if err reports missing permission.
func IsPermissionDenied(err error) bool {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodePermissionDenied
	}
	return false
}

// NewPermissionError creates a CapabilityError for missing permission.
func NewPermissionError(msg string, err error) *CapabilityError {
	return &CapabilityError{Code: ErrCodePermissionDenied, Message: msg, Err: err}
}

// NewProviderDisabledError creates a CapabilityError for an absent provider.
func NewProviderDisabledError(msg string, err error) *CapabilityError {
	return &CapabilityError{Code: ErrCodeProviderDisabled, Message: msg, Err: err}
}
