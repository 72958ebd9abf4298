package ingest

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes upload failures.
type ErrorCode string

const (
	// ErrCodeTransport indicates the request never got an HTTP response.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeStatus indicates a non-2xx response.
	ErrCodeStatus ErrorCode = "HTTP_STATUS"

	// ErrCodeRejected indicates a 2xx response with success=false.
	ErrCodeRejected ErrorCode = "REJECTED"

	// ErrCodePartial indicates the server processed fewer records than sent.
	ErrCodePartial ErrorCode = "PARTIAL"

	// ErrCodeDecode indicates an unreadable response body.
	ErrCodeDecode ErrorCode = "DECODE"
)

// ErrEmptyBatch is returned when UploadBatch is called without records.
var ErrEmptyBatch = errors.New("ingest: empty batch")

// Error is a failed batch upload. Every Error is retryable: the whole batch
// goes back through the queue's failure transition.
type Error struct {
	Code       ErrorCode
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("ingest: %s: HTTP %d: %s", e.Code, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("ingest: %s: HTTP %d", e.Code, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("ingest: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("ingest: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransportError returns true if the request failed before a response.
func IsTransportError(err error) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code == ErrCodeTransport
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.StatusCode
	}
	return 0
}
