package model

import (
	"errors"
	"fmt"
	"time"
)

// QueueStatus is the upload state of a queued location record.
type QueueStatus string

const (
	StatusPending      QueueStatus = "PENDING"
	StatusUploading    QueueStatus = "UPLOADING"
	StatusUploaded     QueueStatus = "UPLOADED"
	StatusRetryPending QueueStatus = "RETRY_PENDING"
	StatusFailed       QueueStatus = "FAILED"
)

// AllStatuses lists every queue status in lifecycle order.
var AllStatuses = []QueueStatus{
	StatusPending,
	StatusUploading,
	StatusUploaded,
	StatusRetryPending,
	StatusFailed,
}

// ParseQueueStatus converts a persisted status string.
func ParseQueueStatus(s string) (QueueStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown queue status %q", s)
}

// Due reports whether items in this status are eligible for selection.
func (s QueueStatus) Due() bool {
	switch s {
	case StatusPending, StatusRetryPending:
		return true
	case StatusUploading, StatusUploaded, StatusFailed:
		return false
	}
	return false
}

// Terminal reports whether automatic processing never leaves this status.
func (s QueueStatus) Terminal() bool {
	switch s {
	case StatusUploaded, StatusFailed:
		return true
	case StatusPending, StatusUploading, StatusRetryPending:
		return false
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the upload state
// machine. The bulk reset of failed items is not an ordinary edge; see
// QueueItem.Reset.
func CanTransition(from, to QueueStatus) bool {
	switch from {
	case StatusPending, StatusRetryPending:
		return to == StatusUploading
	case StatusUploading:
		return to == StatusUploaded || to == StatusRetryPending || to == StatusFailed
	case StatusUploaded, StatusFailed:
		return false
	}
	return false
}

// ErrInvalidTransition is matched by every TransitionError.
var ErrInvalidTransition = errors.New("invalid queue transition")

// TransitionError reports a rejected status change.
type TransitionError struct {
	LocationID int64
	From       QueueStatus
	To         QueueStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("location %d: cannot move from %s to %s", e.LocationID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// QueueItem is the upload ledger entry for one location record.
// Zero time values mean "absent".
type QueueItem struct {
	LocationID    int64       `json:"location_id"`
	Status        QueueStatus `json:"status"`
	RetryCount    int         `json:"retry_count"`
	LastAttemptAt time.Time   `json:"last_attempt_at,omitzero"`
	NextRetryAt   time.Time   `json:"next_retry_at,omitzero"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	QueuedAt      time.Time   `json:"queued_at"`
}

// NewQueueItem returns a Pending item queued at now.
func NewQueueItem(locationID int64, now time.Time) QueueItem {
	return QueueItem{
		LocationID: locationID,
		Status:     StatusPending,
		QueuedAt:   now,
	}
}

// Validate checks the invariants that hold in every status.
func (it QueueItem) Validate() error {
	if _, err := ParseQueueStatus(string(it.Status)); err != nil {
		return err
	}
	if it.RetryCount < 0 {
		return fmt.Errorf("location %d: negative retry count", it.LocationID)
	}
	if (it.Status == StatusRetryPending) != !it.NextRetryAt.IsZero() {
		return fmt.Errorf("location %d: next retry time must be set only while %s", it.LocationID, StatusRetryPending)
	}
	return nil
}

// IsDue reports whether the item would be selected at now.
func (it QueueItem) IsDue(now time.Time) bool {
	if !it.Status.Due() {
		return false
	}
	return it.NextRetryAt.IsZero() || !it.NextRetryAt.After(now)
}

func (it QueueItem) move(to QueueStatus) (QueueItem, error) {
	if !CanTransition(it.Status, to) {
		return it, &TransitionError{LocationID: it.LocationID, From: it.Status, To: to}
	}
	it.Status = to
	return it, nil
}

// BeginUpload moves a due item to Uploading and records the attempt time.
func (it QueueItem) BeginUpload(now time.Time) (QueueItem, error) {
	next, err := it.move(StatusUploading)
	if err != nil {
		return it, err
	}
	next.LastAttemptAt = now
	next.NextRetryAt = time.Time{}
	return next, nil
}

// Succeed moves an uploading item to Uploaded.
func (it QueueItem) Succeed() (QueueItem, error) {
	next, err := it.move(StatusUploaded)
	if err != nil {
		return it, err
	}
	next.ErrorMessage = ""
	return next, nil
}

// RetryPolicy decides what happens after a failed attempt.
type RetryPolicy interface {
	// MaxRetries is the attempt count at which an item becomes Failed.
	MaxRetries() int
	// Delay returns the wait before attempt n+1, where n >= 1 is the
	// number of failures so far.
	Delay(n int) time.Duration
}

// Fail applies the failure rule to an uploading item: the retry count is
// incremented and the item either waits for another attempt or, once the
// count reaches the policy's limit, becomes Failed.
func (it QueueItem) Fail(now time.Time, msg string, policy RetryPolicy) (QueueItem, error) {
	if it.RetryCount+1 >= policy.MaxRetries() {
		return it.GiveUp(msg)
	}
	return it.Retry(now, msg, policy.Delay(it.RetryCount+1))
}

// Retry moves an uploading item to RetryPending, due after delay.
func (it QueueItem) Retry(now time.Time, msg string, delay time.Duration) (QueueItem, error) {
	next, err := it.move(StatusRetryPending)
	if err != nil {
		return it, err
	}
	next.RetryCount++
	next.ErrorMessage = msg
	next.NextRetryAt = now.Add(delay)
	return next, nil
}

// GiveUp moves an uploading item to Failed.
func (it QueueItem) GiveUp(msg string) (QueueItem, error) {
	next, err := it.move(StatusFailed)
	if err != nil {
		return it, err
	}
	next.RetryCount++
	next.ErrorMessage = msg
	next.NextRetryAt = time.Time{}
	return next, nil
}

// Reset returns a Failed item to RetryPending, due at now, with its retry
// count cleared. It is the only way out of Failed.
func (it QueueItem) Reset(now time.Time) (QueueItem, error) {
	if it.Status != StatusFailed {
		return it, &TransitionError{LocationID: it.LocationID, From: it.Status, To: StatusRetryPending}
	}
	it.Status = StatusRetryPending
	it.RetryCount = 0
	it.NextRetryAt = now
	it.ErrorMessage = ""
	return it, nil
}

// QueueStats counts queue items per status.
type QueueStats struct {
	Pending      int `json:"pending"`
	Uploading    int `json:"uploading"`
	Uploaded     int `json:"uploaded"`
	RetryPending int `json:"retry_pending"`
	Failed       int `json:"failed"`
}

// Total is the number of rows in the queue.
func (s QueueStats) Total() int {
	return s.Pending + s.Uploading + s.Uploaded + s.RetryPending + s.Failed
}

// NeedsUpload counts items that will be attempted again automatically.
func (s QueueStats) NeedsUpload() int {
	return s.Pending + s.RetryPending
}

// Count returns the number of items in status.
func (s QueueStats) Count(status QueueStatus) int {
	switch status {
	case StatusPending:
		return s.Pending
	case StatusUploading:
		return s.Uploading
	case StatusUploaded:
		return s.Uploaded
	case StatusRetryPending:
		return s.RetryPending
	case StatusFailed:
		return s.Failed
	}
	return 0
}
