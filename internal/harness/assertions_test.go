package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/trackd/internal/model"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Type: EventStep, Step: 0},
		{Type: EventNotification, Step: 1, AlertID: "a", Title: "Alice is nearby", Body: "Alice is 80 m away"},
		{Type: EventStep, Step: 1},
		{Type: EventNotification, Step: 3, AlertID: "a", Title: "Alice moved away", Body: "Alice is now 150 m away"},
		{Type: EventStep, Step: 3},
	}
	r.Alerts["a"] = model.ProximityAlert{ID: "a", LastState: model.StateFar, LastTriggeredAt: Start.Add(time.Minute)}
	r.Alerts["b"] = model.ProximityAlert{ID: "b", LastState: model.StateUnknown}
	return r
}

func TestAssertFiredCount(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, checkAssertion(r, Assertion{Type: AssertFiredCount, Alert: "a", Count: 2}))
	assert.NoError(t, checkAssertion(r, Assertion{Type: AssertFiredCount, Alert: "b", Count: 0}))

	err := checkAssertion(r, Assertion{Type: AssertFiredCount, Alert: "a", Count: 1})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, AssertFiredCount, assertErr.Type)
	assert.Equal(t, "2 notifications", assertErr.Actual)
	assert.Len(t, assertErr.Trace, 2)
}

func TestAssertFiredAt(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, checkAssertion(r, Assertion{Type: AssertFiredAt, Alert: "a", Steps: []int{1, 3}}))
	assert.NoError(t, checkAssertion(r, Assertion{Type: AssertFiredAt, Alert: "b"}))

	err := checkAssertion(r, Assertion{Type: AssertFiredAt, Alert: "a", Steps: []int{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fired at steps [1 3]")
}

func TestAssertFinalState(t *testing.T) {
	r := sampleResult()
	yes, no := true, false

	assert.NoError(t, checkAssertion(r, Assertion{Type: AssertFinalState, Alert: "a", State: model.StateFar, Triggered: &yes}))
	assert.NoError(t, checkAssertion(r, Assertion{Type: AssertFinalState, Alert: "b", Triggered: &no}))

	err := checkAssertion(r, Assertion{Type: AssertFinalState, Alert: "a", State: model.StateNear})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: FAR")

	err = checkAssertion(r, Assertion{Type: AssertFinalState, Alert: "b", Triggered: &yes})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triggered=false")

	err = checkAssertion(r, Assertion{Type: AssertFinalState, Alert: "missing", State: model.StateFar})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAssertNotificationContains(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, checkAssertion(r, Assertion{Type: AssertNotificationContains, Alert: "a", Text: "moved away"}))
	assert.NoError(t, checkAssertion(r, Assertion{Type: AssertNotificationContains, Alert: "a", Text: "80 m"}))

	err := checkAssertion(r, Assertion{Type: AssertNotificationContains, Alert: "a", Text: "arrived"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[step 1] a: Alice is nearby")
}

func TestCheckAssertion_UnknownType(t *testing.T) {
	err := checkAssertion(NewResult(), Assertion{Type: "bogus", Alert: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown assertion type")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertFiredCount,
		Expected: "1 notifications for a",
		Actual:   "0 notifications",
	}
	assert.Equal(t, "Assertion failed: fired_count\n  Expected: 1 notifications for a\n  Actual: 0 notifications\n", err.Error())
}
