package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Notifications for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nNotifications:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [step %d] %s: %s\n", event.Step, event.AlertID, event.Title)
		}
	}
	return buf.String()
}

func checkAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case AssertFiredCount:
		return assertFiredCount(r, a)
	case AssertFiredAt:
		return assertFiredAt(r, a)
	case AssertFinalState:
		return assertFinalState(r, a)
	case AssertNotificationContains:
		return assertNotificationContains(r, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertFiredCount checks the alert fired exactly Count times.
func assertFiredCount(r *Result, a Assertion) error {
	fired := r.Notifications(a.Alert)
	if len(fired) != a.Count {
		return &AssertionError{
			Type:     AssertFiredCount,
			Expected: fmt.Sprintf("%d notifications for %s", a.Count, a.Alert),
			Actual:   fmt.Sprintf("%d notifications", len(fired)),
			Trace:    fired,
		}
	}
	return nil
}

// assertFiredAt checks the alert fired at exactly the listed steps.
func assertFiredAt(r *Result, a Assertion) error {
	fired := r.Notifications(a.Alert)
	steps := make([]int, 0, len(fired))
	for _, ev := range fired {
		steps = append(steps, ev.Step)
	}
	want := a.Steps
	if want == nil {
		want = []int{}
	}
	if !slices.Equal(steps, want) {
		return &AssertionError{
			Type:     AssertFiredAt,
			Expected: fmt.Sprintf("%s fired at steps %v", a.Alert, want),
			Actual:   fmt.Sprintf("fired at steps %v", steps),
			Trace:    fired,
		}
	}
	return nil
}

// assertFinalState checks the stored alert after the last step.
func assertFinalState(r *Result, a Assertion) error {
	alert, ok := r.Alerts[a.Alert]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("alert %s stored", a.Alert),
			Actual:   "not found",
		}
	}
	if a.State != "" && alert.LastState != a.State {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s state %s", a.Alert, a.State),
			Actual:   string(alert.LastState),
		}
	}
	if a.Triggered != nil {
		triggered := !alert.LastTriggeredAt.IsZero()
		if triggered != *a.Triggered {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s triggered=%t", a.Alert, *a.Triggered),
				Actual:   fmt.Sprintf("triggered=%t", triggered),
			}
		}
	}
	return nil
}

// assertNotificationContains checks some notification for the alert
// mentions Text in its title or body.
func assertNotificationContains(r *Result, a Assertion) error {
	fired := r.Notifications(a.Alert)
	for _, ev := range fired {
		if strings.Contains(ev.Title, a.Text) || strings.Contains(ev.Body, a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertNotificationContains,
		Expected: fmt.Sprintf("notification for %s containing %q", a.Alert, a.Text),
		Actual:   "not found",
		Trace:    fired,
	}
}
