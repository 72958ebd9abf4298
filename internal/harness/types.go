package harness

import "github.com/hanibalsk/trackd/internal/model"

// Trace event types.
const (
	EventStep         = "step"
	EventNotification = "notification"
)

// TraceEvent is one entry of a scenario trace. Step events close each pass
// and carry the alert states after it; notification events precede the
// step event of the pass that sent them.
type TraceEvent struct {
	Type string `json:"type"`
	Step int    `json:"step"`
	At   string `json:"at,omitempty"`

	// Notification fields.
	AlertID  string  `json:"alert_id,omitempty"`
	Title    string  `json:"title,omitempty"`
	Body     string  `json:"body,omitempty"`
	Distance float64 `json:"distance_m,omitempty"`

	// Step fields.
	Evaluated  int                             `json:"evaluated,omitempty"`
	Skipped    int                             `json:"skipped,omitempty"`
	Changed    int                             `json:"changed,omitempty"`
	Suppressed int                             `json:"suppressed,omitempty"`
	States     map[string]model.ProximityState `json:"states,omitempty"`
	Error      string                          `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all step and notification events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`

	// Alerts is the stored alert set after the last step, keyed by id.
	Alerts map[string]model.ProximityAlert `json:"alerts,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Alerts: make(map[string]model.ProximityAlert),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Notifications returns the notification events for alertID.
func (r *Result) Notifications(alertID string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventNotification && ev.AlertID == alertID {
			out = append(out, ev)
		}
	}
	return out
}
