package proximity

import (
	"time"

	"github.com/hanibalsk/trackd/internal/model"
)

// Decision is the outcome of evaluating one alert against one peer.
type Decision struct {
	AlertID  string
	From     model.ProximityState
	To       model.ProximityState
	Distance float64

	// Changed is true when To must be persisted.
	Changed bool

	// Fire is true when a notification must be sent.
	Fire bool

	// Suppressed is true when the transition matched the direction but the
	// alert is still cooling down.
	Suppressed bool
}

// Evaluate decides what one observation means for alert. It performs no
// I/O. ok is false when the peer has no location, in which case the alert
// is left untouched.
func Evaluate(alert model.ProximityAlert, self model.Point, peer model.Peer, now time.Time) (d Decision, ok bool) {
	if peer.Location == nil {
		return Decision{}, false
	}

	dist := Distance(self, peer.Location.Point())
	to := Classify(dist, alert.ThresholdMeters)
	from := alert.LastState
	if from == "" {
		from = model.StateUnknown
	}

	d = Decision{
		AlertID:  alert.ID,
		From:     from,
		To:       to,
		Distance: dist,
		Changed:  from != to,
	}
	if d.Changed && alert.Direction.Fires(from, to) {
		if alert.InCooldown(now) {
			d.Suppressed = true
		} else {
			d.Fire = true
		}
	}
	return d, true
}
