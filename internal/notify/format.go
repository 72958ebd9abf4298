package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"
)

// Event describes a fired transition before it is rendered.
type Event struct {
	AlertID        string
	TargetDeviceID string
	TargetName     string
	DistanceMeters float64
	Entered        bool
}

// Formatter renders events as user-facing text.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter creates a formatter for tag. An empty tag uses English.
func NewFormatter(tag language.Tag) Formatter {
	if tag == language.Und {
		tag = language.English
	}
	return Formatter{printer: message.NewPrinter(tag)}
}

// Format builds the notification for ev.
func (f Formatter) Format(ev Event) Notification {
	p := f.printer
	if p == nil {
		p = message.NewPrinter(language.English)
	}
	name := norm.NFC.String(ev.TargetName)
	if name == "" {
		name = ev.TargetDeviceID
	}

	n := Notification{
		AlertID:        ev.AlertID,
		TargetDeviceID: ev.TargetDeviceID,
		DistanceMeters: ev.DistanceMeters,
	}
	if ev.Entered {
		n.Title = p.Sprintf("%s is nearby", name)
		n.Body = p.Sprintf("%s is %s away", name, distance(p, ev.DistanceMeters))
	} else {
		n.Title = p.Sprintf("%s moved away", name)
		n.Body = p.Sprintf("%s is now %s away", name, distance(p, ev.DistanceMeters))
	}
	return n
}

func distance(p *message.Printer, meters float64) string {
	if meters < 1000 {
		return p.Sprintf("%.0f m", meters)
	}
	return p.Sprintf("%.1f km", meters/1000)
}
