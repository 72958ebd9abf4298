package model

import (
	"fmt"
	"strings"
	"time"
)

// Direction selects which proximity transitions fire an alert.
type Direction string

const (
	DirectionEnter Direction = "ENTER"
	DirectionExit  Direction = "EXIT"
	DirectionBoth  Direction = "BOTH"
)

// ParseDirection accepts the direction name in any case.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(s))); d {
	case DirectionEnter, DirectionExit, DirectionBoth:
		return d, nil
	}
	return "", fmt.Errorf("unknown alert direction %q", s)
}

// ProximityState is the last observed relation between the caller and a peer.
type ProximityState string

const (
	StateUnknown ProximityState = "UNKNOWN"
	StateNear    ProximityState = "NEAR"
	StateFar     ProximityState = "FAR"
)

// ParseProximityState converts a persisted state string.
func ParseProximityState(s string) (ProximityState, error) {
	switch st := ProximityState(s); st {
	case StateUnknown, StateNear, StateFar:
		return st, nil
	}
	return "", fmt.Errorf("unknown proximity state %q", s)
}

// Fires reports whether a from -> to transition triggers an alert with
// direction d. Transitions out of Unknown establish a baseline and never fire.
func (d Direction) Fires(from, to ProximityState) bool {
	if from == to || from == StateUnknown {
		return false
	}
	switch d {
	case DirectionEnter:
		return from == StateFar && to == StateNear
	case DirectionExit:
		return from == StateNear && to == StateFar
	case DirectionBoth:
		return to == StateNear || to == StateFar
	}
	return false
}

// ProximityAlert watches the distance to one peer device.
// LastState and LastTriggeredAt are the only fields changed by evaluation.
type ProximityAlert struct {
	ID                string         `json:"id"`
	TargetDeviceID    string         `json:"target_device_id"`
	TargetDisplayName string         `json:"target_display_name,omitempty"`
	ThresholdMeters   float64        `json:"threshold_meters"`
	Direction         Direction      `json:"direction"`
	LastState         ProximityState `json:"last_state"`
	LastTriggeredAt   time.Time      `json:"last_triggered_at,omitzero"`
	CooldownSeconds   int            `json:"cooldown_seconds"`
	Active            bool           `json:"active"`
	CreatedAt         time.Time      `json:"created_at,omitzero"`
}

// Cooldown returns the configured minimum spacing between triggers.
func (a ProximityAlert) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds) * time.Second
}

// InCooldown reports whether a trigger at now would be suppressed.
func (a ProximityAlert) InCooldown(now time.Time) bool {
	if a.CooldownSeconds <= 0 || a.LastTriggeredAt.IsZero() {
		return false
	}
	return now.Sub(a.LastTriggeredAt) < a.Cooldown()
}

// Validate checks user-configurable fields.
func (a ProximityAlert) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	if a.TargetDeviceID == "" {
		return fmt.Errorf("alert %s: target device is required", a.ID)
	}
	if a.ThresholdMeters <= 0 {
		return fmt.Errorf("alert %s: threshold must be positive", a.ID)
	}
	if _, err := ParseDirection(string(a.Direction)); err != nil {
		return fmt.Errorf("alert %s: %w", a.ID, err)
	}
	if a.CooldownSeconds < 0 {
		return fmt.Errorf("alert %s: cooldown must not be negative", a.ID)
	}
	return nil
}
