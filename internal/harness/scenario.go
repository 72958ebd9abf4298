package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hanibalsk/trackd/internal/model"
)

// Scenario is a sequence of observations replayed against a set of alerts.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Self is this device's position. Steps may move it.
	Self model.Point `yaml:"self"`

	// Alerts are stored before the first step, all with state UNKNOWN.
	Alerts []AlertSpec `yaml:"alerts"`

	// Steps are evaluated in order, one engine pass each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// AlertSpec declares one alert.
type AlertSpec struct {
	ID        string  `yaml:"id"`
	Target    string  `yaml:"target"`
	Name      string  `yaml:"name,omitempty"`
	Threshold float64 `yaml:"threshold"`
	Direction string  `yaml:"direction,omitempty"`
	Cooldown  int     `yaml:"cooldown,omitempty"`

	// Inactive alerts are stored but never evaluated.
	Inactive bool `yaml:"inactive,omitempty"`
}

// Step is one evaluation pass.
type Step struct {
	// At is the offset from the scenario start. It must not decrease.
	At time.Duration `yaml:"at"`

	// Self moves this device before the pass.
	Self *model.Point `yaml:"self,omitempty"`

	// Peers are the peer locations seen in this pass.
	Peers []PeerSpec `yaml:"peers"`

	// FailNotify makes every notification in this pass fail.
	FailNotify bool `yaml:"fail_notify,omitempty"`

	// Expect checks the outcome of this pass.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// PeerSpec places a peer relative to self or absolutely.
type PeerSpec struct {
	Device   string   `yaml:"device"`
	Name     string   `yaml:"name,omitempty"`
	Distance *float64 `yaml:"distance,omitempty"`
	Lat      *float64 `yaml:"lat,omitempty"`
	Lon      *float64 `yaml:"lon,omitempty"`
	Missing  bool     `yaml:"missing,omitempty"`
}

// StepExpect is checked right after a pass. Fired is compared exactly
// when present; States is a subset match.
type StepExpect struct {
	Fired  []string                        `yaml:"fired"`
	States map[string]model.ProximityState `yaml:"states,omitempty"`
}

// Assertion validates the trace or the final alert state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Alert is the alert id every assertion type refers to.
	Alert string `yaml:"alert"`

	// Count is used by fired_count.
	Count int `yaml:"count,omitempty"`

	// Steps is used by fired_at.
	Steps []int `yaml:"steps,omitempty"`

	// State and Triggered are used by final_state.
	State     model.ProximityState `yaml:"state,omitempty"`
	Triggered *bool                `yaml:"triggered,omitempty"`

	// Text is used by notification_contains.
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertFiredCount           = "fired_count"
	AssertFiredAt              = "fired_at"
	AssertFinalState           = "final_state"
	AssertNotificationContains = "notification_contains"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Alerts) == 0 {
		return fmt.Errorf("alerts list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	ids := make(map[string]bool, len(s.Alerts))
	for i, a := range s.Alerts {
		if a.ID == "" {
			return fmt.Errorf("alerts[%d]: id is required", i)
		}
		if ids[a.ID] {
			return fmt.Errorf("alerts[%d]: duplicate id %q", i, a.ID)
		}
		ids[a.ID] = true
		if _, err := a.alert(); err != nil {
			return fmt.Errorf("alerts[%d]: %w", i, err)
		}
	}

	var last time.Duration
	for i, step := range s.Steps {
		if step.At < last {
			return fmt.Errorf("steps[%d]: at %s is before the previous step", i, step.At)
		}
		last = step.At
		for j, p := range step.Peers {
			if err := p.validate(); err != nil {
				return fmt.Errorf("steps[%d].peers[%d]: %w", i, j, err)
			}
		}
		if step.Expect == nil {
			continue
		}
		for _, id := range step.Expect.Fired {
			if !ids[id] {
				return fmt.Errorf("steps[%d].expect: unknown alert %q", i, id)
			}
		}
		for id := range step.Expect.States {
			if !ids[id] {
				return fmt.Errorf("steps[%d].expect: unknown alert %q", i, id)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, ids); err != nil {
			return err
		}
	}
	return nil
}

func (p PeerSpec) validate() error {
	if p.Device == "" {
		return fmt.Errorf("device is required")
	}
	if p.Missing {
		return nil
	}
	switch {
	case p.Distance != nil && (p.Lat != nil || p.Lon != nil):
		return fmt.Errorf("use either distance or lat/lon")
	case p.Distance != nil:
		if *p.Distance < 0 {
			return fmt.Errorf("distance must be non-negative")
		}
	case p.Lat == nil || p.Lon == nil:
		return fmt.Errorf("distance or both lat and lon are required")
	}
	return nil
}

func (a AlertSpec) alert() (model.ProximityAlert, error) {
	dir := model.DirectionBoth
	if a.Direction != "" {
		var err error
		if dir, err = model.ParseDirection(a.Direction); err != nil {
			return model.ProximityAlert{}, err
		}
	}
	alert := model.ProximityAlert{
		ID:                a.ID,
		TargetDeviceID:    a.Target,
		TargetDisplayName: a.Name,
		ThresholdMeters:   a.Threshold,
		Direction:         dir,
		LastState:         model.StateUnknown,
		CooldownSeconds:   a.Cooldown,
		Active:            !a.Inactive,
	}
	return alert, alert.Validate()
}

func validateAssertion(index int, a Assertion, ids map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Alert == "" {
		return fmt.Errorf("assertions[%d]: alert is required", index)
	}
	if !ids[a.Alert] {
		return fmt.Errorf("assertions[%d]: unknown alert %q", index, a.Alert)
	}

	switch a.Type {
	case AssertFiredCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fired_count", index)
		}
	case AssertFiredAt:
	case AssertFinalState:
		if a.State == "" && a.Triggered == nil {
			return fmt.Errorf("assertions[%d]: state or triggered is required for final_state", index)
		}
		if a.State != "" {
			if _, err := model.ParseProximityState(string(a.State)); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertNotificationContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for notification_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
