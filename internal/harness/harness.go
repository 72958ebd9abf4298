package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/notify"
	"github.com/hanibalsk/trackd/internal/proximity"
	"github.com/hanibalsk/trackd/internal/store"
)

// Start is the wall time of step offset zero.
var Start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errNotifyFailed = errors.New("notification delivery failed")

// stepClock reports the current step's time. Only Now is used by the
// engine; the embedded clock serves the rest of the interface.
type stepClock struct {
	quartz.Clock
	now time.Time
}

func (c *stepClock) Now(...string) time.Time { return c.now }

// Harness holds the per-scenario runtime.
type Harness struct {
	store  *store.Store
	engine *proximity.Engine
	clock  *stepClock
	self   model.Point
	result *Result

	step int
	fail bool
}

// Options configures Run.
type Options struct {
	Logger *zap.Logger
}

// Run executes a scenario in a fresh in-memory store and returns the
// result. An error is returned only when the scenario could not be run;
// failed expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  &stepClock{Clock: quartz.NewReal(), now: Start},
		self:   scenario.Self,
		result: NewResult(),
	}
	h.engine = proximity.NewEngine(st, notify.Func(h.notify), proximity.Options{
		Clock:     h.clock,
		Logger:    opts.Logger,
		Formatter: notify.NewFormatter(language.English),
	})

	for _, spec := range scenario.Alerts {
		alert, err := spec.alert()
		if err != nil {
			return nil, err
		}
		alert.CreatedAt = Start
		if err := st.UpsertAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("setup alert %s: %w", alert.ID, err)
		}
	}

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step); err != nil {
			return nil, err
		}
	}

	alerts, err := st.ListAlerts(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("read final state: %w", err)
	}
	for _, a := range alerts {
		h.result.Alerts[a.ID] = a
	}

	for _, assertion := range scenario.Assertions {
		if err := checkAssertion(h.result, assertion); err != nil {
			h.result.AddError(err.Error())
		}
	}
	return h.result, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step) error {
	h.step = i
	h.fail = step.FailNotify
	h.clock.now = Start.Add(step.At)
	if step.Self != nil {
		h.self = *step.Self
	}

	peers := make([]model.Peer, 0, len(step.Peers))
	for _, p := range step.Peers {
		peers = append(peers, h.peer(p))
	}

	rep, evalErr := h.engine.Evaluate(ctx, h.self, peers)

	states, err := h.states(ctx)
	if err != nil {
		return err
	}
	ev := TraceEvent{
		Type:       EventStep,
		Step:       i,
		At:         step.At.String(),
		Evaluated:  rep.Evaluated,
		Skipped:    rep.Skipped,
		Changed:    rep.Changed,
		Suppressed: rep.Suppressed,
		States:     states,
	}
	if evalErr != nil {
		ev.Error = evalErr.Error()
	}
	h.result.Trace = append(h.result.Trace, ev)

	if step.Expect != nil {
		h.checkStep(i, step.Expect, rep, states)
	}
	return nil
}

func (h *Harness) peer(p PeerSpec) model.Peer {
	peer := model.Peer{DeviceID: p.Device, DisplayName: p.Name}
	if p.Missing {
		return peer
	}
	var pt model.Point
	if p.Distance != nil {
		pt = North(h.self, *p.Distance)
	} else {
		pt = model.Point{Lat: *p.Lat, Lon: *p.Lon}
	}
	peer.Location = &model.LocationRecord{
		DeviceID:  p.Device,
		Latitude:  pt.Lat,
		Longitude: pt.Lon,
		Timestamp: h.clock.now,
	}
	return peer
}

func (h *Harness) notify(_ context.Context, n notify.Notification) error {
	if h.fail {
		return errNotifyFailed
	}
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Type:     EventNotification,
		Step:     h.step,
		AlertID:  n.AlertID,
		Title:    n.Title,
		Body:     n.Body,
		Distance: math.Round(n.DistanceMeters*10) / 10,
	})
	return nil
}

func (h *Harness) states(ctx context.Context) (map[string]model.ProximityState, error) {
	alerts, err := h.store.ListAlerts(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("read alert states: %w", err)
	}
	out := make(map[string]model.ProximityState, len(alerts))
	for _, a := range alerts {
		out[a.ID] = a.LastState
	}
	return out, nil
}

func (h *Harness) checkStep(i int, want *StepExpect, rep proximity.Report, states map[string]model.ProximityState) {
	if want.Fired != nil {
		got := make([]string, 0, len(rep.Fired))
		for _, n := range rep.Fired {
			got = append(got, n.AlertID)
		}
		wantFired := slices.Clone(want.Fired)
		slices.Sort(got)
		slices.Sort(wantFired)
		if !slices.Equal(got, wantFired) {
			h.result.AddError(fmt.Sprintf("step %d: fired %v, want %v", i, got, wantFired))
		}
	}
	for _, id := range slices.Sorted(maps.Keys(want.States)) {
		if state := want.States[id]; states[id] != state {
			h.result.AddError(fmt.Sprintf("step %d: alert %s state %s, want %s", i, id, states[id], state))
		}
	}
}

// North returns the point d meters due north of p.
func North(p model.Point, d float64) model.Point {
	return model.Point{Lat: p.Lat + d/(proximity.EarthRadiusMeters*math.Pi/180), Lon: p.Lon}
}
