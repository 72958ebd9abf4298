package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/hanibalsk/trackd/internal/model"
)

//go:embed alerts_schema.cue
var alertsSchema string

// alertSpec is one entry under `alert:` in the CUE file.
type alertSpec struct {
	Target    string  `json:"target"`
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Direction string  `json:"direction"`
	Cooldown  int     `json:"cooldown"`
	Active    bool    `json:"active"`
}

// LoadAlerts reads alert definitions from a CUE file or directory. Each
// field of the top-level `alert` struct is one alert keyed by its id:
//
//	alert: "mom-home": {
//		target:    "phone-mom"
//		name:      "Mom"
//		threshold: 150
//		direction: "enter"
//		cooldown:  600
//	}
//
// The result is ordered by id.
func LoadAlerts(path string) ([]model.ProximityAlert, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("alerts file: %w", err)
	}
	cfg := &load.Config{Dir: path}
	args := []string{"."}
	if !info.IsDir() {
		cfg.Dir = filepath.Dir(path)
		args = []string{filepath.Base(path)}
	}

	instances := load.Instances(args, cfg)
	if len(instances) == 0 {
		return nil, fmt.Errorf("load alerts %s: no CUE instances", path)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("load alerts %s: %w", path, err)
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(alertsSchema, cue.Filename("alerts_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("alerts schema: %w", err)
	}
	value := schema.Unify(cctx.BuildInstance(instances[0]))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate alerts %s: %w", path, err)
	}

	alertsVal := value.LookupPath(cue.ParsePath("alert"))
	if !alertsVal.Exists() {
		return nil, nil
	}
	iter, err := alertsVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}

	var out []model.ProximityAlert
	for iter.Next() {
		id := iter.Selector().Unquoted()
		var spec alertSpec
		if err := iter.Value().Decode(&spec); err != nil {
			return nil, fmt.Errorf("alert %s: %w", id, err)
		}
		dir, err := model.ParseDirection(spec.Direction)
		if err != nil {
			return nil, fmt.Errorf("alert %s: %w", id, err)
		}
		a := model.ProximityAlert{
			ID:                id,
			TargetDeviceID:    spec.Target,
			TargetDisplayName: spec.Name,
			ThresholdMeters:   spec.Threshold,
			Direction:         dir,
			LastState:         model.StateUnknown,
			CooldownSeconds:   spec.Cooldown,
			Active:            spec.Active,
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AlertStore is the alert persistence SyncAlerts needs. *store.Store
// implements it.
type AlertStore interface {
	ListAlerts(ctx context.Context, activeOnly bool) ([]model.ProximityAlert, error)
	UpsertAlert(ctx context.Context, a model.ProximityAlert) error
	DeleteAlert(ctx context.Context, id string) error
}

// SyncResult counts what SyncAlerts changed.
type SyncResult struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
}

// SyncAlerts makes the stored alerts match alerts. Existing alerts keep
// their proximity state; alerts missing from the list are deleted.
func SyncAlerts(ctx context.Context, st AlertStore, alerts []model.ProximityAlert, now time.Time) (SyncResult, error) {
	var res SyncResult

	existing, err := st.ListAlerts(ctx, false)
	if err != nil {
		return res, fmt.Errorf("sync alerts: %w", err)
	}
	keep := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		keep[a.ID] = true
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if err := st.UpsertAlert(ctx, a); err != nil {
			return res, fmt.Errorf("sync alerts: %w", err)
		}
		res.Upserted++
	}
	for _, a := range existing {
		if keep[a.ID] {
			continue
		}
		if err := st.DeleteAlert(ctx, a.ID); err != nil {
			return res, fmt.Errorf("sync alerts: %w", err)
		}
		res.Deleted++
	}
	return res, nil
}
