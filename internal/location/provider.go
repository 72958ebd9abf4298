// Package location abstracts the platform location source. A Provider
// yields a sample or fails with a CapabilityError or ErrNoFix.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/hanibalsk/trackd/internal/model"
)

// Provider is the capture capability.
type Provider interface {
	// Check reports whether capture is currently permitted and possible.
	Check(ctx context.Context) error

	// Capture returns the current location. ID is left zero.
	Capture(ctx context.Context) (model.LocationRecord, error)
}

// Fix is the on-disk form read by FileProvider. It matches the JSON a GPS
// daemon bridge writes for the latest position.
type Fix struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy"`
	Time      time.Time `json:"time"`
	Provider  string    `json:"provider,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Bearing   *float64  `json:"bearing,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Battery   *int      `json:"battery,omitempty"`
	Network   string    `json:"network,omitempty"`
}

// FileProvider reads the latest fix from a JSON file.
type FileProvider struct {
	Path     string
	DeviceID string

	// MaxAge rejects fixes older than this with ErrNoFix. Zero accepts any.
	MaxAge time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Check verifies the fix file can be read.
func (p *FileProvider) Check(ctx context.Context) error {
	f, err := os.Open(p.Path)
	if err != nil {
		return classify(p.Path, err)
	}
	return f.Close()
}

// Capture reads and validates the current fix.
func (p *FileProvider) Capture(ctx context.Context) (model.LocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.LocationRecord{}, err
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return model.LocationRecord{}, classify(p.Path, err)
	}
	if len(data) == 0 {
		return model.LocationRecord{}, ErrNoFix
	}

	var fix Fix
	if err := json.Unmarshal(data, &fix); err != nil {
		return model.LocationRecord{}, fmt.Errorf("decode fix %s: %w", p.Path, err)
	}
	if fix.Time.IsZero() {
		return model.LocationRecord{}, ErrNoFix
	}
	if p.MaxAge > 0 && p.now().Sub(fix.Time) > p.MaxAge {
		return model.LocationRecord{}, fmt.Errorf("fix from %s is stale: %w", fix.Time.Format(time.RFC3339), ErrNoFix)
	}

	provider := fix.Provider
	if provider == "" {
		provider = "file"
	}
	return model.LocationRecord{
		DeviceID:     p.DeviceID,
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		Accuracy:     fix.Accuracy,
		Timestamp:    fix.Time.UTC(),
		Provider:     provider,
		Altitude:     fix.Altitude,
		Bearing:      fix.Bearing,
		Speed:        fix.Speed,
		BatteryLevel: fix.Battery,
		NetworkType:  fix.Network,
	}, nil
}

func (p *FileProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func classify(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return NewPermissionError("cannot read "+path, err)
	case errors.Is(err, fs.ErrNotExist):
		return NewProviderDisabledError("no location source at "+path, err)
	}
	return fmt.Errorf("read fix %s: %w", path, err)
}

// Static always reports the same point. Set Err to simulate a platform
// that refuses capture.
type Static struct {
	mu       sync.Mutex
	point    model.Point
	deviceID string
	err      error
	now      func() time.Time
}

// NewStatic creates a provider fixed at pt. now may be nil.
func NewStatic(deviceID string, pt model.Point, now func() time.Time) *Static {
	if now == nil {
		now = time.Now
	}
	return &Static{point: pt, deviceID: deviceID, now: now}
}

// Move changes the reported point.
func (s *Static) Move(pt model.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.point = pt
}

// SetError makes Check and Capture fail with err until cleared with nil.
func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) Check(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if IsCapabilityError(s.err) {
		return s.err
	}
	return nil
}

func (s *Static) Capture(ctx context.Context) (model.LocationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.LocationRecord{}, s.err
	}
	return model.LocationRecord{
		DeviceID:  s.deviceID,
		Latitude:  s.point.Lat,
		Longitude: s.point.Lon,
		Accuracy:  1,
		Timestamp: s.now().UTC(),
		Provider:  "static",
	}, nil
}
