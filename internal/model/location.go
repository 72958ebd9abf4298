package model

import "time"

// LocationRecord is a captured location sample. Records are immutable once
// written; ID is assigned by the store and increases monotonically.
type LocationRecord struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider,omitempty"`

	Altitude *float64 `json:"altitude,omitempty"`
	Bearing  *float64 `json:"bearing,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`

	// Device context at capture time, forwarded to the ingestion endpoint.
	BatteryLevel *int   `json:"battery_level,omitempty"`
	NetworkType  string `json:"network_type,omitempty"`
}

// Point returns the record's coordinates.
func (r LocationRecord) Point() Point {
	return Point{Lat: r.Latitude, Lon: r.Longitude}
}

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Peer is a tracked device with its last-known location, if any.
type Peer struct {
	DeviceID    string          `json:"device_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Location    *LocationRecord `json:"location,omitempty"`
}
