package ingest

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hanibalsk/trackd/internal/model"
)

// batchNamespace scopes idempotency keys derived from location ids.
var batchNamespace = uuid.MustParse("6f1c2c1e-5b7a-4d0e-9a43-2f8e2d1c7b90")

// BatchRequest is the body of a batch upload.
type BatchRequest struct {
	DeviceID  string            `json:"deviceId"`
	Locations []LocationPayload `json:"locations"`
}

// LocationPayload is one sample as the ingestion API expects it.
// Timestamp is unix milliseconds.
type LocationPayload struct {
	DeviceID     string   `json:"deviceId"`
	Timestamp    int64    `json:"timestamp"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	Accuracy     float64  `json:"accuracy"`
	Altitude     *float64 `json:"altitude,omitempty"`
	Bearing      *float64 `json:"bearing,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	BatteryLevel *int     `json:"batteryLevel,omitempty"`
	NetworkType  string   `json:"networkType,omitempty"`
}

// BatchResponse is the ingestion API's answer.
type BatchResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	ProcessedCount int    `json:"processedCount"`
}

// NewBatchRequest builds the request body. Records without a device id are
// attributed to deviceID.
func NewBatchRequest(deviceID string, records []model.LocationRecord) BatchRequest {
	req := BatchRequest{
		DeviceID:  deviceID,
		Locations: make([]LocationPayload, 0, len(records)),
	}
	for _, r := range records {
		dev := r.DeviceID
		if dev == "" {
			dev = deviceID
		}
		req.Locations = append(req.Locations, LocationPayload{
			DeviceID:     dev,
			Timestamp:    r.Timestamp.UnixMilli(),
			Latitude:     r.Latitude,
			Longitude:    r.Longitude,
			Accuracy:     r.Accuracy,
			Altitude:     r.Altitude,
			Bearing:      r.Bearing,
			Speed:        r.Speed,
			Provider:     r.Provider,
			BatteryLevel: r.BatteryLevel,
			NetworkType:  r.NetworkType,
		})
	}
	return req
}

// IdempotencyKey derives a stable key from the record ids so the server can
// discard a batch it already accepted.
func IdempotencyKey(deviceID string, records []model.LocationRecord) string {
	var b strings.Builder
	b.WriteString(deviceID)
	for _, r := range records {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(r.ID, 10))
	}
	return uuid.NewSHA1(batchNamespace, []byte(b.String())).String()
}
