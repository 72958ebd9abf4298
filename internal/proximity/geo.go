package proximity

import (
	"math"

	"github.com/hanibalsk/trackd/internal/model"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distance.
const EarthRadiusMeters = 6371000.0

// Distance returns the haversine great-circle distance between a and b in
// meters. It is symmetric and zero for identical points.
func Distance(a, b model.Point) float64 {
	if a == b {
		return 0
	}
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Classify maps a distance to Near or Far. The threshold itself is Near.
func Classify(distance, thresholdMeters float64) model.ProximityState {
	if distance <= thresholdMeters {
		return model.StateNear
	}
	return model.StateFar
}
