package proximity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hanibalsk/trackd/internal/model"
)

var (
	bratislava = model.Point{Lat: 48.1486, Lon: 17.1077}
	vienna     = model.Point{Lat: 48.2082, Lon: 16.3738}
)

// north returns a point d meters due north of p.
func north(p model.Point, d float64) model.Point {
	return model.Point{Lat: p.Lat + d/(EarthRadiusMeters*math.Pi/180), Lon: p.Lon}
}

func TestDistance_Zero(t *testing.T) {
	assert.Zero(t, Distance(bratislava, bratislava))
	assert.Zero(t, Distance(model.Point{}, model.Point{}))
}

func TestDistance_Symmetric(t *testing.T) {
	points := []model.Point{bratislava, vienna, {Lat: -33.8688, Lon: 151.2093}, {Lat: 89.9, Lon: -179.9}}
	for _, a := range points {
		for _, b := range points {
			assert.Equal(t, Distance(a, b), Distance(b, a), "%v %v", a, b)
		}
	}
}

func TestDistance_Known(t *testing.T) {
	assert.InDelta(t, 55_000, Distance(bratislava, vienna), 1_000)
	assert.InDelta(t, 150, Distance(bratislava, north(bratislava, 150)), 0.01)
	assert.InDelta(t, math.Pi*EarthRadiusMeters, Distance(model.Point{Lat: 0, Lon: 0}, model.Point{Lat: 0, Lon: 180}), 1)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.StateNear, Classify(100, 100))
	assert.Equal(t, model.StateNear, Classify(0, 100))
	assert.Equal(t, model.StateFar, Classify(100.001, 100))
}
