package geodesy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openso2/so2home/internal/models"
)

func coord(lat, lon float64) models.Coordinate {
	return models.Coordinate{Latitude: lat, Longitude: lon}
}

func TestDistanceAndBearing_Fixtures(t *testing.T) {
	tests := []struct {
		name        string
		a, b        models.Coordinate
		wantDist    float64
		wantBearing float64 // degrees
	}{
		{"london to paris", coord(51.5074, -0.1278), coord(48.8566, 2.3522), 343556.06, 148.1156},
		{"one degree east on equator", coord(0, 0), coord(0, 1), 111194.93, 90},
		{"one degree north", coord(0, 0), coord(1, 0), 111194.93, 0},
		{"one degree west", coord(0, 0), coord(0, -1), 111194.93, 270},
		{"one degree south", coord(0, 0), coord(-1, 0), 111194.93, 180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, bearing := DistanceAndBearing(tt.a, tt.b)
			assert.InDelta(t, tt.wantDist, dist, 1.0)
			assert.InDelta(t, tt.wantBearing, radToDeg(bearing), 1e-3)
		})
	}
}

func TestDistanceAndBearing_Normalised(t *testing.T) {
	points := []models.Coordinate{
		coord(13.85, -89.63), coord(-36.79, 146.97), coord(64.1, -21.9), coord(0, 179.9), coord(0, -179.9),
	}
	for _, a := range points {
		for _, b := range points {
			_, bearing := DistanceAndBearing(a, b)
			assert.GreaterOrEqual(t, bearing, 0.0)
			assert.Less(t, bearing, 2*math.Pi)
		}
	}
}

func TestDistanceAndBearing_SamePointIsZero(t *testing.T) {
	for _, a := range []models.Coordinate{coord(13.85, -89.63), coord(0, 0), coord(-89.9, 45)} {
		dist, _ := DistanceAndBearing(a, a)
		assert.Equal(t, 0.0, dist)
	}
}

func TestDestination_ZeroDistanceIsIdentity(t *testing.T) {
	origin := coord(13.85, -89.63)
	for _, b := range []float64{0, 45, 90, 180, 271.5, 359.9} {
		got := Destination(origin, 0, b)
		assert.InDelta(t, origin.Latitude, got.Latitude, 1e-9)
		assert.InDelta(t, origin.Longitude, got.Longitude, 1e-9)
	}
}

func TestDestination_RoundTrip(t *testing.T) {
	origins := []models.Coordinate{coord(13.85, -89.63), coord(-36.79, 146.97), coord(37.75, 14.99)}
	distances := []float64{10, 500, 5000, 25000}
	bearings := []float64{1, 45, 120, 200, 315}

	for _, o := range origins {
		for _, d := range distances {
			for _, b := range bearings {
				dest := Destination(o, d, b)
				gotDist, gotBearing := DistanceAndBearing(o, dest)
				assert.InDelta(t, d, gotDist, d*1e-6+1e-6)
				assert.InDelta(t, b, radToDeg(gotBearing), 1e-3)
			}
		}
	}
}

func TestSphere_Radius(t *testing.T) {
	moon := Sphere{Radius: 1737400}
	dist, _ := moon.DistanceAndBearing(coord(0, 0), coord(0, 1))
	assert.InDelta(t, 1737400*math.Pi/180, dist, 1e-6)

	dest := moon.Destination(coord(0, 0), 1737400*math.Pi/180, 90)
	assert.InDelta(t, 1.0, dest.Longitude, 1e-9)
	assert.InDelta(t, 0.0, dest.Latitude, 1e-9)
}

func TestDegrees(t *testing.T) {
	_, bearing := DistanceAndBearing(coord(0, 0), coord(-1, 0))
	assert.InDelta(t, 180, Degrees(bearing), 1e-9)
	assert.InDelta(t, 90, Degrees(math.Pi/2), 1e-12)
}
