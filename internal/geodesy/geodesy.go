// Package geodesy computes great-circle distances, bearings and destination
// points on a sphere. Inputs are not validated.
package geodesy

import (
	"math"

	"github.com/openso2/so2home/internal/models"
)

// EarthRadius is the mean Earth radius in metres.
const EarthRadius = 6371000.0

// Sphere is a spherical body of the given radius in metres.
type Sphere struct {
	Radius float64
}

// Earth is the default sphere used by the package-level functions.
var Earth = Sphere{Radius: EarthRadius}

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}

func radToDeg(rad float64) float64 {
	return rad * (180.0 / math.Pi)
}

// Degrees converts a bearing from DistanceAndBearing to degrees.
func Degrees(rad float64) float64 { return radToDeg(rad) }

// DistanceAndBearing returns the haversine distance in metres and the initial
// bearing from a to b in radians, normalised to [0, 2π).
func (s Sphere) DistanceAndBearing(a, b models.Coordinate) (float64, float64) {
	lat1, lon1 := degToRad(a.Latitude), degToRad(a.Longitude)
	lat2, lon2 := degToRad(b.Latitude), degToRad(b.Longitude)

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	bearing := math.Atan2(
		math.Sin(dLon)*math.Cos(lat2),
		math.Cos(lat1)*math.Sin(lat2)-math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon),
	)
	bearing = math.Mod(bearing, 2*math.Pi)
	if bearing < 0 {
		bearing += 2 * math.Pi
	}

	return s.Radius * c, bearing
}

// Destination projects distance metres along bearingDeg (clockwise from
// north) from origin.
func (s Sphere) Destination(origin models.Coordinate, distance, bearingDeg float64) models.Coordinate {
	lat, lon := degToRad(origin.Latitude), degToRad(origin.Longitude)
	theta := degToRad(bearingDeg)
	delta := distance / s.Radius

	endLat := math.Asin(math.Sin(lat)*math.Cos(delta) + math.Cos(lat)*math.Sin(delta)*math.Cos(theta))
	endLon := lon + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat),
		math.Cos(delta)-math.Sin(lat)*math.Sin(endLat),
	)

	return models.Coordinate{Latitude: radToDeg(endLat), Longitude: radToDeg(endLon)}
}

func DistanceAndBearing(a, b models.Coordinate) (float64, float64) {
	return Earth.DistanceAndBearing(a, b)
}

func Destination(origin models.Coordinate, distance, bearingDeg float64) models.Coordinate {
	return Earth.Destination(origin, distance, bearingDeg)
}
