package geodesy

import (
	"math"

	"github.com/openso2/so2home/internal/models"
)

// DefaultArrowLength is the length of the plume arrow drawn from the volcano.
const DefaultArrowLength = 5000.0

// maxScanAngle keeps rays away from the horizon where tan() blows up.
const maxScanAngle = 89.0

// PlumeArrow returns the volcano and the point length metres downwind of it.
func PlumeArrow(volcano models.Coordinate, directionDeg, length float64) [2]models.Coordinate {
	if length <= 0 {
		length = DefaultArrowLength
	}
	return [2]models.Coordinate{volcano, Destination(volcano, length, directionDeg)}
}

// ScanIntersections returns where each scan ray crosses the plume altitude.
// Angles are degrees from zenith, positive towards the station azimuth.
// Rays at or beyond the horizon are skipped, as is everything when the plume
// is not above the station.
func ScanIntersections(loc models.StationLocation, plumeAltitude float64, anglesDeg []float64) []models.Coordinate {
	height := plumeAltitude - loc.Altitude
	if height <= 0 {
		return nil
	}

	origin := loc.Coordinate()
	points := make([]models.Coordinate, 0, len(anglesDeg))
	for _, a := range anglesDeg {
		if math.Abs(a) >= maxScanAngle {
			continue
		}
		dist := height * math.Tan(degToRad(a))
		bearing := loc.Azimuth
		if dist < 0 {
			dist = -dist
			bearing = math.Mod(bearing+180, 360)
		}
		points = append(points, Destination(origin, dist, bearing))
	}
	return points
}

// ScanFan returns the two edge points of a station's scan at the plume
// altitude for a sweep of ±maxAngleDeg about zenith.
func ScanFan(loc models.StationLocation, plumeAltitude, maxAngleDeg float64) []models.Coordinate {
	return ScanIntersections(loc, plumeAltitude, []float64{-maxAngleDeg, maxAngleDeg})
}

// PlumeTravel returns how far the plume has moved from origin after
// elapsed seconds at speed m/s along directionDeg.
func PlumeTravel(origin models.Coordinate, speed, directionDeg, elapsed float64) models.Coordinate {
	return Destination(origin, speed*elapsed, directionDeg)
}
