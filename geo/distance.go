package geo

import (
	"github.com/golang/geo/s2"
	"github.com/jd3nn1s/telemeter/position"
)

const (
	EarthRadiusKm = 6371.0

	msToKph = 3.6
)

// DistanceDeltaKm returns the great-circle (haversine) distance between two
// consecutive fixes. A nil prev means there is nothing to compare against yet.
func DistanceDeltaKm(prev *position.Fix, curr position.Fix) float64 {
	if prev == nil {
		return 0
	}
	p1 := s2.LatLngFromDegrees(prev.Latitude, prev.Longitude)
	p2 := s2.LatLngFromDegrees(curr.Latitude, curr.Longitude)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// NormalizeSpeedKph converts a reported m/s speed to km/h; absent is 0.
func NormalizeSpeedKph(reported *float64) float64 {
	if reported == nil {
		return 0
	}
	return *reported * msToKph
}
