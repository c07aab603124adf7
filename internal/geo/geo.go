package geo

import (
	"math"
	"strings"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// VehicleMatches reports whether a partner's vehicle class satisfies the
// requested one. "any" matches everything; otherwise the match is
// case-insensitive and an unset class on either side never matches.
func VehicleMatches(partnerClass, requested string) bool {
	if strings.EqualFold(requested, "any") {
		return true
	}
	if partnerClass == "" || requested == "" {
		return false
	}
	return strings.EqualFold(partnerClass, requested)
}

// ValidCoord rejects positions outside the WGS84 envelope.
func ValidCoord(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
