package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineZero(t *testing.T) {
	assert.Zero(t, HaversineKm(0, 0, 0, 0))
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude is ~111.19 km on the 6371 km sphere.
	d := HaversineKm(0, 0, 1, 0)
	assert.InDelta(t, 111.19, d, 0.1)
}

func TestVehicleMatches(t *testing.T) {
	assert.True(t, VehicleMatches("bike", "bike"))
	assert.True(t, VehicleMatches("Bike", "BIKE"))
	assert.True(t, VehicleMatches("", "any"))
	assert.True(t, VehicleMatches("car", "Any"))
	assert.False(t, VehicleMatches("car", "bike"))
	assert.False(t, VehicleMatches("", "bike"))
	assert.False(t, VehicleMatches("bike", ""))
}

func TestValidCoord(t *testing.T) {
	assert.True(t, ValidCoord(12.97, 77.59))
	assert.False(t, ValidCoord(91, 0))
	assert.False(t, ValidCoord(0, -181))
}
