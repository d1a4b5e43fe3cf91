package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKm_SamePointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, DistanceKm(34.0522, -118.2437, 34.0522, -118.2437))
	assert.Equal(t, 0.0, DistanceKm(-90, 0, -90, 0))
}

func TestDistanceKm_Symmetric(t *testing.T) {
	points := []Location{
		{34.0522, -118.2437},
		{40.7128, -74.0060},
		{-33.8688, 151.2093},
		{51.5074, -0.1278},
		{0, 179.9},
		{0, -179.9},
	}
	for _, a := range points {
		for _, b := range points {
			ab := DistanceKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
			ba := DistanceKm(b.Latitude, b.Longitude, a.Latitude, a.Longitude)
			assert.InEpsilon(t, ab+1, ba+1, 1e-9, "%v <-> %v", a, b)
			assert.GreaterOrEqual(t, ab, 0.0)
		}
	}
}

func TestDistanceKm_KnownDistances(t *testing.T) {
	// one degree of latitude along a meridian
	assert.InDelta(t, 111.195, DistanceKm(0, 0, 1, 0), 0.01)

	// Los Angeles to New York
	assert.InDelta(t, 3936, DistanceKm(34.0522, -118.2437, 40.7128, -74.0060), 5)

	// across the antimeridian is short, not half the globe
	assert.InDelta(t, 22.24, DistanceKm(0, 179.9, 0, -179.9), 0.05)
}

func TestDistanceKm_Antipodal(t *testing.T) {
	d := DistanceKm(0, 0, 0, 180)
	assert.False(t, math.IsNaN(d))
	assert.InDelta(t, math.Pi*EarthRadiusKm, d, 1e-6)
}

func TestDistanceKm_NonFiniteIsUnknown(t *testing.T) {
	assert.True(t, IsUnknown(DistanceKm(math.NaN(), 0, 0, 0)))
	assert.True(t, IsUnknown(DistanceKm(0, math.Inf(-1), 0, 0)))
	assert.True(t, IsUnknown(DistanceKm(0, 0, 0, math.Inf(1))))
}

func TestBetween(t *testing.T) {
	here := &Location{Latitude: 34.05, Longitude: -118.24}
	assert.True(t, IsUnknown(Between(nil, here)))
	assert.True(t, IsUnknown(Between(here, nil)))
	assert.Equal(t, 0.0, Between(here, here))
}

func TestLocation_Valid(t *testing.T) {
	assert.True(t, Location{Latitude: 90, Longitude: -180}.Valid())
	assert.False(t, Location{Latitude: 90.1, Longitude: 0}.Valid())
	assert.False(t, Location{Latitude: 0, Longitude: 181}.Valid())
	assert.False(t, Location{Latitude: math.NaN(), Longitude: 0}.Valid())
}

func TestParse(t *testing.T) {
	loc := Parse("34.0522", " -118.2437")
	require.NotNil(t, loc)
	assert.Equal(t, Location{Latitude: 34.0522, Longitude: -118.2437}, *loc)

	for _, in := range [][2]string{{"", ""}, {"34", ""}, {"abc", "1"}, {"91", "0"}, {"NaN", "0"}, {"0", "Inf"}} {
		assert.Nil(t, Parse(in[0], in[1]), in)
	}
}
