package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	mumbai = Point{Lat: 19.0760, Lng: 72.8777}
	delhi  = Point{Lat: 28.6139, Lng: 77.2090}
)

func TestDistance_MumbaiDelhi(t *testing.T) {
	d := Distance(mumbai, delhi)

	assert.GreaterOrEqual(t, d, 1150.0)
	assert.LessOrEqual(t, d, 1165.0)
}

func TestDistance_SamePointIsZero(t *testing.T) {
	assert.InDelta(t, 0, Distance(mumbai, mumbai), 1e-9)
}

func TestDistance_Symmetric(t *testing.T) {
	assert.InDelta(t, Distance(mumbai, delhi), Distance(delhi, mumbai), 1e-9)
}

func TestWithin(t *testing.T) {
	nearby := Point{Lat: 19.07, Lng: 72.87}

	assert.True(t, Within(mumbai, nearby, 50))
	assert.False(t, Within(mumbai, delhi, 50))
	assert.True(t, Within(mumbai, delhi, 2000))
}

func TestDistance_Antipodes(t *testing.T) {
	halfCircumference := EarthRadiusKm * math.Pi

	d := Distance(Point{Lat: -89.26, Lng: -179.47}, Point{Lat: 89.26, Lng: 0.53})
	assert.False(t, math.IsNaN(d))
	assert.InDelta(t, halfCircumference, d, 1)

	for lat := -90.0; lat <= 90; lat += 0.37 {
		for lng := -180.0; lng < 0; lng += 0.53 {
			a := Point{Lat: lat, Lng: lng}
			b := Point{Lat: -lat, Lng: lng + 180}

			d := Distance(a, b)
			if !assert.False(t, math.IsNaN(d), "%v -> %v", a, b) {
				return
			}
			assert.True(t, Within(a, b, halfCircumference+1), "%v -> %v", a, b)
		}
	}
}
