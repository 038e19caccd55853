package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceIdenticalPoints(t *testing.T) {
	assert.Equal(t, 0.0, Distance(48.8566, 2.3522, 48.8566, 2.3522))
	assert.Equal(t, 0.0, Distance(0, 0, 0, 0))
}

func TestDistanceSymmetry(t *testing.T) {
	d1 := Distance(48.8566, 2.3522, 51.5074, -0.1278)
	d2 := Distance(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, d1, d2, 1e-2)
}

func TestDistanceKnownValue(t *testing.T) {
	// Paris to London is roughly 344 km great-circle.
	d := Distance(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 344000, d, 1500)
}

func TestDistanceShortSegment(t *testing.T) {
	// ~111 m per 0.001 degree of latitude.
	d := Distance(10.0, 20.0, 10.001, 20.0)
	assert.InDelta(t, 111.2, d, 1.0)
}

func TestDistanceInvalidOperands(t *testing.T) {
	assert.Equal(t, 0.0, Distance(math.NaN(), 2.3522, 51.5074, -0.1278))
	assert.Equal(t, 0.0, Distance(48.8566, 2.3522, math.Inf(1), -0.1278))
	assert.Equal(t, 0.0, Distance(48.8566, math.Inf(-1), 51.5074, math.NaN()))
}
