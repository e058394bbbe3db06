package clustering

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pt(id string, values ...float64) Point {
	known := make([]bool, len(values))
	for i := range known {
		known[i] = true
	}
	return Point{UnitID: id, Values: values, Known: known}
}

func twoGroups() []Point {
	return []Point{
		pt("a1", 0, 0),
		pt("a2", 0.1, 0),
		pt("a3", 0, 0.1),
		pt("b1", 10, 10),
		pt("b2", 10.1, 10),
		pt("b3", 10, 10.1),
	}
}

func TestFitChoosesKBySilhouette(t *testing.T) {
	m := Fit(twoGroups(), 0, 6, 10, 42)

	require.Equal(t, 2, m.K)
	assert.Equal(t, m.Labels[0], m.Labels[1])
	assert.Equal(t, m.Labels[0], m.Labels[2])
	assert.Equal(t, m.Labels[3], m.Labels[4])
	assert.NotEqual(t, m.Labels[0], m.Labels[3])
	assert.Greater(t, m.Silhouette, 0.9)
}

func TestFitIsDeterministic(t *testing.T) {
	first := Fit(twoGroups(), 0, 6, 10, 42)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, Fit(twoGroups(), 0, 6, 10, 42))
	}
}

func TestFitBoundsKByPopulation(t *testing.T) {
	m := Fit(twoGroups()[:3], 5, 6, 3, 42)
	assert.Equal(t, 2, m.K)
}

func TestPartialDistanceRescalesKnownDimensions(t *testing.T) {
	p := Point{Values: []float64{1, 0}, Known: []bool{true, false}}

	// One known dimension of two: squared distance doubles.
	assert.Equal(t, 2.0, partialDist2(p, []float64{0, 100}))
}

func TestConfidence(t *testing.T) {
	centroids := [][]float64{{0, 0}, {3, 0}}

	assert.Equal(t, 1.0, Confidence(pt("on", 0, 0), centroids, 0))

	// d_own = 1, d_other = 2: (1/1) / (1/1 + 1/2)
	assert.Equal(t, 0.667, Confidence(pt("near", 1, 0), centroids, 0))

	mid := Confidence(pt("mid", 1.5, 0), centroids, 0)
	assert.Equal(t, 0.5, mid)
}

func TestSilhouetteSingletonsScoreZero(t *testing.T) {
	points := []Point{pt("a", 0), pt("b", 1), pt("c", 5)}
	s := Silhouette(points, []int{0, 1, 2}, 3)
	assert.Equal(t, 0.0, s)
	assert.False(t, math.IsNaN(s))
}
