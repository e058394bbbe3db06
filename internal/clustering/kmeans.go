package clustering

import (
	"math"
	"math/rand/v2"
)

const maxIterations = 100

// Point is one unit in normalized feature space. Known marks the dimensions
// that carry a value.
type Point struct {
	UnitID string
	Values []float64
	Known  []bool
}

// Model is the outcome of one clustering pass
type Model struct {
	K          int
	Centroids  [][]float64
	Labels     []int
	Inertia    float64
	Silhouette float64
}

// partialDist2 is the squared distance over the dimensions a knows, rescaled to
// the full dimensionality.
func partialDist2(a Point, c []float64) float64 {
	var sum float64
	known := 0
	for d, v := range a.Values {
		if !a.Known[d] {
			continue
		}
		diff := v - c[d]
		sum += diff * diff
		known++
	}
	if known == 0 {
		return 0
	}
	return sum * float64(len(a.Values)) / float64(known)
}

// pointDist is the partial Euclidean distance over dimensions both points know.
func pointDist(a, b Point) float64 {
	var sum float64
	known := 0
	for d := range a.Values {
		if !a.Known[d] || !b.Known[d] {
			continue
		}
		diff := a.Values[d] - b.Values[d]
		sum += diff * diff
		known++
	}
	if known == 0 {
		return 0
	}
	return math.Sqrt(sum * float64(len(a.Values)) / float64(known))
}

func nearest(p Point, centroids [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for j, c := range centroids {
		if d := partialDist2(p, c); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best, bestDist
}

// seedPlusPlus picks k initial centroids with k-means++ weighting.
func seedPlusPlus(points []Point, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, asCentroid(points[rng.IntN(len(points))]))

	weights := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			_, d := nearest(p, centroids)
			weights[i] = d
			total += d
		}
		if total == 0 {
			centroids = append(centroids, asCentroid(points[rng.IntN(len(points))]))
			continue
		}
		target := rng.Float64() * total
		pick := len(points) - 1
		for i, w := range weights {
			target -= w
			if target < 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, asCentroid(points[pick]))
	}
	return centroids
}

// asCentroid fills unknown dimensions with the normalized mean.
func asCentroid(p Point) []float64 {
	c := make([]float64, len(p.Values))
	for d, v := range p.Values {
		if p.Known[d] {
			c[d] = v
		}
	}
	return c
}

func lloyd(points []Point, centroids [][]float64) ([]int, float64) {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}
	dims := len(points[0].Values)

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			j, _ := nearest(p, centroids)
			if labels[i] != j {
				labels[i] = j
				changed = true
			}
		}
		if !changed {
			break
		}

		for j := range centroids {
			sums := make([]float64, dims)
			counts := make([]int, dims)
			for i, p := range points {
				if labels[i] != j {
					continue
				}
				for d, v := range p.Values {
					if p.Known[d] {
						sums[d] += v
						counts[d]++
					}
				}
			}
			for d := range sums {
				// Empty clusters and all-unknown dimensions keep the prior value.
				if counts[d] > 0 {
					centroids[j][d] = sums[d] / float64(counts[d])
				}
			}
		}
	}

	var inertia float64
	for i, p := range points {
		inertia += partialDist2(p, centroids[labels[i]])
	}
	return labels, inertia
}

// KMeans runs restarts seeded passes and keeps the lowest inertia. The same
// points, k and seed always produce the same model.
func KMeans(points []Point, k, restarts int, seed uint64) *Model {
	if restarts < 1 {
		restarts = 1
	}
	var best *Model
	for r := 0; r < restarts; r++ {
		rng := rand.New(rand.NewPCG(seed, uint64(r)))
		centroids := seedPlusPlus(points, k, rng)
		labels, inertia := lloyd(points, centroids)
		if best == nil || inertia < best.Inertia {
			best = &Model{K: k, Centroids: centroids, Labels: labels, Inertia: inertia}
		}
	}
	best.Silhouette = Silhouette(points, best.Labels, k)
	return best
}

// Silhouette is the mean silhouette coefficient; singleton clusters score 0.
func Silhouette(points []Point, labels []int, k int) float64 {
	if len(points) < 2 {
		return 0
	}
	var total float64
	for i, p := range points {
		sums := make([]float64, k)
		counts := make([]int, k)
		for j, q := range points {
			if i == j {
				continue
			}
			sums[labels[j]] += pointDist(p, q)
			counts[labels[j]]++
		}

		own := labels[i]
		if counts[own] == 0 {
			continue
		}
		a := sums[own] / float64(counts[own])
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			b = math.Min(b, sums[c]/float64(counts[c]))
		}
		if math.IsInf(b, 1) {
			continue
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(len(points))
}

// Fit clusters points with a fixed k, or with the k in [2, maxK] that has the
// highest silhouette when k is 0. k never exceeds len(points)-1.
func Fit(points []Point, k, maxK, restarts int, seed uint64) *Model {
	limit := len(points) - 1
	if k > 0 {
		return KMeans(points, min(k, limit), restarts, seed)
	}

	best := KMeans(points, min(2, limit), restarts, seed)
	for c := 3; c <= min(maxK, limit); c++ {
		if m := KMeans(points, c, restarts, seed); m.Silhouette > best.Silhouette {
			best = m
		}
	}
	return best
}

// Confidence is the inverse-distance membership of p in centroid own, 1 when p
// sits on it.
func Confidence(p Point, centroids [][]float64, own int) float64 {
	dOwn := math.Sqrt(partialDist2(p, centroids[own]))
	if dOwn == 0 {
		return 1
	}
	var sum float64
	for _, c := range centroids {
		sum += 1 / math.Sqrt(partialDist2(p, c))
	}
	return math.Round((1/dOwn)/sum*1000) / 1000
}
