package vecindex

import "math"

// Normalize scales v to unit length in place. Zero vectors are left as-is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}

	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// dot computes the inner product of two equal-length vectors
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// similarity maps two stored vectors to a score in [0,1].
// Cosine-metric vectors are normalized on insert, so the inner product is
// the cosine; negative values clamp to 0 so callers never see scores
// outside the band thresholds.
func (idx *Index) similarity(a, b []float32) float64 {
	s := dot(a, b)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// distance is the traversal weight stored on edges: 1 - similarity
func (idx *Index) distance(a, b []float32) float32 {
	return float32(1 - idx.similarity(a, b))
}
