// Package vector provides similarity scoring, ranking, and binary encoding for embedding vectors.
package vector

import "math"

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalize scales x in place to unit L2 norm and reports whether it could.
// A zero-magnitude vector is left unchanged.
func Normalize(x []float32) bool {
	norm := L2Norm(x)
	if norm == 0 {
		return false
	}
	inv := float32(1 / norm)
	for i := range x {
		x[i] *= inv
	}
	return true
}

// Cosine returns the cosine similarity of a and b. ok is false when the lengths
// differ, a vector is empty, or either vector has zero magnitude.
func Cosine(a, b []float32) (sim float64, ok bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	sim = dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, sim)), true
}
