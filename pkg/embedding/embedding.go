// Package embedding provides the unit-vector arithmetic underneath speaker
// identity resolution: cosine similarity, L2 normalization, and the
// invertible running-average fold used to maintain speaker centroids.
//
// All functions are pure — they never mutate their inputs — and accumulate in
// float64 to keep repeated fold/unfold cycles numerically stable.
package embedding

import "math"

// Cosine returns the cosine similarity of a and b in [-1, 1]. It returns 0
// when either vector is empty, zero-length in norm, or the dimensions differ,
// so callers on the decision hot path never need an error branch.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged (as a copy) since it has no direction to preserve.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Fold returns the running mean after adding sample e to a mean that
// currently summarises n samples:
//
//	m' = (m·n + e) / (n+1)
//
// The result is deliberately NOT normalized: the raw mean preserves the scale
// information that makes [Unfold] an exact algebraic inverse. Callers derive
// the public unit-length centroid with [Normalize]. Fold returns nil when the
// dimensions differ or n < 1, signalling a programming error the caller must
// treat as a no-op.
func Fold(mean, e []float32, n int) []float32 {
	if len(mean) == 0 || len(mean) != len(e) || n < 1 {
		return nil
	}
	out := make([]float32, len(mean))
	fn := float64(n)
	for i := range mean {
		out[i] = float32((float64(mean[i])*fn + float64(e[i])) / (fn + 1))
	}
	return out
}

// Unfold is the algebraic inverse of [Fold]: it removes sample e from a mean
// that currently summarises n samples:
//
//	m' = (m·n − e) / (n−1)
//
// It returns nil when the dimensions differ or n ≤ 1 — removing the founding
// sample would leave an undefined mean.
func Unfold(mean, e []float32, n int) []float32 {
	if len(mean) == 0 || len(mean) != len(e) || n <= 1 {
		return nil
	}
	out := make([]float32, len(mean))
	fn := float64(n)
	for i := range mean {
		out[i] = float32((float64(mean[i])*fn - float64(e[i])) / (fn - 1))
	}
	return out
}

// Clone returns a copy of v, or nil for a nil input.
func Clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
