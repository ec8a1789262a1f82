package embedding_test

import (
	"math"
	"testing"

	"github.com/wardlea/diarist/pkg/embedding"
)

const eps = 1e-5

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func vecApproxEqual(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !approxEqual(float64(a[i]), float64(b[i]), tol) {
			return false
		}
	}
	return true
}

func TestCosine_SelfSimilarity(t *testing.T) {
	t.Parallel()

	vectors := [][]float32{
		{1, 0, 0},
		{0.6, 0.8, 0},
		{0.1, -0.3, 0.7, 2.2},
	}
	for _, v := range vectors {
		if got := embedding.Cosine(v, v); !approxEqual(got, 1, eps) {
			t.Errorf("Cosine(v, v)=%v, want ≈1 for %v", got, v)
		}
	}
}

func TestCosine_Range(t *testing.T) {
	t.Parallel()

	a := []float32{1, 0, 0}
	cases := []struct {
		name string
		b    []float32
		want float64
	}{
		{"orthogonal", []float32{0, 1, 0}, 0},
		{"opposite", []float32{-1, 0, 0}, -1},
		{"same direction scaled", []float32{5, 0, 0}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := embedding.Cosine(a, tc.b)
			if !approxEqual(got, tc.want, eps) {
				t.Errorf("Cosine=%v, want %v", got, tc.want)
			}
			if got < -1-eps || got > 1+eps {
				t.Errorf("Cosine=%v out of [-1, 1]", got)
			}
		})
	}
}

func TestCosine_DegenerateInputs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
	}{
		{"nil a", nil, []float32{1, 0}},
		{"nil both", nil, nil},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := embedding.Cosine(tc.a, tc.b); got != 0 {
				t.Errorf("Cosine=%v, want 0", got)
			}
		})
	}
}

func TestNormalize_UnitLength(t *testing.T) {
	t.Parallel()

	v := []float32{3, 4, 0}
	u := embedding.Normalize(v)
	if got := embedding.Norm(u); !approxEqual(got, 1, eps) {
		t.Errorf("Norm(Normalize(v))=%v, want ≈1", got)
	}
	// Input must not be mutated.
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("Normalize mutated its input: %v", v)
	}
	// Zero vector has no direction; stays zero.
	z := embedding.Normalize([]float32{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("Normalize(zero)=%v, want zero", z)
	}
}

func TestFold_MovesMeanTowardSample(t *testing.T) {
	t.Parallel()

	mean := []float32{1, 0}
	e := []float32{0, 1}

	got := embedding.Fold(mean, e, 1)
	want := []float32{0.5, 0.5}
	if !vecApproxEqual(got, want, eps) {
		t.Errorf("Fold=%v, want %v", got, want)
	}
}

func TestFold_InvalidInputs(t *testing.T) {
	t.Parallel()

	if got := embedding.Fold([]float32{1, 0}, []float32{1}, 1); got != nil {
		t.Errorf("Fold with dimension mismatch=%v, want nil", got)
	}
	if got := embedding.Fold([]float32{1, 0}, []float32{0, 1}, 0); got != nil {
		t.Errorf("Fold with n=0 returned %v, want nil", got)
	}
	if got := embedding.Fold(nil, nil, 1); got != nil {
		t.Errorf("Fold(nil)=%v, want nil", got)
	}
}

func TestUnfold_InvalidInputs(t *testing.T) {
	t.Parallel()

	if got := embedding.Unfold([]float32{1, 0}, []float32{0, 1}, 1); got != nil {
		t.Errorf("Unfold with n=1 returned %v, want nil (founding sample)", got)
	}
	if got := embedding.Unfold([]float32{1, 0}, []float32{1}, 2); got != nil {
		t.Errorf("Unfold with dimension mismatch=%v, want nil", got)
	}
}

// Unfold must be the exact algebraic inverse of Fold: removing a sample and
// re-adding it restores the prior mean within floating tolerance.
func TestFoldUnfold_RoundTrip(t *testing.T) {
	t.Parallel()

	mean := []float32{0.2, 0.5, -0.1, 0.8}
	samples := [][]float32{
		{0.9, 0.1, 0, 0.2},
		{-0.3, 0.7, 0.4, 0.1},
		{0.5, -0.5, 0.5, -0.5},
	}

	n := 1
	for _, e := range samples {
		mean = embedding.Fold(mean, e, n)
		n++
	}

	// Remove the last sample, then re-add it.
	last := samples[len(samples)-1]
	removed := embedding.Unfold(mean, last, n)
	if removed == nil {
		t.Fatal("Unfold returned nil for a valid removal")
	}
	restored := embedding.Fold(removed, last, n-1)

	if !vecApproxEqual(restored, mean, 1e-4) {
		t.Errorf("round trip mean=%v, want %v", restored, mean)
	}
}

func TestClone(t *testing.T) {
	t.Parallel()

	if embedding.Clone(nil) != nil {
		t.Error("Clone(nil) != nil")
	}

	v := []float32{1, 2, 3}
	c := embedding.Clone(v)
	c[0] = 9
	if v[0] != 1 {
		t.Error("Clone shares backing array with input")
	}
}
