package vecadd

import "gonum.org/v1/gonum/floats/scalar"

// Tolerance bounds the accepted difference between two float32 results.
// A pair matches when it is within Abs absolutely or Rel relatively.
type Tolerance struct {
	Abs, Rel float64
}

// DefaultTolerance absorbs rounding differences between summation orders
var DefaultTolerance = Tolerance{Abs: 1e-5, Rel: 1e-5}

// Mismatch returns the index of the first element where got and want differ
// beyond tol, or -1 if they match. Slices of different length mismatch at
// the shorter length.
func Mismatch(got, want []float32, tol Tolerance) int {
	n := min(len(got), len(want))
	for i := 0; i < n; i++ {
		if !scalar.EqualWithinAbsOrRel(float64(got[i]), float64(want[i]), tol.Abs, tol.Rel) {
			return i
		}
	}
	if len(got) != len(want) {
		return n
	}
	return -1
}

// ApproxEqual reports whether got matches want within tol
func ApproxEqual(got, want []float32, tol Tolerance) bool {
	return Mismatch(got, want, tol) < 0
}
