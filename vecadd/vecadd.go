// Package vecadd holds the CPU vector-add implementations the benchmark
// compares against the accelerator: a naive scalar loop and two variants
// built on gonum's vectorized BLAS level 1 routines.
package vecadd

import (
	"unsafe"

	"gonum.org/v1/gonum/blas/blas32"
)

// Naive adds pairwise by index with a plain loop. It is the reference result.
func Naive(a, b []float32) []float32 {
	c := make([]float32, len(a))
	for i := range a {
		c[i] = a[i] + b[i]
	}
	return c
}

// Array returns a + b as a new slice using blas32 Copy and Axpy.
func Array(a, b []float32) []float32 {
	c := make([]float32, len(a))
	AddInto(c, a, b)
	return c
}

// AddInto writes a + b into dst. All three must have the same length.
func AddInto(dst, a, b []float32) {
	n := len(dst)
	if n == 0 {
		return
	}
	out := blas32.Vector{N: n, Data: dst, Inc: 1}
	blas32.Copy(blas32.Vector{N: n, Data: a, Inc: 1}, out)
	blas32.Axpy(1, blas32.Vector{N: n, Data: b, Inc: 1}, out)
}

// View is a non-owning window over float32 memory owned by someone else,
// typically a host slice. It must not outlive that memory.
type View struct {
	ptr *float32
	n   int
}

// ViewOf returns a View over the backing array of s without copying
func ViewOf(s []float32) View {
	return View{ptr: unsafe.SliceData(s), n: len(s)}
}

// Len returns the number of elements in the view
func (v View) Len() int { return v.n }

// Slice exposes the viewed memory as a slice aliasing the same elements
func (v View) Slice() []float32 {
	if v.ptr == nil {
		return nil
	}
	return unsafe.Slice(v.ptr, v.n)
}

// AddViews adds two views into a newly allocated one. The inputs are read
// in place; only the output is allocated.
func AddViews(l, r View) View {
	out := make([]float32, l.n)
	AddInto(out, l.Slice(), r.Slice())
	return ViewOf(out)
}
