// Package kernel holds the compute programs the accelerator backends compile
// at startup. Every program exists once per dialect so each backend builds the
// same operation from its own source language.
package kernel

import (
	"errors"
	"fmt"
	"strings"
)

// SimpleAddition is the elementwise binary add: out[i] = left[i] + right[i].
const SimpleAddition = "simpleAddition"

// Binding slots shared by every dialect
const (
	SlotLeft   = 0
	SlotRight  = 1
	SlotOutput = 2
)

// ErrNotFound is returned when a program name is absent from the library
var ErrNotFound = errors.New("kernel: program not found in library")

// Dialect names the source language a backend compiles
type Dialect int

const (
	OKL  Dialect = iota + 1 // OCCA kernel language
	WGSL                    // WebGPU shading language
)

func (d Dialect) String() string {
	switch d {
	case OKL:
		return "OKL"
	case WGSL:
		return "WGSL"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// Func is the body of a program for backends that execute Go code directly.
// It is called once per work-item with the global index.
type Func func(idx int, left, right, out []float32)

type program struct {
	sources map[Dialect]string
	host    Func
}

var library = map[string]program{
	SimpleAddition: {
		sources: map[Dialect]string{
			OKL:  simpleAdditionOKL,
			WGSL: simpleAdditionWGSL,
		},
		host: func(idx int, left, right, out []float32) {
			out[idx] = left[idx] + right[idx]
		},
	},
}

// OKL tiles the grid into groups of WORKGROUP_WIDTH; @tile emits the bounds check
const simpleAdditionOKL = `
@kernel void simpleAddition(
	const int N,
	const float* left,
	const float* right,
	float* out
) {
	for (int i = 0; i < N; ++i; @tile(WORKGROUP_WIDTH, @outer, @inner)) {
		out[i] = left[i] + right[i];
	}
}
`

const simpleAdditionWGSL = `
struct Params {
    size: u32,
}

@group(0) @binding(0) var<storage, read> left: array<f32>;
@group(0) @binding(1) var<storage, read> right: array<f32>;
@group(0) @binding(2) var<storage, read_write> dst: array<f32>;
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(WORKGROUP_WIDTH)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let i = id.x;
    if (i < params.size) {
        dst[i] = left[i] + right[i];
    }
}
`

// Source returns the program text for a dialect with the execution width
// baked in as the WORKGROUP_WIDTH compile-time constant.
func Source(name string, dialect Dialect, width int) (string, error) {
	p, ok := library[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	src, ok := p.sources[dialect]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s source", ErrNotFound, name, dialect)
	}
	if width <= 0 {
		return "", fmt.Errorf("kernel: execution width must be positive, got %d", width)
	}
	return Preamble(dialect, width) + src, nil
}

// Preamble generates the constant declarations prepended to a program
func Preamble(dialect Dialect, width int) string {
	var sb strings.Builder
	switch dialect {
	case OKL:
		sb.WriteString(fmt.Sprintf("#define WORKGROUP_WIDTH %d\n", width))
	case WGSL:
		sb.WriteString(fmt.Sprintf("const WORKGROUP_WIDTH: u32 = %du;\n", width))
	}
	return sb.String()
}

// HostFunc returns the Go body of a program
func HostFunc(name string) (Func, error) {
	p, ok := library[name]
	if !ok || p.host == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p.host, nil
}
