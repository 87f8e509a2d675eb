package runner

import (
	"fmt"
)

// Config holds configuration for creating a Runner
type Config struct {
	// Width overrides the backend's preferred work-group width when > 0
	Width int
}

// CompiledKernel is a program compiled once at startup. It is immutable and
// shared read-only by every dispatch.
type CompiledKernel struct {
	program Program
}

// Name returns the library name of the program
func (k *CompiledKernel) Name() string {
	return k.program.Name()
}

// ExecutionWidth is the preferred number of lanes per work-group
func (k *CompiledKernel) ExecutionWidth() int {
	return k.program.ExecutionWidth()
}

// Runner is the accelerator context: one backend, its command queue and the
// kernels compiled for it. It is built once, single-threaded, and read-only
// afterwards; submissions from more than one goroutine are not supported.
type Runner struct {
	Backend Backend
	Kernels map[string]*CompiledKernel
	width   int
	queue   *commandQueue
}

// NewRunner creates a new Runner instance
func NewRunner(backend Backend, cfg Config) (kr *Runner) {
	if backend == nil {
		panic("backend cannot be nil")
	}
	width := cfg.Width
	if width <= 0 {
		width = backend.PreferredWidth()
	}
	if width <= 0 {
		panic(fmt.Sprintf("backend %s reported an invalid preferred width %d", backend.Mode(), width))
	}

	kr = &Runner{
		Backend: backend,
		Kernels: make(map[string]*CompiledKernel),
		width:   width,
	}
	kr.queue = newCommandQueue(backend)
	return
}

// Width returns the work-group width programs are compiled for
func (kr *Runner) Width() int {
	return kr.width
}

// Compile builds a named program exactly once; later calls return the same
// CompiledKernel.
func (kr *Runner) Compile(name string) (*CompiledKernel, error) {
	if k, exists := kr.Kernels[name]; exists {
		return k, nil
	}
	program, err := kr.Backend.BuildProgram(name, kr.width)
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", name, err)
	}
	if program == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", name)
	}
	k := &CompiledKernel{program: program}
	kr.Kernels[name] = k
	return k, nil
}

// MustCompile is Compile for startup code: a missing program or a failed
// pipeline build leaves nothing to benchmark, so it panics.
func (kr *Runner) MustCompile(name string) *CompiledKernel {
	k, err := kr.Compile(name)
	if err != nil {
		panic(err)
	}
	return k
}

// Free releases all resources. Buffers created by the Runner must not be
// used afterwards.
func (kr *Runner) Free() {
	kr.queue.close()
	for _, k := range kr.Kernels {
		k.program.Free()
	}
	kr.Kernels = make(map[string]*CompiledKernel)
}
