package runner

// Size is a three-dimensional launch extent, in work-items
type Size struct {
	Width, Height, Depth int
}

// Count returns the number of work-items covered by the extent
func (s Size) Count() int {
	return s.Width * s.Height * s.Depth
}

// Backend is the device contract a Runner drives. Implementations live under
// backends/ and wrap one accelerator runtime each.
type Backend interface {
	// Mode names the runtime and device, e.g. "OCCA Serial" or "WebGPU (...)"
	Mode() string
	// PreferredWidth is the default work-group width for compiled programs
	PreferredWidth() int
	// HostAlignment is the byte alignment host memory needs to be aliased
	// by WrapHost. Zero means host memory cannot be aliased at all.
	HostAlignment() int
	// BuildProgram compiles a named program from the kernel library
	BuildProgram(name string, width int) (Program, error)
	// WrapHost returns device memory that addresses host directly
	WrapHost(host []float32) (Memory, error)
	// Upload allocates device memory holding a copy of host
	Upload(host []float32) (Memory, error)
	// Malloc allocates device-visible, host-readable memory
	Malloc(bytes int64) (Memory, error)
	// Finish blocks until all launched work has completed
	Finish() error
	Free()
}

// Program is a compiled kernel bound to a backend
type Program interface {
	Name() string
	// ExecutionWidth is the work-group width the program was compiled for
	ExecutionWidth() int
	// Launch enqueues one invocation over grid, buffers bound in slot order.
	// It may return before the device has finished.
	Launch(grid, group Size, buffers ...Memory) error
	Free()
}

// Memory is a device memory region
type Memory interface {
	Bytes() int64
	// Shared reports whether the region aliases host memory
	Shared() bool
	// Float32s returns the host-visible contents. Callers must Finish the
	// device before reading memory a kernel wrote.
	Float32s() ([]float32, error)
	Free()
}
