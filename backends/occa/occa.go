// Package occa runs kernels through OCCA, which JIT-compiles OKL source for
// Serial, OpenMP, CUDA, HIP, OpenCL or Metal devices.
package occa

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
	"github.com/notargets/vecbench/kernel"
	"github.com/notargets/vecbench/runner"
)

// ErrUnavailable is returned when no OCCA device could be created
var ErrUnavailable = errors.New("occa: no device available")

// Config holds configuration for creating a Device
type Config struct {
	// Mode selects the OCCA backend ("Serial", "OpenMP", "CUDA", "OpenCL").
	// Empty tries OpenMP, then CUDA, then Serial.
	Mode       string
	DeviceID   int
	PlatformID int
	// Width overrides the per-mode preferred work-group width
	Width int
}

// preferred @inner tile widths per mode
var preferredWidths = map[string]int{
	"CUDA":   128,
	"HIP":    64,
	"OpenCL": 64,
	"Metal":  32,
}

const defaultWidth = 256

// Device is the OCCA backend
type Device struct {
	device *gocca.OCCADevice
	width  int
	owned  bool
}

var _ runner.Backend = (*Device)(nil)

// DeviceProperties returns the OCCA JSON device properties for cfg
func DeviceProperties(cfg Config) []string {
	switch cfg.Mode {
	case "":
		return []string{
			`{"mode": "OpenMP"}`,
			fmt.Sprintf(`{"mode": "CUDA", "device_id": %d}`, cfg.DeviceID),
			`{"mode": "Serial"}`,
		}
	case "Serial", "OpenMP":
		return []string{fmt.Sprintf(`{"mode": "%s"}`, cfg.Mode)}
	case "OpenCL":
		return []string{fmt.Sprintf(`{"mode": "OpenCL", "platform_id": %d, "device_id": %d}`,
			cfg.PlatformID, cfg.DeviceID)}
	default:
		return []string{fmt.Sprintf(`{"mode": "%s", "device_id": %d}`, cfg.Mode, cfg.DeviceID)}
	}
}

// New creates an OCCA device, trying each candidate mode in turn
func New(cfg Config) (*Device, error) {
	var lastErr error
	for _, props := range DeviceProperties(cfg) {
		device, err := gocca.NewDevice(props)
		if err == nil {
			d := Wrap(device, cfg.Width)
			d.owned = true
			return d, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// Wrap adapts an existing OCCA device. The caller keeps ownership and frees
// the device itself.
func Wrap(device *gocca.OCCADevice, width int) *Device {
	if device == nil {
		panic("device cannot be nil")
	}
	if width <= 0 {
		width = defaultWidth
		if w, ok := preferredWidths[device.Mode()]; ok {
			width = w
		}
	}
	return &Device{device: device, width: width}
}

// OCCA returns the underlying OCCA device. A caller that frees it itself
// must not also call Free on d.
func (d *Device) OCCA() *gocca.OCCADevice {
	return d.device
}

func (d *Device) Mode() string {
	return "OCCA " + d.device.Mode()
}

func (d *Device) PreferredWidth() int { return d.width }

// HostAlignment is a page: host-pointer memory is registered page-wise on
// the GPU modes, and Serial/OpenMP accept anything page aligned.
func (d *Device) HostAlignment() int { return runner.PageSize }

// BuildProgram compiles the OKL source of a library program
func (d *Device) BuildProgram(name string, width int) (runner.Program, error) {
	source, err := kernel.Source(name, kernel.OKL, width)
	if err != nil {
		return nil, err
	}

	var k *gocca.OCCAKernel
	if d.device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		k, err = d.device.BuildKernelFromString(source, name, props)
	} else {
		k, err = d.device.BuildKernelFromString(source, name, nil)
	}
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", name)
	}
	return &program{kernel: k, name: name, width: width}, nil
}

// WrapHost allocates device memory over the host pointer itself
func (d *Device) WrapHost(host []float32) (runner.Memory, error) {
	bytes := runner.ByteLength(len(host))
	props := gocca.JsonParse(`{"use_host_pointer": true}`)
	defer props.Free()
	mem := d.device.Malloc(bytes, unsafe.Pointer(&host[0]), props)
	if mem == nil {
		return nil, fmt.Errorf("occa: malloc of %d host-pointer bytes failed", bytes)
	}
	return &memory{mem: mem, bytes: bytes, host: host}, nil
}

// Upload allocates device memory initialized from host
func (d *Device) Upload(host []float32) (runner.Memory, error) {
	bytes := runner.ByteLength(len(host))
	mem := d.device.Malloc(bytes, unsafe.Pointer(&host[0]), nil)
	if mem == nil {
		return nil, fmt.Errorf("occa: malloc of %d bytes failed", bytes)
	}
	return &memory{mem: mem, bytes: bytes}, nil
}

// Malloc allocates device memory with a host shadow for read-back
func (d *Device) Malloc(bytes int64) (runner.Memory, error) {
	mem := d.device.Malloc(bytes, nil, nil)
	if mem == nil {
		return nil, fmt.Errorf("occa: malloc of %d bytes failed", bytes)
	}
	return &memory{mem: mem, bytes: bytes}, nil
}

func (d *Device) Finish() error {
	d.device.Finish()
	return nil
}

// Free releases the device if New created it
func (d *Device) Free() {
	if d.owned {
		d.device.Free()
	}
}

type memory struct {
	mem    *gocca.OCCAMemory
	bytes  int64
	host   []float32 // aliased host slice for use_host_pointer memory
	shadow []float32
}

func (m *memory) Bytes() int64 { return m.bytes }

func (m *memory) Shared() bool { return m.host != nil }

func (m *memory) Float32s() ([]float32, error) {
	if m.host != nil {
		return m.host, nil
	}
	if m.shadow == nil {
		m.shadow = make([]float32, runner.ElementCount(m.bytes))
	}
	m.mem.CopyTo(unsafe.Pointer(&m.shadow[0]), m.bytes)
	return m.shadow, nil
}

func (m *memory) Free() {
	m.mem.Free()
}

type program struct {
	kernel *gocca.OCCAKernel
	name   string
	width  int
}

func (p *program) Name() string { return p.name }

func (p *program) ExecutionWidth() int { return p.width }

func (p *program) Free() { p.kernel.Free() }

// Launch runs the kernel over grid. The group width was fixed at build time
// by the @tile size, so group must match ExecutionWidth.
func (p *program) Launch(grid, group runner.Size, buffers ...runner.Memory) error {
	if len(buffers) != 3 {
		return fmt.Errorf("%s expects 3 buffers, got %d", p.name, len(buffers))
	}
	if group.Count() != p.width {
		return fmt.Errorf("%s was built for groups of %d, got %d", p.name, p.width, group.Count())
	}
	args := []interface{}{int32(grid.Count())}
	for i, b := range buffers {
		m, ok := b.(*memory)
		if !ok {
			return fmt.Errorf("buffer %d was not allocated by the OCCA backend", i)
		}
		args = append(args, m.mem)
	}
	if err := p.kernel.RunWithArgs(args...); err != nil {
		return fmt.Errorf("kernel execution failed: %w", err)
	}
	return nil
}
