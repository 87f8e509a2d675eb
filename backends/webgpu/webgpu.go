//go:build windows

// Package webgpu runs kernels as WGSL compute shaders through wgpu-native,
// loaded without cgo by go-webgpu.
package webgpu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/notargets/vecbench/kernel"
	"github.com/notargets/vecbench/runner"
)

const defaultWidth = 256

// Device is the WebGPU backend. WebGPU cannot alias host memory, so inputs
// are uploaded with Runner.Upload instead of wrapped.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     *wgpu.AdapterInfo
	width    int

	mu       sync.Mutex
	pending  []*wgpu.CommandBuffer
	releases []func()
}

var _ runner.Backend = (*Device)(nil)

// New creates a WebGPU device on the high-performance adapter. It returns
// ErrUnavailable if wgpu-native cannot be loaded or no adapter exists.
func New(width int) (d *Device, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = fmt.Errorf("%w: native library not available: %v", ErrUnavailable, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request adapter: %v", ErrUnavailable, err)
	}
	info := adapter.GetInfo()

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request device: %v", ErrUnavailable, err)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to get queue", ErrUnavailable)
	}

	if width <= 0 {
		width = defaultWidth
	}
	return &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		info:     &info,
		width:    width,
	}, nil
}

func (d *Device) Mode() string {
	if d.info != nil {
		return fmt.Sprintf("WebGPU (%s %s)", d.info.Name, d.info.VendorName)
	}
	return "WebGPU"
}

func (d *Device) PreferredWidth() int { return d.width }

// HostAlignment is zero: storage buffers always live in device memory
func (d *Device) HostAlignment() int { return 0 }

func (d *Device) BuildProgram(name string, width int) (runner.Program, error) {
	source, err := kernel.Source(name, kernel.WGSL, width)
	if err != nil {
		return nil, err
	}
	shader := d.device.CreateShaderModuleWGSL(source)
	if shader == nil {
		return nil, fmt.Errorf("webgpu: failed to compile %s", name)
	}
	// Create compute pipeline with auto layout (nil layout)
	pipeline := d.device.CreateComputePipelineSimple(nil, shader, "main")
	if pipeline == nil {
		shader.Release()
		return nil, fmt.Errorf("webgpu: failed to create pipeline for %s", name)
	}
	return &program{device: d, name: name, width: width, shader: shader, pipeline: pipeline}, nil
}

func (d *Device) WrapHost(host []float32) (runner.Memory, error) {
	return nil, runner.ErrZeroCopyUnsupported
}

// Upload creates a storage buffer initialized from host through a mapping
func (d *Device) Upload(host []float32) (runner.Memory, error) {
	size := uint64(runner.ByteLength(len(host)))
	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*float32)(mappedPtr), len(host))
	copy(mapped, host)
	buffer.Unmap()
	return &memory{device: d, buffer: buffer, size: size}, nil
}

func (d *Device) Malloc(bytes int64) (runner.Memory, error) {
	size := uint64(bytes)
	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	if buffer == nil {
		return nil, fmt.Errorf("webgpu: failed to allocate %d bytes", bytes)
	}
	return &memory{device: d, buffer: buffer, size: size}, nil
}

// Finish submits every encoded launch and blocks until the queue drained.
// Mapping a staging buffer that was copied after the launches only
// succeeds once they are done.
func (d *Device) Finish() error {
	d.mu.Lock()
	pending := d.pending
	releases := d.releases
	d.pending = nil
	d.releases = nil
	d.mu.Unlock()

	if len(pending) > 0 {
		d.queue.Submit(pending...)
	}
	sentinel := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:  4,
	})
	defer sentinel.Release()
	_, err := d.readBuffer(sentinel, 4)

	for _, release := range releases {
		release()
	}
	return err
}

// Free releases all WebGPU resources
func (d *Device) Free() {
	_ = d.Finish()
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// readBuffer reads data back from a GPU buffer to CPU memory.
// Uses a staging buffer since storage buffers can't be mapped directly.
func (d *Device) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	d.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mapped)
	staging.Unmap()
	return result, nil
}

func (d *Device) enqueue(cmd *wgpu.CommandBuffer, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, cmd)
	d.releases = append(d.releases, release)
}

type memory struct {
	device *Device
	buffer *wgpu.Buffer
	size   uint64
}

func (m *memory) Bytes() int64 { return int64(m.size) }

func (m *memory) Shared() bool { return false }

func (m *memory) Float32s() ([]float32, error) {
	raw, err := m.device.readBuffer(m.buffer, m.size)
	if err != nil {
		return nil, err
	}
	out := make([]float32, runner.ElementCount(int64(m.size)))
	copy(out, unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), len(out)))
	return out, nil
}

func (m *memory) Free() {
	m.buffer.Release()
}

type program struct {
	device   *Device
	name     string
	width    int
	shader   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
}

func (p *program) Name() string { return p.name }

func (p *program) ExecutionWidth() int { return p.width }

func (p *program) Free() {
	p.pipeline.Release()
	p.shader.Release()
}

// Launch encodes one compute pass. Command buffers are held until Finish
// submits them, so a batch of launches reaches the queue in one Submit.
func (p *program) Launch(grid, group runner.Size, buffers ...runner.Memory) error {
	if len(buffers) != 3 {
		return fmt.Errorf("%s expects 3 buffers, got %d", p.name, len(buffers))
	}
	mems := make([]*memory, len(buffers))
	for i, b := range buffers {
		m, ok := b.(*memory)
		if !ok {
			return fmt.Errorf("buffer %d was not allocated by the WebGPU backend", i)
		}
		mems[i] = m
	}
	numElements := grid.Count()
	size := uint64(runner.ByteLength(numElements))

	// Uniform buffer for params (size: u32), 16-byte aligned
	params := make([]byte, 16)
	//nolint:gosec // G115: grid counts are non-negative
	binary.LittleEndian.PutUint32(params[0:4], uint32(numElements))
	paramsBuffer := p.device.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             16,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := paramsBuffer.GetMappedRange(0, 16)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mappedPtr), 16), params)
	paramsBuffer.Unmap()

	layout := p.pipeline.GetBindGroupLayout(0)
	bindGroup := p.device.device.CreateBindGroupSimple(layout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(kernel.SlotLeft, mems[kernel.SlotLeft].buffer, 0, size),
		wgpu.BufferBindingEntry(kernel.SlotRight, mems[kernel.SlotRight].buffer, 0, size),
		wgpu.BufferBindingEntry(kernel.SlotOutput, mems[kernel.SlotOutput].buffer, 0, size),
		wgpu.BufferBindingEntry(3, paramsBuffer, 0, 16),
	})

	encoder := p.device.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(p.pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)

	groupWidth := group.Count()
	//nolint:gosec // G115: workgroup count is non-negative
	workgroups := uint32((numElements + groupWidth - 1) / groupWidth)
	computePass.DispatchWorkgroups(workgroups, 1, 1)
	computePass.End()

	p.device.enqueue(encoder.Finish(nil), func() {
		bindGroup.Release()
		paramsBuffer.Release()
	})
	return nil
}
