package runner

import (
	"fmt"
)

// DeviceBuffer is a device-addressable float32 region.
//
// A buffer made by WrapZeroCopy is a non-owning view over a host slice: the
// device reads and writes the host memory itself. The view is only valid
// while the slice is alive and not reallocated, and the host must not write
// to the slice while a dispatch that references the buffer is in flight.
// Buffers made by Allocate own their memory.
type DeviceBuffer struct {
	mem  Memory
	host []float32 // aliased host slice; nil for owned buffers
}

// WrapZeroCopy exposes host to the device without copying. The slice must
// be non-empty and aligned to the backend's HostAlignment (AlignedFloat32s
// satisfies any backend).
func (kr *Runner) WrapZeroCopy(host []float32) (*DeviceBuffer, error) {
	if len(host) == 0 {
		return nil, ErrEmptyBuffer
	}
	align := kr.Backend.HostAlignment()
	if align == 0 {
		return nil, fmt.Errorf("%s: %w", kr.Backend.Mode(), ErrZeroCopyUnsupported)
	}
	if !IsAligned(host, align) {
		return nil, fmt.Errorf("%w: need %d-byte alignment on %s", ErrUnaligned, align, kr.Backend.Mode())
	}
	mem, err := kr.Backend.WrapHost(host)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap %d host elements: %w", len(host), err)
	}
	return &DeviceBuffer{mem: mem, host: host}, nil
}

// MustWrapZeroCopy is WrapZeroCopy that panics on a construction error
func (kr *Runner) MustWrapZeroCopy(host []float32) *DeviceBuffer {
	buf, err := kr.WrapZeroCopy(host)
	if err != nil {
		panic(err)
	}
	return buf
}

// Upload creates an owned device buffer holding a copy of host. Later
// writes to host are not seen by the device.
func (kr *Runner) Upload(host []float32) (*DeviceBuffer, error) {
	if len(host) == 0 {
		return nil, ErrEmptyBuffer
	}
	mem, err := kr.Backend.Upload(host)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %d host elements: %w", len(host), err)
	}
	return &DeviceBuffer{mem: mem}, nil
}

// Allocate creates a fresh device-visible, host-readable buffer of
// lengthBytes, which must be a positive multiple of StrideFloat32.
func (kr *Runner) Allocate(lengthBytes int64) (*DeviceBuffer, error) {
	if lengthBytes <= 0 || lengthBytes%StrideFloat32 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrStride, lengthBytes)
	}
	mem, err := kr.Backend.Malloc(lengthBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes: %w", lengthBytes, err)
	}
	return &DeviceBuffer{mem: mem}, nil
}

// Length returns the buffer length in bytes
func (b *DeviceBuffer) Length() int64 {
	return b.mem.Bytes()
}

// Count returns the number of float32 elements
func (b *DeviceBuffer) Count() int {
	return ElementCount(b.mem.Bytes())
}

// NoCopy reports whether the buffer aliases host memory
func (b *DeviceBuffer) NoCopy() bool {
	return b.host != nil
}

// Float32s returns the buffer contents. For a zero-copy buffer this is the
// aliased host slice itself; owned buffers are read back from the device.
// Results written by a dispatch are only visible once its command buffer
// has completed.
func (b *DeviceBuffer) Float32s() ([]float32, error) {
	if b.host != nil && b.mem.Shared() {
		return b.host, nil
	}
	return b.mem.Float32s()
}

// Free releases the device side of the buffer. The host slice of a
// zero-copy buffer is left untouched.
func (b *DeviceBuffer) Free() {
	b.mem.Free()
}
