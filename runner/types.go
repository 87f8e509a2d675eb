// runner/types.go
package runner

import (
	"errors"
	"os"
	"unsafe"
)

// StrideFloat32 is the byte stride of one element
const StrideFloat32 = int64(unsafe.Sizeof(float32(0)))

var (
	ErrCommitted           = errors.New("command buffer already committed")
	ErrNotCommitted        = errors.New("command buffer was never committed")
	ErrQueueClosed         = errors.New("command queue is closed")
	ErrUnaligned           = errors.New("host memory is not aligned for zero-copy wrapping")
	ErrStride              = errors.New("buffer length is not a positive multiple of the float32 stride")
	ErrEmptyBuffer         = errors.New("cannot wrap an empty host array")
	ErrZeroCopyUnsupported = errors.New("backend cannot alias host memory")
)

// ByteLength returns the byte length of n float32 elements
func ByteLength(n int) int64 {
	return int64(n) * StrideFloat32
}

// ElementCount derives the element count from a byte length
func ElementCount(bytes int64) int {
	return int(bytes / StrideFloat32)
}

// PageSize is the host page size used for aligned allocations
var PageSize = os.Getpagesize()

// AlignedFloat32s returns a zeroed slice of n elements whose first element
// starts on a page boundary, so it can be wrapped without a copy.
func AlignedFloat32s(n int) []float32 {
	if n <= 0 {
		return nil
	}
	pad := PageSize / int(StrideFloat32)
	raw := make([]float32, n+pad)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	off := 0
	if rem := addr % uintptr(PageSize); rem != 0 {
		off = int((uintptr(PageSize) - rem) / uintptr(StrideFloat32))
	}
	return raw[off : off+n : off+n]
}

// IsAligned reports whether host starts on an align-byte boundary
func IsAligned(host []float32, align int) bool {
	if len(host) == 0 {
		return false
	}
	if align <= 1 {
		return true
	}
	return uintptr(unsafe.Pointer(&host[0]))%uintptr(align) == 0
}
