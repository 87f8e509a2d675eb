package runner_test

import (
	"errors"
	"fmt"
	"testing"
	"time"
	"unsafe"

	"github.com/notargets/vecbench/backends/host"
	"github.com/notargets/vecbench/kernel"
	"github.com/notargets/vecbench/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Section 1: Creation and Compilation
// ============================================================================

func newHostRunner(t testing.TB) *runner.Runner {
	t.Helper()
	device := host.New(host.Config{Workers: 4, Width: 64})
	kr := runner.NewRunner(device, runner.Config{})
	t.Cleanup(func() {
		kr.Free()
		device.Free()
	})
	return kr
}

func alignedCopy(values []float32) []float32 {
	v := runner.AlignedFloat32s(len(values))
	copy(v, values)
	return v
}

func TestNewRunner(t *testing.T) {
	t.Run("NilBackend", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected panic for nil backend")
			}
		}()
		runner.NewRunner(nil, runner.Config{})
	})

	t.Run("PreferredWidth", func(t *testing.T) {
		kr := newHostRunner(t)
		assert.Equal(t, 64, kr.Width())
	})

	t.Run("WidthOverride", func(t *testing.T) {
		device := host.New(host.Config{})
		kr := runner.NewRunner(device, runner.Config{Width: 32})
		defer kr.Free()
		assert.Equal(t, 32, kr.Width())
	})
}

func TestCompile(t *testing.T) {
	kr := newHostRunner(t)

	k, err := kr.Compile(kernel.SimpleAddition)
	require.NoError(t, err)
	assert.Equal(t, kernel.SimpleAddition, k.Name())
	assert.Equal(t, 64, k.ExecutionWidth())

	again, err := kr.Compile(kernel.SimpleAddition)
	require.NoError(t, err)
	assert.Same(t, k, again, "programs are built once")

	_, err = kr.Compile("missing")
	assert.ErrorIs(t, err, kernel.ErrNotFound)

	assert.Panics(t, func() { kr.MustCompile("missing") })
}

// ============================================================================
// Section 2: Buffers
// ============================================================================

func TestAlignedFloat32s(t *testing.T) {
	for _, n := range []int{1, 3, 1024, 100000} {
		v := runner.AlignedFloat32s(n)
		require.Len(t, v, n)
		assert.Equal(t, n, cap(v), "appending must not silently move the buffer")
		assert.True(t, runner.IsAligned(v, runner.PageSize))
		assert.Zero(t, uintptr(unsafe.Pointer(&v[0]))%uintptr(runner.PageSize))
	}
	assert.Nil(t, runner.AlignedFloat32s(0))
}

func TestWrapZeroCopy(t *testing.T) {
	kr := newHostRunner(t)

	t.Run("Empty", func(t *testing.T) {
		_, err := kr.WrapZeroCopy(nil)
		assert.ErrorIs(t, err, runner.ErrEmptyBuffer)
		_, err = kr.Upload([]float32{})
		assert.ErrorIs(t, err, runner.ErrEmptyBuffer)
	})

	t.Run("Unaligned", func(t *testing.T) {
		v := runner.AlignedFloat32s(16)
		_, err := kr.WrapZeroCopy(v[1:])
		assert.ErrorIs(t, err, runner.ErrUnaligned)
		assert.Panics(t, func() { kr.MustWrapZeroCopy(v[1:]) })
	})

	t.Run("Aligned", func(t *testing.T) {
		v := alignedCopy([]float32{1, 2, 3, 4})
		buf, err := kr.WrapZeroCopy(v)
		require.NoError(t, err)
		defer buf.Free()

		assert.True(t, buf.NoCopy())
		assert.Equal(t, int64(16), buf.Length())
		assert.Equal(t, 4, buf.Count())

		got, err := buf.Float32s()
		require.NoError(t, err)
		assert.Equal(t, unsafe.SliceData(v), unsafe.SliceData(got), "zero-copy buffer aliases host memory")
	})

	t.Run("Unsupported", func(t *testing.T) {
		kr := runner.NewRunner(noAliasBackend{host.New(host.Config{})}, runner.Config{})
		defer kr.Free()
		_, err := kr.WrapZeroCopy(runner.AlignedFloat32s(8))
		assert.ErrorIs(t, err, runner.ErrZeroCopyUnsupported)
	})
}

func TestAllocate(t *testing.T) {
	kr := newHostRunner(t)

	for _, bytes := range []int64{0, -4, 6} {
		_, err := kr.Allocate(bytes)
		if !errors.Is(err, runner.ErrStride) {
			t.Errorf("Allocate(%d): expected ErrStride, got %v", bytes, err)
		}
	}

	buf, err := kr.Allocate(runner.ByteLength(10))
	require.NoError(t, err)
	defer buf.Free()
	assert.False(t, buf.NoCopy())
	assert.Equal(t, 10, buf.Count())
}

func TestUploadIsACopy(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)

	a := []float32{1, 2, 3, 4}
	b := []float32{-1, 0, 1, 2}
	aBuf, err := kr.Upload(a)
	require.NoError(t, err)
	bBuf, err := kr.Upload(b)
	require.NoError(t, err)
	assert.False(t, aBuf.NoCopy())

	a[0] = 100
	out, err := kr.Dispatch(k, aBuf, bBuf)
	require.NoError(t, err)
	got, err := out.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 4, 6}, got, "later host writes are not seen")
}

// ============================================================================
// Section 3: Dispatch
// ============================================================================

func TestDispatch_EndToEnd(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)

	aBuf := kr.MustWrapZeroCopy(alignedCopy([]float32{1, 2, 3, 4}))
	bBuf := kr.MustWrapZeroCopy(alignedCopy([]float32{-1, 0, 1, 2}))

	out, err := kr.Dispatch(k, aBuf, bBuf)
	require.NoError(t, err)
	defer out.Free()

	assert.Equal(t, aBuf.Count(), out.Count())
	got, err := out.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 4, 6}, got)
}

func TestDispatch_ReusableMatchesOneShot(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)

	for _, n := range []int{1, 63, 64, 65, 1000, 40000} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			a := runner.AlignedFloat32s(n)
			b := runner.AlignedFloat32s(n)
			for i := range a {
				a[i] = float32(i) * 0.5
				b[i] = float32(n - i)
			}
			aBuf := kr.MustWrapZeroCopy(a)
			bBuf := kr.MustWrapZeroCopy(b)

			oneShot, err := kr.Dispatch(k, aBuf, bBuf)
			require.NoError(t, err)
			defer oneShot.Free()

			outBuf, err := kr.Allocate(aBuf.Length())
			require.NoError(t, err)
			defer outBuf.Free()
			cb := kr.NewCommandBuffer()
			for i := 0; i < 3; i++ {
				ret, err := kr.DispatchInto(k, aBuf, bBuf, outBuf, cb)
				require.NoError(t, err)
				assert.Same(t, outBuf, ret)
			}
			assert.Equal(t, 3, cb.Len())
			require.NoError(t, cb.Commit())
			require.NoError(t, cb.Wait())

			want, _ := oneShot.Float32s()
			got, _ := outBuf.Float32s()
			require.Len(t, got, n)
			assert.Equal(t, want, got)
			for i := range got {
				if got[i] != a[i]+b[i] {
					t.Fatalf("element %d: got %v, want %v", i, got[i], a[i]+b[i])
				}
			}
		})
	}
}

func TestDispatch_ZeroCopyObservesHostWrites(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)

	a := alignedCopy([]float32{1, 2, 3, 4})
	b := alignedCopy([]float32{1, 1, 1, 1})
	aBuf := kr.MustWrapZeroCopy(a)
	bBuf := kr.MustWrapZeroCopy(b)

	first, err := kr.Dispatch(k, aBuf, bBuf)
	require.NoError(t, err)
	got, _ := first.Float32s()
	assert.Equal(t, []float32{2, 3, 4, 5}, got)

	a[2] = 10
	second, err := kr.Dispatch(k, aBuf, bBuf)
	require.NoError(t, err)
	got, _ = second.Float32s()
	assert.Equal(t, []float32{2, 3, 11, 5}, got)
}

func TestDispatch_EncodingOrder(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)

	const n = 20000
	ones := runner.AlignedFloat32s(n)
	twos := runner.AlignedFloat32s(n)
	for i := range ones {
		ones[i], twos[i] = 1, 2
	}
	onesBuf := kr.MustWrapZeroCopy(ones)
	twosBuf := kr.MustWrapZeroCopy(twos)
	outBuf, err := kr.Allocate(onesBuf.Length())
	require.NoError(t, err)

	cb := kr.NewCommandBuffer()
	_, err = kr.DispatchInto(k, onesBuf, onesBuf, outBuf, cb)
	require.NoError(t, err)
	_, err = kr.DispatchInto(k, twosBuf, twosBuf, outBuf, cb)
	require.NoError(t, err)
	require.NoError(t, cb.Commit())
	require.NoError(t, cb.Wait())

	got, _ := outBuf.Float32s()
	for i, v := range got {
		if v != 4 {
			t.Fatalf("element %d = %v: the last encoded dispatch must win", i, v)
		}
	}
}

func TestDispatch_LaunchGeometry(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)
	buf, err := kr.Allocate(runner.ByteLength(1000))
	require.NoError(t, err)

	grid, group := runner.LaunchGeometry(k, buf)
	assert.Equal(t, runner.Size{Width: 1000, Height: 1, Depth: 1}, grid)
	assert.Equal(t, runner.Size{Width: 64, Height: 1, Depth: 1}, group)
	assert.Equal(t, 1000, grid.Count())
}

// ============================================================================
// Section 4: Command buffer lifecycle
// ============================================================================

func TestCommandBuffer_Lifecycle(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)
	aBuf := kr.MustWrapZeroCopy(alignedCopy([]float32{1, 2}))
	outBuf, err := kr.Allocate(aBuf.Length())
	require.NoError(t, err)

	cb := kr.NewCommandBuffer()
	assert.Equal(t, runner.StatusEncoding, cb.Status())
	assert.ErrorIs(t, cb.Wait(), runner.ErrNotCommitted)

	_, err = kr.DispatchInto(k, aBuf, aBuf, outBuf, cb)
	require.NoError(t, err)
	require.NoError(t, cb.Commit())

	assert.ErrorIs(t, cb.Commit(), runner.ErrCommitted)
	_, err = kr.DispatchInto(k, aBuf, aBuf, outBuf, cb)
	assert.ErrorIs(t, err, runner.ErrCommitted)
	assert.ErrorIs(t, cb.AddCompletedHandler(func(*runner.CommandBuffer) {}), runner.ErrCommitted)

	require.NoError(t, cb.Wait())
	assert.Equal(t, runner.StatusCompleted, cb.Status())
	assert.Equal(t, "completed", cb.Status().String())

	timings := cb.Timings()
	assert.GreaterOrEqual(t, timings.GPUTime(), time.Duration(0))
	assert.GreaterOrEqual(t, timings.TotalTime(), timings.GPUTime())
}

func TestCommandBuffer_CompletedHandler(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)
	aBuf := kr.MustWrapZeroCopy(alignedCopy([]float32{1, 2, 3}))
	outBuf, err := kr.Allocate(aBuf.Length())
	require.NoError(t, err)

	cb := kr.NewCommandBuffer()
	_, err = kr.DispatchInto(k, aBuf, aBuf, outBuf, cb)
	require.NoError(t, err)

	calls := make(chan runner.Status, 2)
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.AddCompletedHandler(func(c *runner.CommandBuffer) {
			calls <- c.Status()
		}))
	}
	require.NoError(t, cb.Commit())
	require.NoError(t, cb.Wait())

	assert.Equal(t, runner.StatusCompleted, <-calls)
	assert.Equal(t, runner.StatusCompleted, <-calls)
	got, _ := outBuf.Float32s()
	assert.Equal(t, []float32{2, 4, 6}, got)
}

func TestCommandBuffer_ExecutionError(t *testing.T) {
	kr := newHostRunner(t)
	k := kr.MustCompile(kernel.SimpleAddition)
	left := kr.MustWrapZeroCopy(alignedCopy([]float32{1, 2, 3, 4}))
	short, err := kr.Allocate(runner.ByteLength(2))
	require.NoError(t, err)

	cb := kr.NewCommandBuffer()
	_, err = kr.DispatchInto(k, left, left, short, cb)
	require.NoError(t, err, "length mismatches surface at execution")
	require.NoError(t, cb.Commit())

	err = cb.Wait()
	assert.Error(t, err)
	assert.Equal(t, runner.StatusError, cb.Status())
	assert.Equal(t, err, cb.Err())
}

func TestCommandBuffer_QueueClosed(t *testing.T) {
	device := host.New(host.Config{})
	kr := runner.NewRunner(device, runner.Config{})
	cb := kr.NewCommandBuffer()
	kr.Free()
	kr.Free()

	assert.ErrorIs(t, cb.Commit(), runner.ErrQueueClosed)
	assert.ErrorIs(t, cb.Wait(), runner.ErrQueueClosed)
	assert.Equal(t, runner.StatusError, cb.Status())
}

// noAliasBackend hides the host backend's ability to wrap host memory
type noAliasBackend struct {
	*host.Device
}

func (noAliasBackend) HostAlignment() int { return 0 }

func (noAliasBackend) WrapHost([]float32) (runner.Memory, error) {
	return nil, runner.ErrZeroCopyUnsupported
}
