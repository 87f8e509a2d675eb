package kernel

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource(t *testing.T) {
	t.Run("OKL", func(t *testing.T) {
		src, err := Source(SimpleAddition, OKL, 128)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(src, "#define WORKGROUP_WIDTH 128\n"))
		assert.Contains(t, src, "@kernel void simpleAddition(")
		assert.Contains(t, src, "@tile(WORKGROUP_WIDTH, @outer, @inner)")
	})

	t.Run("WGSL", func(t *testing.T) {
		src, err := Source(SimpleAddition, WGSL, 64)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(src, "const WORKGROUP_WIDTH: u32 = 64u;\n"))
		assert.Contains(t, src, "@workgroup_size(WORKGROUP_WIDTH)")
		assert.Contains(t, src, "@binding(2) var<storage, read_write> dst")
	})

	t.Run("UnknownName", func(t *testing.T) {
		_, err := Source("simpleSubtraction", OKL, 64)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UnknownDialect", func(t *testing.T) {
		_, err := Source(SimpleAddition, Dialect(7), 64)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "Dialect(7)")
	})

	t.Run("InvalidWidth", func(t *testing.T) {
		_, err := Source(SimpleAddition, OKL, 0)
		assert.Error(t, err)
	})
}

func TestHostFunc(t *testing.T) {
	fn, err := HostFunc(SimpleAddition)
	require.NoError(t, err)

	left := []float32{1, 2, 3, 4}
	right := []float32{-1, 0, 1, 2}
	out := make([]float32, 4)
	for i := range out {
		fn(i, left, right, out)
	}
	assert.Equal(t, []float32{0, 2, 4, 6}, out)

	_, err = HostFunc("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
