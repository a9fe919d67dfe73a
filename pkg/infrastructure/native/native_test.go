package native

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/poolalloc/pkg/infrastructure/page"
)

func TestAllocateFree(t *testing.T) {
	require.True(t, Init())
	assert.True(t, Initialized())
	assert.True(t, Init(), "Init must be idempotent")

	before := Allocated()

	t.Run("RoundsToPage", func(t *testing.T) {
		buf := Allocate(1)
		require.NotNil(t, buf)
		assert.Equal(t, page.Size(), len(buf))
		assert.Equal(t, before+int64(page.Size()), Allocated())

		buf[0] = 0x5A
		buf[len(buf)-1] = 0xA5
		assert.True(t, Free(buf))
		assert.Equal(t, before, Allocated())
	})

	t.Run("Zeroed", func(t *testing.T) {
		buf := Allocate(3 * page.Size())
		require.NotNil(t, buf)
		for i, b := range buf {
			if b != 0 {
				t.Fatalf("expected zero at %d, got %#x", i, b)
			}
		}
		assert.True(t, Free(buf))
	})

	t.Run("RejectsUnknown", func(t *testing.T) {
		assert.False(t, Free(nil))
		assert.False(t, Free(make([]byte, 16)))

		buf := Allocate(page.Size())
		require.NotNil(t, buf)
		assert.True(t, Free(buf))
		assert.False(t, Free(buf), "second free must be rejected")
	})

	t.Run("InvalidSize", func(t *testing.T) {
		assert.Nil(t, Allocate(0))
		assert.Nil(t, Allocate(-1))
		assert.Nil(t, Allocate(math.MaxInt), "page rounding must not overflow")
	})

	t.Run("Memory", func(t *testing.T) {
		var m Memory
		assert.True(t, m.Init())
		buf := m.Allocate(64)
		require.NotNil(t, buf)
		assert.True(t, m.Free(buf))
	})
}
