package singleton

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	value int
}

func TestInit(t *testing.T) {
	t.Run("Once", func(t *testing.T) {
		var s Static[counter]
		assert.Equal(t, Uninitialized, s.State())
		assert.False(t, s.Done())

		calls := 0
		first := s.Init(func(c *counter) bool {
			calls++
			c.value = 42
			return true
		})
		second := s.Init(func(c *counter) bool {
			calls++
			c.value = 7
			return true
		})

		assert.Same(t, first, second)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 42, second.value)
		assert.Equal(t, Initialized, s.State())
		assert.True(t, s.Done())
	})

	t.Run("StuckFailed", func(t *testing.T) {
		var s Static[counter]
		calls := 0
		v := s.Init(func(c *counter) bool {
			calls++
			return false
		})
		require.NotNil(t, v)
		assert.Equal(t, Failed, s.State())

		again := s.Init(func(c *counter) bool {
			calls++
			return true
		})
		assert.Same(t, v, again)
		assert.Equal(t, 1, calls, "failed construction must not be retried")
		assert.Equal(t, Failed, s.State())
	})

	t.Run("PanickingConstruct", func(t *testing.T) {
		var s Static[counter]
		assert.Panics(t, func() {
			s.Init(func(c *counter) bool {
				panic("boom")
			})
		})
		assert.Equal(t, Failed, s.State(), "a panic must not leave construction in progress")
		assert.True(t, s.Done())

		done := make(chan *counter, 1)
		go func() {
			done <- s.Init(func(c *counter) bool {
				t.Error("construction must not be retried")
				return true
			})
		}()
		select {
		case v := <-done:
			assert.NotNil(t, v)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter spun on a panicked construction")
		}
	})

	t.Run("ConcurrentFirstUse", func(t *testing.T) {
		var s Static[counter]
		var calls atomic.Int32
		const goroutines = 64

		start := make(chan struct{})
		results := make([]*counter, goroutines)
		var wg sync.WaitGroup
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				results[i] = s.Init(func(c *counter) bool {
					calls.Add(1)
					// widen the window in which the others must wait
					time.Sleep(10 * time.Millisecond)
					c.value = i + 1
					return true
				})
				// waiters must never observe a half-built value
				assert.NotZero(t, results[i].value)
			}(i)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, r := range results {
			assert.Same(t, results[0], r)
		}
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "in-progress", InProgress.String())
	assert.Equal(t, "initialized", Initialized.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(99).String())
}
