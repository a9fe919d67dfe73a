// Package memory exposes a pool allocator to Apache Arrow through the
// memory.Allocator interface, tracking the bytes it hands out.
package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/poolalloc/pkg/allocator"
)

var _ memory.Allocator = (*TrackedAllocator)(nil)

var (
	globalOnce      sync.Once
	globalAllocator *TrackedAllocator
)

// TrackedAllocator adapts an allocator.Allocator to memory.Allocator and
// tracks total allocated bytes. Arrow has no error path for allocation, so
// exhaustion panics.
type TrackedAllocator struct {
	underlying allocator.Allocator
	bytesUsed  atomic.Int64
}

// NewTrackedAllocator creates a new TrackedAllocator
func NewTrackedAllocator(underlying allocator.Allocator) *TrackedAllocator {
	return &TrackedAllocator{
		underlying: underlying,
	}
}

// Allocate implements memory.Allocator interface
func (a *TrackedAllocator) Allocate(size int) []byte {
	if size <= 0 {
		return []byte{}
	}
	b := a.underlying.Allocate(size)
	if b == nil {
		panic(fmt.Sprintf("poolalloc: cannot allocate %d bytes", size))
	}
	a.bytesUsed.Add(int64(size))
	return b
}

// Reallocate implements memory.Allocator interface
func (a *TrackedAllocator) Reallocate(size int, b []byte) []byte {
	if cap(b) == 0 {
		return a.Allocate(size)
	}
	if size <= 0 {
		a.Free(b)
		return []byte{}
	}
	oldSize := len(b)
	nb := a.underlying.Reallocate(b, size)
	if nb == nil {
		panic(fmt.Sprintf("poolalloc: cannot reallocate %d bytes to %d", oldSize, size))
	}
	a.bytesUsed.Add(int64(size - oldSize))
	return nb
}

// Free implements memory.Allocator interface
func (a *TrackedAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	if a.underlying.Release(b) {
		a.bytesUsed.Add(-int64(len(b)))
	}
}

// BytesUsed returns the current number of bytes allocated
func (a *TrackedAllocator) BytesUsed() int64 {
	return a.bytesUsed.Load()
}

// Underlying returns the wrapped allocator.
func (a *TrackedAllocator) Underlying() allocator.Allocator {
	return a.underlying
}

// GetAllocator returns the global tracked allocator, backed by the
// process-wide default allocator.
func GetAllocator() *TrackedAllocator {
	globalOnce.Do(func() {
		globalAllocator = NewTrackedAllocator(allocator.Default(nil))
	})
	return globalAllocator
}
