// Package native hands out raw memory regions straight from the operating
// system. On unix the regions are anonymous private mappings, elsewhere they
// come from the Go heap.
package native

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/TFMV/poolalloc/pkg/infrastructure/page"
)

type region struct {
	data   []byte
	mapped bool
}

var (
	once      sync.Once
	inited    atomic.Bool
	mu        sync.Mutex
	regions   = make(map[uintptr]region)
	allocated atomic.Int64
)

// Init prepares the native memory subsystem. It is idempotent and depends on
// the page subsystem, which it initializes on demand.
func Init() bool {
	once.Do(func() {
		if !page.Init() {
			return
		}
		inited.Store(true)
	})
	return inited.Load()
}

// Initialized reports whether Init has completed successfully.
func Initialized() bool {
	return inited.Load()
}

// Allocate returns a zeroed region of at least size bytes rounded up to the
// page size, or nil when size is not positive, the subsystem is not ready or
// the system cannot supply the region.
func Allocate(size int) []byte {
	if size <= 0 || !inited.Load() {
		return nil
	}
	size = page.Align(size)
	if size <= 0 {
		return nil
	}

	data, mapped := mapRegion(size)
	if data == nil {
		return nil
	}

	mu.Lock()
	regions[addressOf(data)] = region{data: data, mapped: mapped}
	mu.Unlock()
	allocated.Add(int64(len(data)))
	return data
}

// Free returns a region obtained from Allocate. Regions are matched by their
// start address; anything else is rejected.
func Free(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	addr := addressOf(b)

	mu.Lock()
	r, ok := regions[addr]
	if ok {
		delete(regions, addr)
	}
	mu.Unlock()
	if !ok {
		return false
	}

	allocated.Add(-int64(len(r.data)))
	if r.mapped {
		return unmapRegion(r.data)
	}
	return true
}

// Allocated reports the number of bytes currently handed out.
func Allocated() int64 {
	return allocated.Load()
}

// Memory adapts the package-level functions to the collaborator interface
// consumed by the default allocator and the large pool.
type Memory struct{}

// Init implements the collaborator contract.
func (Memory) Init() bool { return Init() }

// Allocate implements largepool.Source.
func (Memory) Allocate(size int) []byte { return Allocate(size) }

// Free implements largepool.Source.
func (Memory) Free(b []byte) bool { return Free(b) }

func addressOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
