// Package page tracks the platform page size used to size native arenas.
package page

import (
	"math"
	"sync"
	"sync/atomic"
)

var (
	once     sync.Once
	inited   atomic.Bool
	pageSize atomic.Int64
)

// Init records the platform page size. It is safe to call any number of
// times from any goroutine, including before the rest of the process is set up.
func Init() bool {
	once.Do(func() {
		size := systemPageSize()
		if size <= 0 || size&(size-1) != 0 {
			return
		}
		pageSize.Store(int64(size))
		inited.Store(true)
	})
	return inited.Load()
}

// Initialized reports whether Init has completed successfully.
func Initialized() bool {
	return inited.Load()
}

// Size returns the page size, or 0 before Init.
func Size() int {
	return int(pageSize.Load())
}

// Align rounds n up to a whole number of pages. It returns 0 when the
// rounded size does not fit in an int.
func Align(n int) int {
	size := Size()
	if size == 0 || n <= 0 {
		return n
	}
	if n > math.MaxInt-(size-1) {
		return 0
	}
	return (n + size - 1) &^ (size - 1)
}

// Subsystem adapts the package-level functions to the collaborator interface
// consumed by the default allocator.
type Subsystem struct{}

// Init implements the collaborator contract.
func (Subsystem) Init() bool { return Init() }
