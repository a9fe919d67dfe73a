// Package largepool manages one contiguous arena and serves coarse,
// block-granular requests out of it. The arena is either supplied by the
// caller or drawn from a Source such as the native memory subsystem.
package largepool

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"

	"github.com/TFMV/poolalloc/pkg/errors"
)

const (
	// BlockSize is the allocation grain of the arena.
	BlockSize = 256
	// DefaultArenaSize is the size drawn from the source when no region is given.
	DefaultArenaSize = 64 << 20
	// arenaAlign is the minimum alignment of the first block.
	arenaAlign = 16
)

// Source supplies raw memory for arenas that are not provided by the caller.
type Source interface {
	Allocate(size int) []byte
	Free(b []byte) bool
}

// Stats is a snapshot of the arena state.
type Stats struct {
	Size        int
	Used        int
	Free        int
	Blocks      int
	FreeExtents int
	Native      bool
	Allocations uint64
	Releases    uint64
	Failures    uint64
}

type extent struct {
	off  int
	size int
}

// LargePool is a first-fit allocator over a single arena. Free extents are
// kept sorted by offset and coalesced on release.
type LargePool struct {
	mu     sync.Mutex
	arena  []byte
	base   uintptr
	source Source
	free   []extent
	used   map[int]int
	inUse  int

	allocations uint64
	releases    uint64
	failures    uint64
}

// New builds a large pool over data. When data is empty the arena is drawn
// from source instead, sized to DefaultArenaSize.
func New(data []byte, source Source) (*LargePool, error) {
	return NewWithSize(data, source, DefaultArenaSize)
}

// NewWithSize is like New but draws nativeSize bytes from source when data is
// empty.
func NewWithSize(data []byte, source Source, nativeSize int) (*LargePool, error) {
	lp := &LargePool{used: make(map[int]int)}

	if len(data) == 0 {
		if source == nil || nativeSize <= 0 {
			return nil, errors.ErrNoMemory
		}
		data = source.Allocate(nativeSize)
		if len(data) == 0 {
			return nil, errors.Wrapf(errors.ErrNoMemory, errors.CodeResourceExhausted,
				"native source could not supply %s", humanize.IBytes(uint64(nativeSize)))
		}
		lp.source = source
	}

	skip := int(alignUp(addressOf(data), arenaAlign) - addressOf(data))
	if skip >= len(data) {
		lp.releaseArena(data)
		return nil, errors.ErrArenaTooSmall
	}
	usable := (len(data) - skip) / BlockSize * BlockSize
	if usable == 0 {
		lp.releaseArena(data)
		return nil, errors.Wrapf(errors.ErrArenaTooSmall, errors.CodeInvalidArgument,
			"arena of %d bytes is smaller than one block", len(data))
	}

	lp.arena = data[skip : skip+usable : skip+usable]
	lp.base = addressOf(lp.arena)
	lp.free = []extent{{off: 0, size: usable}}
	// the source matches regions on their start address
	if lp.source != nil && skip != 0 {
		lp.source = &offsetSource{Source: lp.source, region: data}
	}
	return lp, nil
}

// Allocate reserves at least size bytes. The returned slice has length size
// and a capacity rounded up to BlockSize.
func (lp *LargePool) Allocate(size int) []byte {
	if size <= 0 {
		return nil
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.allocate(size)
}

// Reallocate resizes b. Shrinking and growing into an adjacent free extent
// happen in place; otherwise the contents are moved. A nil b behaves like
// Allocate and a zero size releases b.
func (lp *LargePool) Reallocate(b []byte, size int) []byte {
	if b == nil {
		return lp.Allocate(size)
	}
	if size <= 0 {
		lp.Release(b)
		return nil
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()

	off, ok := lp.offsetOf(b)
	if !ok {
		lp.failures++
		return nil
	}
	cur, ok := lp.used[off]
	if !ok {
		lp.failures++
		return nil
	}

	if size > len(lp.arena) {
		lp.failures++
		return nil
	}
	n := roundUp(size)
	switch {
	case n == cur:
		return lp.arena[off : off+size : off+n]
	case n < cur:
		lp.used[off] = n
		lp.inUse -= cur - n
		lp.insertFree(extent{off: off + n, size: cur - n})
		return lp.arena[off : off+size : off+n]
	}

	if lp.growInPlace(off, cur, n) {
		return lp.arena[off : off+size : off+n]
	}

	moved := lp.allocate(size)
	if moved == nil {
		return nil
	}
	copy(moved, lp.arena[off:off+min(len(b), size)])
	lp.release(off)
	return moved
}

// Release returns b to the arena. It reports false for buffers that were not
// handed out by this pool or were already released.
func (lp *LargePool) Release(b []byte) bool {
	if len(b) == 0 && cap(b) == 0 {
		return false
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()

	off, ok := lp.offsetOf(b)
	if !ok {
		lp.failures++
		return false
	}
	if !lp.release(off) {
		lp.failures++
		return false
	}
	return true
}

// Contains reports whether b starts inside the arena.
func (lp *LargePool) Contains(b []byte) bool {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	_, ok := lp.offsetOf(b)
	return ok
}

// Native reports whether the arena was drawn from a Source.
func (lp *LargePool) Native() bool {
	return lp.source != nil
}

// Size returns the usable arena size in bytes.
func (lp *LargePool) Size() int {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return len(lp.arena)
}

// Stats returns a snapshot of the arena state.
func (lp *LargePool) Stats() Stats {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return Stats{
		Size:        len(lp.arena),
		Used:        lp.inUse,
		Free:        len(lp.arena) - lp.inUse,
		Blocks:      len(lp.used),
		FreeExtents: len(lp.free),
		Native:      lp.source != nil,
		Allocations: lp.allocations,
		Releases:    lp.releases,
		Failures:    lp.failures,
	}
}

// Dump writes the arena layout to w.
func (lp *LargePool) Dump(w io.Writer) {
	st := lp.Stats()
	fmt.Fprintf(w, "large pool: size=%s used=%s free=%s blocks=%d extents=%d native=%t\n",
		humanize.IBytes(uint64(st.Size)), humanize.IBytes(uint64(st.Used)),
		humanize.IBytes(uint64(st.Free)), st.Blocks, st.FreeExtents, st.Native)

	lp.mu.Lock()
	defer lp.mu.Unlock()
	for _, e := range lp.free {
		fmt.Fprintf(w, "  free [%#x, %#x) %s\n", e.off, e.off+e.size, humanize.IBytes(uint64(e.size)))
	}
}

// Close gives a natively drawn arena back to its source. The pool must not be
// used afterwards.
func (lp *LargePool) Close() error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.arena == nil {
		return nil
	}
	arena := lp.arena
	lp.arena, lp.free, lp.used, lp.inUse = nil, nil, make(map[int]int), 0
	if lp.source != nil && !lp.source.Free(arena) {
		return errors.New(errors.CodeInternal, "native source rejected arena release")
	}
	return nil
}

func (lp *LargePool) allocate(size int) []byte {
	// larger than the arena can never fit and would overflow the rounding
	if size > len(lp.arena) {
		lp.failures++
		return nil
	}
	n := roundUp(size)
	for i, e := range lp.free {
		if e.size < n {
			continue
		}
		if e.size == n {
			lp.free = append(lp.free[:i], lp.free[i+1:]...)
		} else {
			lp.free[i] = extent{off: e.off + n, size: e.size - n}
		}
		lp.used[e.off] = n
		lp.inUse += n
		lp.allocations++
		return lp.arena[e.off : e.off+size : e.off+n]
	}
	lp.failures++
	return nil
}

func (lp *LargePool) release(off int) bool {
	n, ok := lp.used[off]
	if !ok {
		return false
	}
	delete(lp.used, off)
	lp.inUse -= n
	lp.releases++
	lp.insertFree(extent{off: off, size: n})
	return true
}

func (lp *LargePool) growInPlace(off, cur, n int) bool {
	next := off + cur
	i := sort.Search(len(lp.free), func(i int) bool { return lp.free[i].off >= next })
	if i == len(lp.free) || lp.free[i].off != next || lp.free[i].size < n-cur {
		return false
	}
	need := n - cur
	if lp.free[i].size == need {
		lp.free = append(lp.free[:i], lp.free[i+1:]...)
	} else {
		lp.free[i] = extent{off: next + need, size: lp.free[i].size - need}
	}
	lp.used[off] = n
	lp.inUse += need
	return true
}

// insertFree adds e to the sorted free list, merging it with its neighbours.
func (lp *LargePool) insertFree(e extent) {
	i := sort.Search(len(lp.free), func(i int) bool { return lp.free[i].off >= e.off })

	if i > 0 && lp.free[i-1].off+lp.free[i-1].size == e.off {
		lp.free[i-1].size += e.size
		if i < len(lp.free) && e.off+e.size == lp.free[i].off {
			lp.free[i-1].size += lp.free[i].size
			lp.free = append(lp.free[:i], lp.free[i+1:]...)
		}
		return
	}
	if i < len(lp.free) && e.off+e.size == lp.free[i].off {
		lp.free[i].off = e.off
		lp.free[i].size += e.size
		return
	}

	lp.free = append(lp.free, extent{})
	copy(lp.free[i+1:], lp.free[i:])
	lp.free[i] = e
}

func (lp *LargePool) offsetOf(b []byte) (int, bool) {
	if cap(b) == 0 || lp.arena == nil {
		return 0, false
	}
	addr := addressOf(b)
	if addr < lp.base || addr >= lp.base+uintptr(len(lp.arena)) {
		return 0, false
	}
	return int(addr - lp.base), true
}

func (lp *LargePool) releaseArena(data []byte) {
	if lp.source != nil {
		lp.source.Free(data)
	}
}

// offsetSource frees the original region when the arena had to be trimmed
// for alignment.
type offsetSource struct {
	Source
	region []byte
}

func (s *offsetSource) Free([]byte) bool {
	return s.Source.Free(s.region)
}

func roundUp(n int) int {
	return (n + BlockSize - 1) &^ (BlockSize - 1)
}

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

func addressOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
