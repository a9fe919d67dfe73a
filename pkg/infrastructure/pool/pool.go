// Package pool serves fine-grained allocations out of slabs carved from a
// large pool. Small requests are grouped into power-of-two size classes;
// anything above MaxClassSize goes straight to the large pool.
package pool

import (
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"

	"github.com/TFMV/poolalloc/pkg/errors"
	"github.com/TFMV/poolalloc/pkg/infrastructure/largepool"
)

const (
	// MinClassSize is the smallest size class.
	MinClassSize = 16
	// MaxClassSize is the largest size class served from slabs.
	MaxClassSize = 2048

	numClasses   = 8 // 16 B -> 2 KiB
	minSlabSize  = 1 << 10
	maxSlabSize  = 16 << 10
	slabsPerSize = 16
)

// ClassStats describes one size class.
type ClassStats struct {
	Size  int
	Slabs int
	Used  int
	Free  int
}

// Stats is a snapshot of the pool state.
type Stats struct {
	LiveAllocations int
	LiveBytes       int
	Slabs           int
	SlabBytes       int
	Classes         []ClassStats
	Allocations     uint64
	Releases        uint64
	Failures        uint64
	Large           largepool.Stats
}

type slab struct {
	mem       []byte
	size      int
	free      []int32
	used      int
	inPartial bool
}

type sizeClass struct {
	size    int
	slabs   int
	partial []*slab
}

// entry records a live allocation. A nil slab marks a block served directly
// by the large pool.
type entry struct {
	slab  *slab
	index int32
	size  int
}

// Pool is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	large   *largepool.LargePool
	classes [numClasses]sizeClass
	live    map[uintptr]entry

	liveBytes   int
	allocations uint64
	releases    uint64
	failures    uint64
}

// New builds a pool on top of large.
func New(large *largepool.LargePool) (*Pool, error) {
	if large == nil {
		return nil, errors.ErrNilLargePool
	}
	p := &Pool{
		large: large,
		live:  make(map[uintptr]entry),
	}
	for i := range p.classes {
		p.classes[i].size = MinClassSize << i
	}
	return p, nil
}

// LargePool returns the large pool backing p.
func (p *Pool) LargePool() *largepool.LargePool {
	return p.large
}

// Allocate returns a buffer of length size, or nil when size is not positive
// or no memory is left.
func (p *Pool) Allocate(size int) []byte {
	if size <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocate(size)
}

// Reallocate resizes b, keeping it in place when the new size still fits its
// size class. A nil b behaves like Allocate and a zero size releases b. On
// failure nil is returned and b stays valid.
func (p *Pool) Reallocate(b []byte, size int) []byte {
	if b == nil {
		return p.Allocate(size)
	}
	if size <= 0 {
		p.Release(b)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	addr, ok := addressOf(b)
	if !ok {
		p.failures++
		return nil
	}
	e, ok := p.live[addr]
	if !ok {
		p.failures++
		return nil
	}

	if e.slab != nil && size <= e.slab.size {
		p.liveBytes += size - e.size
		e.size = size
		p.live[addr] = e
		off := int(e.index) * e.slab.size
		return e.slab.mem[off : off+size : off+e.slab.size]
	}

	if e.slab == nil && size > MaxClassSize {
		nb := p.large.Reallocate(b, size)
		if nb == nil {
			p.failures++
			return nil
		}
		delete(p.live, addr)
		naddr, _ := addressOf(nb)
		p.live[naddr] = entry{size: size}
		p.liveBytes += size - e.size
		return nb
	}

	nb := p.allocate(size)
	if nb == nil {
		return nil
	}
	copy(nb, b[:min(len(b), size)])
	p.release(addr, b)
	return nb
}

// Release returns b to the pool. It reports false for buffers the pool did
// not hand out, including a second release of the same buffer.
func (p *Pool) Release(b []byte) bool {
	addr, ok := addressOf(b)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.release(addr, b) {
		p.failures++
		return false
	}
	return true
}

// Stats returns a snapshot of the pool and its large pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	st := Stats{
		LiveAllocations: len(p.live),
		LiveBytes:       p.liveBytes,
		Classes:         make([]ClassStats, 0, numClasses),
		Allocations:     p.allocations,
		Releases:        p.releases,
		Failures:        p.failures,
	}
	for i := range p.classes {
		c := &p.classes[i]
		cs := ClassStats{Size: c.size, Slabs: c.slabs}
		st.Slabs += c.slabs
		st.SlabBytes += c.slabs * slabSize(c.size)
		st.Classes = append(st.Classes, cs)
	}
	for _, e := range p.live {
		if e.slab != nil {
			st.Classes[classIndex(e.slab.size)].Used++
		}
	}
	for i := range st.Classes {
		cs := &st.Classes[i]
		cs.Free = cs.Slabs*(slabSize(cs.Size)/cs.Size) - cs.Used
	}
	p.mu.Unlock()

	st.Large = p.large.Stats()
	return st
}

// Dump writes a human readable description of the pool to w.
func (p *Pool) Dump(w io.Writer) {
	st := p.Stats()
	fmt.Fprintf(w, "pool: live=%d bytes=%s slabs=%d (%s) allocs=%d releases=%d failures=%d\n",
		st.LiveAllocations, humanize.IBytes(uint64(st.LiveBytes)), st.Slabs,
		humanize.IBytes(uint64(st.SlabBytes)), st.Allocations, st.Releases, st.Failures)
	for _, c := range st.Classes {
		if c.Slabs == 0 {
			continue
		}
		fmt.Fprintf(w, "  class %5d: slabs=%d used=%d free=%d\n", c.Size, c.Slabs, c.Used, c.Free)
	}
	p.large.Dump(w)
}

func (p *Pool) allocate(size int) []byte {
	if size > MaxClassSize {
		b := p.large.Allocate(size)
		if b == nil {
			p.failures++
			return nil
		}
		addr, _ := addressOf(b)
		p.live[addr] = entry{size: size}
		p.liveBytes += size
		p.allocations++
		return b
	}

	c := &p.classes[classIndex(size)]
	var s *slab
	if n := len(c.partial); n > 0 {
		s = c.partial[n-1]
	} else {
		s = p.newSlab(c)
		if s == nil {
			p.failures++
			return nil
		}
	}

	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.used++
	if len(s.free) == 0 {
		c.removePartial(s)
	}

	off := int(idx) * s.size
	b := s.mem[off : off+size : off+s.size]
	addr, _ := addressOf(b)
	p.live[addr] = entry{slab: s, index: idx, size: size}
	p.liveBytes += size
	p.allocations++
	return b
}

func (p *Pool) release(addr uintptr, b []byte) bool {
	e, ok := p.live[addr]
	if !ok {
		return false
	}
	if e.slab == nil {
		if !p.large.Release(b) {
			return false
		}
	} else {
		p.releaseToSlab(e)
	}
	delete(p.live, addr)
	p.liveBytes -= e.size
	p.releases++
	return true
}

func (p *Pool) releaseToSlab(e entry) {
	s := e.slab
	c := &p.classes[classIndex(s.size)]
	s.free = append(s.free, e.index)
	s.used--
	if !s.inPartial {
		c.partial = append(c.partial, s)
		s.inPartial = true
	}
	// keep one empty slab per class around to avoid thrashing the large pool
	if s.used == 0 && len(c.partial) > 1 {
		c.removePartial(s)
		c.slabs--
		p.large.Release(s.mem)
	}
}

func (p *Pool) newSlab(c *sizeClass) *slab {
	mem := p.large.Allocate(slabSize(c.size))
	if mem == nil {
		return nil
	}
	mem = mem[:cap(mem)]
	count := len(mem) / c.size
	s := &slab{mem: mem, size: c.size, free: make([]int32, count), inPartial: true}
	for i := range s.free {
		s.free[i] = int32(count - 1 - i)
	}
	c.partial = append(c.partial, s)
	c.slabs++
	return s
}

func (c *sizeClass) removePartial(s *slab) {
	for i, ps := range c.partial {
		if ps == s {
			c.partial = append(c.partial[:i], c.partial[i+1:]...)
			break
		}
	}
	s.inPartial = false
}

func slabSize(class int) int {
	return min(max(class*slabsPerSize, minSlabSize), maxSlabSize)
}

func classIndex(size int) int {
	size = nextPowerOfTwo(size)
	i := 0
	for c := MinClassSize; c < size; c <<= 1 {
		i++
	}
	return i
}

// nextPowerOfTwo returns the next power of 2 >= n
func nextPowerOfTwo(n int) int {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

func addressOf(b []byte) (uintptr, bool) {
	if cap(b) == 0 {
		return 0, false
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b))), true
}
