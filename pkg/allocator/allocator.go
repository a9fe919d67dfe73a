// Package allocator defines the allocator capability set and the process-wide
// default allocator built on the pool engines.
//
// Every variant reports failure through its return values: a nil slice from
// Allocate or Reallocate, false from Release. None of them panic.
package allocator

import "io"

// Allocator is the capability set shared by every allocator variant.
type Allocator interface {
	// Allocate returns a buffer of length size, or nil.
	Allocate(size int) []byte
	// Reallocate resizes b to size, moving it if needed. A nil b behaves like
	// Allocate and a zero size releases b. On failure nil is returned and the
	// validity of b follows the backing engine.
	Reallocate(b []byte, size int) []byte
	// Release gives b back and reports whether it was accepted.
	Release(b []byte) bool
}

// Dumper is implemented by variants that can describe their internal state.
type Dumper interface {
	Dump(w io.Writer)
}
