// Package singleton provides a lazily constructed, statically allocated
// value that is built exactly once no matter how many goroutines race to use
// it first.
package singleton

import (
	"runtime"
	"sync/atomic"
)

// State is the construction progress of a Static value.
type State int32

const (
	// Uninitialized means no caller has started construction yet.
	Uninitialized State = iota
	// InProgress means one caller won the race and is running construction.
	InProgress
	// Initialized means construction finished successfully.
	Initialized
	// Failed means construction ran and reported failure. It is terminal:
	// construction is never attempted again.
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case InProgress:
		return "in-progress"
	case Initialized:
		return "initialized"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Static holds a value of type T and its construction state. The zero value
// is ready to use and is meant to live in a package-level variable.
type Static[T any] struct {
	state atomic.Int32
	value T
}

// Init runs construct against the stored value the first time it is called.
// Exactly one caller wins the Uninitialized -> InProgress transition and runs
// construct; every other caller waits until construction has finished. All
// callers receive a pointer to the same value, whether construction
// succeeded or not. A construct that panics leaves the value Failed and the
// panic propagates to the caller that ran it.
func (s *Static[T]) Init(construct func(*T) bool) *T {
	if s.state.CompareAndSwap(int32(Uninitialized), int32(InProgress)) {
		ok := false
		defer func() {
			if ok {
				s.state.Store(int32(Initialized))
			} else {
				s.state.Store(int32(Failed))
			}
		}()
		ok = construct(&s.value)
		return &s.value
	}

	for State(s.state.Load()) == InProgress {
		runtime.Gosched()
	}
	return &s.value
}

// State reports the current construction state.
func (s *Static[T]) State() State {
	return State(s.state.Load())
}

// Done reports whether construction has finished, successfully or not.
func (s *Static[T]) Done() bool {
	st := s.State()
	return st == Initialized || st == Failed
}
