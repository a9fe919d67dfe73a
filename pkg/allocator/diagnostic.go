package allocator

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/TFMV/poolalloc/pkg/infrastructure/metrics"
)

var (
	_ Allocator = (*Diagnostic)(nil)
	_ Dumper    = (*Diagnostic)(nil)
)

// Diagnostic wraps an Allocator, tracing every call with its arguments and
// call site before delegating, and recording the outcome as metrics.
type Diagnostic struct {
	inner     Allocator
	logger    zerolog.Logger
	collector metrics.Collector
}

// NewDiagnostic wraps inner. A nil collector disables metrics.
func NewDiagnostic(inner Allocator, logger zerolog.Logger, collector metrics.Collector) *Diagnostic {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &Diagnostic{
		inner:     inner,
		logger:    logger.With().Str("component", "diagnostic_allocator").Logger(),
		collector: collector,
	}
}

// Unwrap returns the wrapped allocator.
func (d *Diagnostic) Unwrap() Allocator {
	return d.inner
}

// Allocate traces and forwards to the wrapped allocator.
func (d *Diagnostic) Allocate(size int) []byte {
	d.trace("allocate").Int("size", size).Msg("malloc")

	timer := d.collector.StartTimer(metrics.OperationSeconds)
	b := d.inner.Allocate(size)
	metrics.RecordOperation(d.collector, "allocate", b != nil, size, timer.Stop())
	return b
}

// Reallocate traces and forwards to the wrapped allocator.
func (d *Diagnostic) Reallocate(b []byte, size int) []byte {
	d.trace("reallocate").Str("ptr", pointerOf(b)).Int("size", size).Msg("ralloc")

	timer := d.collector.StartTimer(metrics.OperationSeconds)
	nb := d.inner.Reallocate(b, size)
	// a non-positive size is a release and legitimately returns nil
	metrics.RecordOperation(d.collector, "reallocate", nb != nil || size <= 0, size, timer.Stop())
	return nb
}

// Release traces and forwards to the wrapped allocator.
func (d *Diagnostic) Release(b []byte) bool {
	d.trace("release").Str("ptr", pointerOf(b)).Msg("free")

	timer := d.collector.StartTimer(metrics.OperationSeconds)
	ok := d.inner.Release(b)
	metrics.RecordOperation(d.collector, "release", ok, -1, timer.Stop())
	if !ok {
		d.logger.Warn().Str("ptr", pointerOf(b)).Msg("Release rejected")
	}
	return ok
}

// Dump forwards to the wrapped allocator when it can describe itself.
func (d *Diagnostic) Dump(w io.Writer) {
	dumper, ok := d.inner.(Dumper)
	if !ok {
		return
	}
	dumper.Dump(w)
}

// trace starts a debug event carrying the operation and the caller of the
// exported method.
func (d *Diagnostic) trace(op string) *zerolog.Event {
	event := d.logger.Debug()
	if event == nil {
		return nil
	}
	event = event.Str("op", op)
	if _, file, line, ok := runtime.Caller(2); ok {
		event = event.Str("caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	return event
}

func pointerOf(b []byte) string {
	if cap(b) == 0 {
		return "nil"
	}
	return fmt.Sprintf("%#x", uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}
