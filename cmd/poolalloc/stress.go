package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/poolalloc/cmd/poolalloc/config"
	"github.com/TFMV/poolalloc/pkg/allocator"
	"github.com/TFMV/poolalloc/pkg/infrastructure/memory"
)

// maxHeld bounds how many buffers one worker keeps live at once.
const maxHeld = 64

type workloadResult struct {
	Operations int64
	Failures   int64
	Batches    int64
	PeakBytes  int64
}

type workload struct {
	alloc  allocator.Allocator
	cfg    config.StressConfig
	logger zerolog.Logger

	ops       atomic.Int64
	failures  atomic.Int64
	batches   atomic.Int64
	liveBytes atomic.Int64
	peakBytes atomic.Int64
}

// runWorkload drives cfg.Workers goroutines of random allocate, reallocate
// and release calls against alloc. Every held buffer is filled with a
// per-buffer pattern that is verified before it is resized or released.
func runWorkload(ctx context.Context, alloc allocator.Allocator, cfg config.StressConfig, logger zerolog.Logger) (workloadResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	w := &workload{alloc: alloc, cfg: cfg, logger: logger.With().Str("component", "stress").Logger()}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return w.run(ctx, worker)
		})
	}
	err := g.Wait()

	return workloadResult{
		Operations: w.ops.Load(),
		Failures:   w.failures.Load(),
		Batches:    w.batches.Load(),
		PeakBytes:  w.peakBytes.Load(),
	}, err
}

type held struct {
	buf  []byte
	mark byte
}

func (w *workload) run(ctx context.Context, worker int) error {
	rng := rand.New(rand.NewSource(w.cfg.Seed + int64(worker)))
	logger := w.logger.With().Int("worker", worker).Logger()

	var bufs []held
	defer func() {
		for _, h := range bufs {
			w.release(h)
		}
	}()

	var tracked *memory.TrackedAllocator
	if w.cfg.Arrow {
		tracked = memory.NewTrackedAllocator(w.alloc)
	}

	for i := 0; i < w.cfg.Operations; i++ {
		if ctx.Err() != nil {
			logger.Debug().Int("completed", i).Msg("Worker stopped early")
			return nil
		}
		w.ops.Add(1)

		switch op := rng.Intn(10); {
		case tracked != nil && op == 0:
			if err := w.arrowBatch(tracked, rng); err != nil {
				return err
			}
		case len(bufs) > 0 && (op < 3 || len(bufs) >= maxHeld):
			j := rng.Intn(len(bufs))
			if err := verify(bufs[j]); err != nil {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
			w.release(bufs[j])
			bufs[j] = bufs[len(bufs)-1]
			bufs = bufs[:len(bufs)-1]
		case len(bufs) > 0 && op < 5:
			j := rng.Intn(len(bufs))
			h := bufs[j]
			if err := verify(h); err != nil {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
			size := 1 + rng.Intn(w.cfg.MaxSize)
			nb := w.alloc.Reallocate(h.buf, size)
			if nb == nil {
				w.failures.Add(1)
				continue
			}
			// the preserved prefix still carries the old pattern
			if err := verify(held{buf: nb[:min(len(h.buf), size)], mark: h.mark}); err != nil {
				return fmt.Errorf("worker %d: reallocate lost contents: %w", worker, err)
			}
			w.track(int64(size - len(h.buf)))
			bufs[j] = fill(nb, h.mark)
		default:
			size := 1 + rng.Intn(w.cfg.MaxSize)
			b := w.alloc.Allocate(size)
			if b == nil {
				w.failures.Add(1)
				continue
			}
			w.track(int64(size))
			bufs = append(bufs, fill(b, byte(rng.Intn(256))))
		}
	}
	return nil
}

// arrowBatch builds and releases a small Arrow array through the allocator.
func (w *workload) arrowBatch(mem *memory.TrackedAllocator, rng *rand.Rand) (err error) {
	defer func() {
		// the Arrow adapter panics when the arena is exhausted
		if r := recover(); r != nil {
			w.failures.Add(1)
			err = nil
		}
	}()

	n := 1 + rng.Intn(512)
	b := array.NewInt64Builder(mem)
	defer b.Release()
	for i := 0; i < n; i++ {
		b.Append(int64(i))
	}
	arr := b.NewInt64Array()
	defer arr.Release()
	if arr.Len() != n || arr.Value(n-1) != int64(n-1) {
		return fmt.Errorf("arrow batch of %d values corrupted", n)
	}
	w.batches.Add(1)
	return nil
}

func (w *workload) release(h held) {
	if !w.alloc.Release(h.buf) {
		w.failures.Add(1)
		return
	}
	w.track(-int64(len(h.buf)))
}

func (w *workload) track(delta int64) {
	live := w.liveBytes.Add(delta)
	for {
		peak := w.peakBytes.Load()
		if live <= peak || w.peakBytes.CompareAndSwap(peak, live) {
			return
		}
	}
}

func fill(b []byte, mark byte) held {
	for i := range b {
		b[i] = mark + byte(i)
	}
	return held{buf: b, mark: mark}
}

func verify(h held) error {
	for i, v := range h.buf {
		if v != h.mark+byte(i) {
			return fmt.Errorf("buffer %p corrupted at offset %d", &h.buf[0], i)
		}
	}
	return nil
}
