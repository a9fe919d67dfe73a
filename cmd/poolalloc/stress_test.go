package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/poolalloc/cmd/poolalloc/config"
	"github.com/TFMV/poolalloc/pkg/allocator"
)

func newStressAllocator(t *testing.T, size int) *allocator.DefaultAllocator {
	t.Helper()
	d := allocator.NewInitializer().Get(make([]byte, size))
	require.True(t, d.Initialized(), "construction failed: %v", d.Err())
	return d
}

func TestRunWorkload(t *testing.T) {
	d := newStressAllocator(t, 8<<20)
	cfg := config.StressConfig{Workers: 4, Operations: 2000, MaxSize: 4096, Seed: 7}

	res, err := runWorkload(context.Background(), d, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(8000), res.Operations)
	assert.Zero(t, res.Failures)
	assert.Positive(t, res.PeakBytes)

	st, ok := d.Stats()
	require.True(t, ok)
	assert.Equal(t, 0, st.LiveAllocations, "workers must release everything they hold")
}

func TestRunWorkload_Arrow(t *testing.T) {
	d := newStressAllocator(t, 16<<20)
	cfg := config.StressConfig{Workers: 2, Operations: 500, MaxSize: 1024, Arrow: true, Seed: 3}

	res, err := runWorkload(context.Background(), d, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Positive(t, res.Batches)
	assert.Zero(t, res.Failures)

	st, _ := d.Stats()
	assert.Equal(t, 0, st.LiveAllocations)
}

func TestRunWorkload_Diagnostic(t *testing.T) {
	d := newStressAllocator(t, 4<<20)
	diag := allocator.NewDiagnostic(d, zerolog.Nop(), nil)
	cfg := config.StressConfig{Workers: 2, Operations: 300, MaxSize: 3000, Seed: 11}

	_, err := runWorkload(context.Background(), diag, cfg, zerolog.Nop())
	require.NoError(t, err)
	st, _ := d.Stats()
	assert.Equal(t, 0, st.LiveAllocations)
}

func TestRunWorkload_Exhaustion(t *testing.T) {
	d := newStressAllocator(t, 64<<10)
	cfg := config.StressConfig{Workers: 2, Operations: 1000, MaxSize: 16 << 10, Seed: 5}

	res, err := runWorkload(context.Background(), d, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Positive(t, res.Failures, "a tiny arena must run out")
	st, _ := d.Stats()
	assert.Equal(t, 0, st.LiveAllocations)
}

func TestRunWorkload_Cancelled(t *testing.T) {
	d := newStressAllocator(t, 1<<20)
	cfg := config.StressConfig{Workers: 2, Operations: 1 << 30, MaxSize: 256, Duration: 50 * time.Millisecond}

	res, err := runWorkload(context.Background(), d, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Less(t, res.Operations, int64(2<<30))
	st, _ := d.Stats()
	assert.Equal(t, 0, st.LiveAllocations)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(stressCmd)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Stress.Workers)
	assert.Equal(t, 64<<20, cfg.Allocator.NativeArenaSize)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestFillVerify(t *testing.T) {
	h := fill(make([]byte, 300), 200)
	require.NoError(t, verify(h))
	h.buf[299]++
	assert.Error(t, verify(h))
}
