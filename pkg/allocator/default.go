package allocator

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TFMV/poolalloc/pkg/errors"
	"github.com/TFMV/poolalloc/pkg/infrastructure/largepool"
	"github.com/TFMV/poolalloc/pkg/infrastructure/native"
	"github.com/TFMV/poolalloc/pkg/infrastructure/page"
	"github.com/TFMV/poolalloc/pkg/infrastructure/pool"
	"github.com/TFMV/poolalloc/pkg/singleton"
)

var (
	_ Allocator = (*DefaultAllocator)(nil)
	_ Dumper    = (*DefaultAllocator)(nil)
)

// PageSubsystem is the page management collaborator.
type PageSubsystem interface {
	Init() bool
}

// NativeMemory is the native memory collaborator. It also serves as the
// source of arenas for the large pool.
type NativeMemory interface {
	Init() bool
	largepool.Source
}

// Collaborators are the subsystems the construction sequence depends on.
// Nil fields fall back to the real implementations.
type Collaborators struct {
	Page         PageSubsystem
	Native       NativeMemory
	NewLargePool func(data []byte, source largepool.Source) (*largepool.LargePool, error)
	NewPool      func(large *largepool.LargePool) (*pool.Pool, error)
}

func (c Collaborators) withDefaults(arenaSize int) Collaborators {
	if c.Page == nil {
		c.Page = page.Subsystem{}
	}
	if c.Native == nil {
		c.Native = native.Memory{}
	}
	if c.NewLargePool == nil {
		c.NewLargePool = func(data []byte, source largepool.Source) (*largepool.LargePool, error) {
			return largepool.NewWithSize(data, source, arenaSize)
		}
	}
	if c.NewPool == nil {
		c.NewPool = pool.New
	}
	return c
}

// DefaultAllocator delegates every operation to the pool it owns, which is
// backed by the large pool it also owns. Until construction succeeds both
// handles are nil and every operation fails closed.
type DefaultAllocator struct {
	id        uuid.UUID
	pool      *pool.Pool
	largePool *largepool.LargePool
	err       error
	logger    zerolog.Logger
}

// Allocate forwards to the pool.
func (d *DefaultAllocator) Allocate(size int) []byte {
	if d == nil || d.pool == nil {
		return nil
	}
	return d.pool.Allocate(size)
}

// Reallocate forwards to the pool.
func (d *DefaultAllocator) Reallocate(b []byte, size int) []byte {
	if d == nil || d.pool == nil {
		return nil
	}
	return d.pool.Reallocate(b, size)
}

// Release forwards to the pool and returns its verdict unchanged.
func (d *DefaultAllocator) Release(b []byte) bool {
	if d == nil || d.pool == nil {
		return false
	}
	return d.pool.Release(b)
}

// Dump writes the pool state to w. It does nothing before construction.
func (d *DefaultAllocator) Dump(w io.Writer) {
	if d == nil || d.pool == nil {
		return
	}
	d.pool.Dump(w)
}

// Stats returns the pool statistics. The bool is false when the allocator
// has no pool.
func (d *DefaultAllocator) Stats() (pool.Stats, bool) {
	if d == nil || d.pool == nil {
		return pool.Stats{}, false
	}
	return d.pool.Stats(), true
}

// Initialized reports whether construction succeeded.
func (d *DefaultAllocator) Initialized() bool {
	return d != nil && d.pool != nil
}

// Err returns the reason construction failed, if it did.
func (d *DefaultAllocator) Err() error {
	if d == nil {
		return errors.ErrNotConstructed
	}
	return d.err
}

// ID identifies the constructed instance. It is the zero UUID when
// construction did not get far enough to assign one.
func (d *DefaultAllocator) ID() uuid.UUID {
	if d == nil {
		return uuid.Nil
	}
	return d.id
}

// Close gives a natively drawn arena back. It is meant for allocators built
// through NewInitializer; the process-wide default is never closed. Close must
// not race with other operations on d.
func (d *DefaultAllocator) Close() error {
	if d == nil || d.largePool == nil {
		return nil
	}
	lp := d.largePool
	d.pool, d.largePool = nil, nil
	d.logger.Debug().Msg("Closing default allocator")
	return lp.Close()
}

// Option configures an Initializer.
type Option func(*initConfig)

type initConfig struct {
	collab    Collaborators
	logger    zerolog.Logger
	arenaSize int
}

// WithCollaborators replaces the subsystems used during construction.
func WithCollaborators(c Collaborators) Option {
	return func(cfg *initConfig) { cfg.collab = c }
}

// WithLogger sets the logger used for construction and by the instance.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *initConfig) { cfg.logger = logger }
}

// WithNativeArenaSize sets how much native memory the large pool draws when
// no region is supplied.
func WithNativeArenaSize(size int) Option {
	return func(cfg *initConfig) {
		if size > 0 {
			cfg.arenaSize = size
		}
	}
}

// Initializer builds one DefaultAllocator, exactly once, on first request.
// The zero value uses the real subsystems, a no-op logger and a
// largepool.DefaultArenaSize native arena.
type Initializer struct {
	static singleton.Static[DefaultAllocator]

	mu         sync.Mutex
	configured bool
	cfg        initConfig
}

// NewInitializer returns an isolated initializer configured with opts.
func NewInitializer(opts ...Option) *Initializer {
	in := &Initializer{}
	in.Configure(opts...)
	return in
}

// Configure applies opts if construction has not started yet and reports
// whether they were applied.
func (in *Initializer) Configure(opts ...Option) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.static.State() != singleton.Uninitialized {
		return false
	}
	in.ensureDefaults()
	for _, opt := range opts {
		opt(&in.cfg)
	}
	return true
}

// Get returns the allocator, constructing it over data on the first call.
// An empty data draws the arena from native memory. Later calls ignore data.
func (in *Initializer) Get(data []byte) *DefaultAllocator {
	return in.static.Init(func(d *DefaultAllocator) bool {
		return in.construct(d, data)
	})
}

// State reports the construction progress.
func (in *Initializer) State() singleton.State {
	return in.static.State()
}

func (in *Initializer) ensureDefaults() {
	if in.configured {
		return
	}
	in.cfg = initConfig{logger: zerolog.Nop(), arenaSize: largepool.DefaultArenaSize}
	in.configured = true
}

func (in *Initializer) snapshot() initConfig {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.ensureDefaults()
	return in.cfg
}

// construct runs the fixed construction sequence against d. The owned
// handles are only stored once every step has succeeded. A panicking
// collaborator fails the construction like any other step.
func (in *Initializer) construct(d *DefaultAllocator, data []byte) (ok bool) {
	cfg := in.snapshot()
	c := cfg.collab.withDefaults(cfg.arenaSize)
	logger := cfg.logger.With().Str("component", "default_allocator").Logger()

	region := "native"
	if len(data) > 0 {
		region = "caller"
	}
	fail := func(err error) bool {
		d.err = err
		logger.Error().Err(err).Str("region", region).Msg("Default allocator construction failed")
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			d.pool, d.largePool = nil, nil
			ok = fail(errors.New(errors.CodeInternal, fmt.Sprintf("construction panicked: %v", r)))
		}
	}()

	// the allocator may be requested before anything else in the process
	// has set up the page and native memory subsystems
	if !c.Page.Init() {
		return fail(errors.ErrPageInit)
	}
	logger.Debug().Msg("Page subsystem ready")

	if !c.Native.Init() {
		return fail(errors.ErrNativeInit)
	}
	logger.Debug().Msg("Native memory ready")

	d.id = uuid.New()
	d.logger = logger.With().Str("instance", d.id.String()).Logger()

	lp, err := c.NewLargePool(data, c.Native)
	if err != nil {
		return fail(errors.Wrapf(err, errors.CodeLargePool, "large pool over %s region", region).
			WithDetail("size", len(data)))
	}
	if lp == nil {
		return fail(errors.New(errors.CodeLargePool, "large pool constructor returned nothing"))
	}
	logger.Debug().Int("size", lp.Size()).Bool("native", lp.Native()).Msg("Large pool ready")

	p, err := c.NewPool(lp)
	if err == nil && p == nil {
		err = errors.New(errors.CodeInternal, "pool constructor returned nothing")
	}
	if err == nil && p.LargePool() != lp {
		err = errors.New(errors.CodeInternal, "pool is not backed by the owned large pool")
	}
	if err != nil {
		if cerr := lp.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to release large pool arena")
		}
		return fail(errors.Wrap(err, errors.CodePool, "pool construction failed"))
	}

	d.largePool, d.pool = lp, p
	d.logger.Info().
		Str("region", region).
		Int("arena_size", lp.Size()).
		Msg("Default allocator constructed")
	return true
}

// process is the statically allocated initializer behind Default.
var process Initializer

// Default returns the process-wide default allocator. The first call builds
// it over data, or over native memory when data is empty; every later call
// returns the same instance and ignores data.
//
// If construction fails the instance stays unusable for the rest of the
// process: every operation fails closed and Err reports the cause.
func Default(data []byte) *DefaultAllocator {
	return process.Get(data)
}

// ConfigureDefault applies opts to the process-wide default allocator. It
// only has an effect before the first call to Default and reports whether the
// options were applied.
func ConfigureDefault(opts ...Option) bool {
	return process.Configure(opts...)
}

// DefaultState reports the construction progress of the process-wide default.
func DefaultState() singleton.State {
	return process.State()
}
