package savecell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/semaphore"
)

// maxReaders is the semaphore weight. Readers hold one unit, writers hold all
// of them.
const maxReaders int64 = 1 << 20

const (
	defaultFlushTimeout = 10 * time.Second
	defaultMaxPending   = 256
)

// Hooks receives cell lifecycle events. Nil fields are skipped.
type Hooks struct {
	OnLoad  func(key string, err error)
	OnFlush func(key string, bytes int, duration time.Duration, err error)
}

type options struct {
	logger       log.Logger
	hooks        Hooks
	flushTimeout time.Duration
	maxPending   int
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used for load and flush failures.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHooks sets the lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithFlushTimeout bounds each background Storage.Store call.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.flushTimeout = d
		}
	}
}

// WithMaxPending caps how many snapshots may wait for storage. When a new
// snapshot arrives at the cap, the oldest waiting one is dropped and reported
// to OnFlush as a failure.
func WithMaxPending(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPending = n
		}
	}
}

// Cell holds a value of type T shared between goroutines and persisted to a
// Storage under a single key.
type Cell[T any] struct {
	key    string
	sem    *semaphore.Weighted
	value  T
	queue  *flushQueue
	logger log.Logger
}

// Open loads the document saved under key and decodes it into a new Cell.
// Load and decode failures are logged and the cell starts from newDefault().
// Open starts the cell's flush worker; call Close to stop it.
func Open[T any](ctx context.Context, key string, storage Storage, newDefault func() T, opts ...Option) *Cell[T] {
	o := options{logger: log.Nop(), flushTimeout: defaultFlushTimeout, maxPending: defaultMaxPending}
	for _, opt := range opts {
		opt(&o)
	}
	L := o.logger.With("state_key", key)

	value, err := load[T](ctx, storage, key)
	if o.hooks.OnLoad != nil {
		o.hooks.OnLoad(key, err)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		L.Warn(ctx, "no saved state found, starting from default")
		value = newDefault()
	case err != nil:
		L.Error(ctx, err, "failed to load saved state, starting from default")
		value = newDefault()
	}

	return &Cell[T]{
		key:    key,
		sem:    semaphore.NewWeighted(maxReaders),
		value:  value,
		queue:  newFlushQueue(key, storage, L, o.hooks, o.flushTimeout, o.maxPending),
		logger: L,
	}
}

func load[T any](ctx context.Context, storage Storage, key string) (T, error) {
	var v T
	data, err := storage.Load(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

// Key returns the storage key the cell persists to.
func (c *Cell[T]) Key() string {
	return c.key
}

// Read waits for shared access. Many readers may hold the cell at once; a
// writer excludes them all.
func (c *Cell[T]) Read(ctx context.Context) (*ReadGuard[T], error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("savecell: acquire read: %w", err)
	}
	return &ReadGuard[T]{cell: c}, nil
}

// Write waits for exclusive access. The returned guard must be released,
// normally with defer.
func (c *Cell[T]) Write(ctx context.Context) (*WriteGuard[T], error) {
	if err := c.sem.Acquire(ctx, maxReaders); err != nil {
		return nil, fmt.Errorf("savecell: acquire write: %w", err)
	}
	return &WriteGuard[T]{cell: c}, nil
}

// Close waits for queued snapshots to be written and stops the flush worker.
// Dirty write scopes released after Close are logged and not persisted.
func (c *Cell[T]) Close(ctx context.Context) error {
	return c.queue.close(ctx)
}

// ReadGuard is shared access to a Cell's value.
type ReadGuard[T any] struct {
	cell     *Cell[T]
	released bool
}

// Value returns the held value. Reference-typed fields inside it must not be
// modified through a read guard.
func (g *ReadGuard[T]) Value() T {
	return g.cell.value
}

// Release gives up shared access. Further calls are no-ops.
func (g *ReadGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	g.cell.sem.Release(1)
}

// WriteGuard is exclusive access to a Cell's value.
type WriteGuard[T any] struct {
	cell     *Cell[T]
	dirty    bool
	released bool
}

// Value returns the held value without marking the guard dirty.
func (g *WriteGuard[T]) Value() T {
	return g.cell.value
}

// Mut returns a pointer to the held value and marks the guard dirty, whether
// or not the caller ends up changing anything.
func (g *WriteGuard[T]) Mut() *T {
	g.dirty = true
	return &g.cell.value
}

// Dirty reports whether Mut has been called on this guard.
func (g *WriteGuard[T]) Dirty() bool {
	return g.dirty
}

// Release gives up exclusive access. A dirty guard first downgrades to shared
// access, encodes a snapshot and queues it for the flush worker; the storage
// write itself happens after every lock on the cell is released. Further calls
// are no-ops.
func (g *WriteGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	c := g.cell

	if !g.dirty {
		c.sem.Release(maxReaders)
		return
	}

	// downgrade: readers may proceed, the next writer waits for the snapshot
	// to be queued so snapshots stay in write order
	c.sem.Release(maxReaders - 1)
	data, err := json.Marshal(c.value)
	if err != nil {
		c.queue.fail(fmt.Errorf("encode %s: %w", c.key, err))
	} else {
		c.queue.enqueue(data)
	}
	c.sem.Release(1)
}
