package savecell

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

var (
	errQueueClosed        = errors.New("savecell: flush queue closed")
	errSnapshotSuperseded = errors.New("savecell: snapshot superseded by a newer one")
)

// flushQueue is the single consumer of a cell's snapshots. Snapshots are
// written one at a time in enqueue order. At most maxPending wait; past that
// the oldest waiting snapshot is dropped, since every snapshot holds the
// whole value.
type flushQueue struct {
	key     string
	storage Storage
	logger  log.Logger
	hooks   Hooks
	timeout time.Duration

	maxPending int

	mu      sync.Mutex
	pending [][]byte
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newFlushQueue(key string, storage Storage, logger log.Logger, hooks Hooks, timeout time.Duration, maxPending int) *flushQueue {
	q := &flushQueue{
		key:        key,
		storage:    storage,
		logger:     logger,
		hooks:      hooks,
		timeout:    timeout,
		maxPending: maxPending,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go q.run()
	return q
}

// enqueue never blocks on storage.
func (q *flushQueue) enqueue(data []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.fail(errQueueClosed)
		return
	}
	superseded := 0
	for len(q.pending) >= q.maxPending {
		q.pending[0] = nil
		q.pending = q.pending[1:]
		superseded++
	}
	q.pending = append(q.pending, data)
	q.mu.Unlock()

	for range superseded {
		q.fail(errSnapshotSuperseded)
	}
	q.signal()
}

// fail records a flush that never reached storage.
func (q *flushQueue) fail(err error) {
	if q.hooks.OnFlush != nil {
		q.hooks.OnFlush(q.key, 0, 0, err)
	}
	q.logger.Error(context.Background(), err, "dropping state snapshot")
}

func (q *flushQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *flushQueue) run() {
	defer close(q.done)
	for range q.wake {
		for {
			data, ok, closed := q.next()
			if !ok {
				if closed {
					return
				}
				break
			}
			q.write(data)
		}
	}
}

func (q *flushQueue) next() (data []byte, ok, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false, q.closed
	}
	data = q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return data, true, q.closed
}

func (q *flushQueue) write(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	start := time.Now()
	err := q.storage.Store(ctx, q.key, data)
	dur := time.Since(start)

	if q.hooks.OnFlush != nil {
		q.hooks.OnFlush(q.key, len(data), dur, err)
	}
	if err != nil {
		q.logger.Error(ctx, err, "failed to write state snapshot", "bytes", len(data))
		return
	}
	q.logger.Info(ctx, "wrote state snapshot", "bytes", len(data), "duration", dur.Seconds())
}

func (q *flushQueue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
