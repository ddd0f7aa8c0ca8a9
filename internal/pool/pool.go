// Package pool implements the reader pool: a bounded, lazily grown set of
// read-only connections, each on its own serial lane, handing out snapshot
// reads with a configurable acquisition timeout.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rippledb/ripple/internal/serial"
	"github.com/rippledb/ripple/sqlite"
)

// ErrExhausted is returned when no reader frees up within the configured
// acquisition timeout.
var ErrExhausted = errors.New("reader pool exhausted")

// ErrPoolClosed is returned for reads after Close.
var ErrPoolClosed = errors.New("reader pool closed")

// reader pairs a read-only connection with its serial lane.
type reader struct {
	queue *serial.Queue
	conn  *sqlite.Conn
}

// Pool is the bounded reader pool.
//
// Connections are opened lazily: the pool starts empty and grows one reader
// at a time, up to max, whenever a read arrives and no opened reader is
// idle. A weighted semaphore bounds concurrent reads and doubles as the
// barrier mechanism: acquiring the full weight waits out every in-flight
// read and holds off new ones.
type Pool struct {
	open    func(label string) (*sqlite.Conn, error)
	max     int64
	timeout time.Duration

	sem *semaphore.Weighted

	mu     sync.Mutex // guards idle/all/closed, held across lazy opens
	idle   []*reader
	all    []*reader
	closed bool
}

// New creates a pool that opens readers with open, bounded at max
// concurrent reads. acquireTimeout bounds how long a read waits for a free
// reader before failing with ErrExhausted.
func New(open func(label string) (*sqlite.Conn, error), max int, acquireTimeout time.Duration) *Pool {
	if max < 1 {
		max = 1
	}
	p := &Pool{
		open:    open,
		max:     int64(max),
		timeout: acquireTimeout,
		sem:     semaphore.NewWeighted(int64(max)),
	}
	return p
}

// WithReader acquires an idle reader, pins a snapshot, runs op against the
// reader's connection, and releases the reader on every exit path.
//
// The snapshot is pinned before op runs: op sees every transaction
// committed strictly before acquisition and nothing committed after.
func (p *Pool) WithReader(ctx context.Context, op func(ctx context.Context, conn *sqlite.Conn) error) error {
	acquireCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrExhausted, p.timeout)
		}
		return ctx.Err()
	}
	defer p.sem.Release(1)

	r, err := p.take()
	if err != nil {
		return err
	}
	defer p.put(r)

	return r.queue.Submit(ctx, func(ctx context.Context) error {
		return snapshotRead(ctx, r.conn, op)
	})
}

// snapshotRead wraps op in a deferred read transaction. The sqlite_schema
// probe pins the WAL snapshot at entry rather than at op's first read.
func snapshotRead(ctx context.Context, conn *sqlite.Conn, op func(context.Context, *sqlite.Conn) error) error {
	if err := conn.Begin(ctx, sqlite.TxDeferred); err != nil {
		return err
	}
	defer conn.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // read tx teardown

	if _, err := conn.QueryInt64(ctx, "SELECT count(*) FROM sqlite_schema"); err != nil {
		return err
	}
	return op(ctx, conn)
}

// take pops an idle reader, opening a new one if every opened reader is
// busy. The semaphore guarantees a slot is available.
func (p *Pool) take() (*reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		r := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return r, nil
	}
	label := fmt.Sprintf("reader-%d", len(p.all)+1)
	conn, err := p.open(label)
	if err != nil {
		return nil, err
	}
	r := &reader{queue: serial.New(label), conn: conn}
	p.all = append(p.all, r)
	return r, nil
}

func (p *Pool) put(r *reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.idle = append(p.idle, r)
}

// Barrier waits for every in-flight read acquired before it to finish,
// holds off new reads, runs fn, then reopens the pool. Used for schema
// changes that must not race snapshot readers.
func (p *Pool) Barrier(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, p.max); err != nil {
		return err
	}
	defer p.sem.Release(p.max)
	return fn()
}

// Size returns the number of readers opened so far.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Close tears down every reader. In-flight operations complete first;
// subsequent reads fail with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	readers := p.all
	p.all = nil
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		r.queue.Close()
		if err := r.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
