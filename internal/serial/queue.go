// Package serial provides the serial access queue: a FIFO execution lane
// that guarantees mutual exclusion over whatever resource its operations
// close over, with fail-fast detection of reentrant submission.
package serial

import (
	"context"
	"errors"
	"sync"
)

// ErrReentrantSubmit is returned when an operation submits to the queue it
// is currently executing on. Blocking would deadlock the lane, so the
// submission fails fast instead.
var ErrReentrantSubmit = errors.New("reentrant submit on the same serial queue")

// ErrQueueClosed is returned for submissions after Close.
var ErrQueueClosed = errors.New("serial queue closed")

// Op is a unit of work executed on the queue's lane. The context it
// receives carries the lane token used for reentrancy detection and must be
// forwarded to any nested ripple calls.
type Op func(ctx context.Context) error

// laneKey marks a context as executing on a specific queue.
type laneKey struct{}

type item struct {
	ctx      context.Context
	op       Op
	result   chan error // sync submissions
	callback func(error) // async submissions
}

// Queue is a single logical execution lane.
//
// Operations submitted concurrently are totally ordered by admission and
// executed one at a time by a dedicated worker goroutine. The queue is
// unbounded: submission never blocks on capacity, only on the result.
//
// Thread-safety model:
//   - Submit / SubmitAsync: safe from any goroutine
//   - the worker goroutine is the only executor of operations
type Queue struct {
	label string

	mu     sync.Mutex
	items  []item
	closed bool
	signal chan struct{} // availability signal, buffered 1, coalescing

	done chan struct{} // closed when the worker exits
}

// New creates a queue and starts its worker.
func New(label string) *Queue {
	q := &Queue{
		label:  label,
		items:  make([]item, 0, 16),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Label returns the queue's identity label.
func (q *Queue) Label() string {
	return q.label
}

// OnLane reports whether ctx is executing on this queue.
func (q *Queue) OnLane(ctx context.Context) bool {
	lane, _ := ctx.Value(laneKey{}).(*Queue)
	return lane == q
}

// Submit runs op on the queue's lane and blocks until it completes,
// returning the operation's error.
//
// Submitting from within an operation already executing on this queue
// returns ErrReentrantSubmit without enqueuing anything.
func (q *Queue) Submit(ctx context.Context, op Op) error {
	if q.OnLane(ctx) {
		return ErrReentrantSubmit
	}
	res := make(chan error, 1)
	if err := q.enqueue(item{ctx: ctx, op: op, result: res}); err != nil {
		return err
	}
	return <-res
}

// SubmitAsync enqueues op without blocking the caller. Once the operation
// completes, done is invoked on the queue's lane with its error. A nil done
// discards the result.
//
// Reentrant async submission is allowed: the operation runs after the
// current one finishes, preserving FIFO order without risking deadlock.
func (q *Queue) SubmitAsync(ctx context.Context, op Op, done func(error)) error {
	return q.enqueue(item{ctx: ctx, op: op, callback: done})
}

func (q *Queue) enqueue(it item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, it)
	q.mu.Unlock()

	// Coalescing signal: buffer of 1 absorbs bursts.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// run is the worker loop: dequeue in admission order, execute, report.
func (q *Queue) run() {
	defer close(q.done)
	for {
		it, ok := q.dequeue()
		if !ok {
			return
		}
		err := q.execute(it)
		switch {
		case it.result != nil:
			it.result <- err
		case it.callback != nil:
			it.callback(err)
		}
	}
}

func (q *Queue) execute(it item) error {
	// Cancelled submissions are skipped, not executed.
	if err := it.ctx.Err(); err != nil {
		return err
	}
	laneCtx := context.WithValue(it.ctx, laneKey{}, q)
	return it.op(laneCtx)
}

// dequeue blocks until an item is available. Returns false once the queue
// is closed and drained.
func (q *Queue) dequeue() (item, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = item{} // release references for GC
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = q.items[:0:cap(q.items)]
			}
			q.mu.Unlock()
			return it, true
		}
		if q.closed {
			q.mu.Unlock()
			return item{}, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// Close stops accepting submissions, lets already-admitted operations run
// to completion, and waits for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	// Wake the worker if it is waiting on the signal.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	<-q.done
}
