package ripple

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/rippledb/ripple/sqlite"
)

// subscriptionState is the scheduler state machine per subscription:
// Idle -> Fetching -> Delivering -> Idle, with Cancelled terminal and
// reachable from any state. Transitions happen under the subscription
// mutex; the cancelled check repeats at every boundary.
type subscriptionState int

const (
	stateIdle subscriptionState = iota
	stateFetching
	stateDelivering
	stateCancelled
)

// Subscription is a live value observation. Cancel stops deliveries;
// in-flight fetch work winds down without delivering further values.
type Subscription struct {
	id string
	db *Database
	tr *trackedRegion

	fetch   func(ctx context.Context, conn *sqlite.Conn) (any, error)
	equals  func(prev, next any) bool
	always  bool
	deliver func(any)
	onError func(error)
	exec    func(func())

	mu      sync.Mutex
	state   subscriptionState
	pending bool
	last    any

	signal chan struct{} // invalidation wakeup, buffered 1
	stop   chan struct{}
	done   chan struct{} // worker exited
}

// ObserveOption configures a single observation.
type ObserveOption[T any] func(*observeConfig[T])

type observeConfig[T any] struct {
	equals    func(prev, next T) bool
	always    bool
	deliverOn func(func())
	onError   func(error)
}

// WithEquals replaces the deduplication predicate. The default compares
// with reflect.DeepEqual.
func WithEquals[T any](eq func(prev, next T) bool) ObserveOption[T] {
	return func(c *observeConfig[T]) { c.equals = eq }
}

// AlwaysDeliver disables deduplication: every invalidation cycle delivers,
// even when the fetched value is unchanged. For side-effecting observers.
func AlwaysDeliver[T any]() ObserveOption[T] {
	return func(c *observeConfig[T]) { c.always = true }
}

// DeliverOn routes deliveries through exec, e.g. a UI or actor loop.
// The default invokes the callback on the subscription's own goroutine.
func DeliverOn[T any](exec func(func())) ObserveOption[T] {
	return func(c *observeConfig[T]) { c.deliverOn = exec }
}

// OnError receives fetch errors. Each error is surfaced once; the
// subscription returns to idle and retries on the next invalidation.
func OnError[T any](fn func(error)) ObserveOption[T] {
	return func(c *observeConfig[T]) { c.onError = fn }
}

// Observe starts a value observation of fetch and delivers its result to
// onValue: once immediately, then again after every committed write that
// touches the fetch's watched region and changes its value.
//
// The initial fetch runs on the writer lane under region instrumentation,
// so no commit can slip between the snapshot and the region registration.
// Re-fetches go through the reader pool. Calling Observe from inside a
// write operation is a reentrancy error.
func Observe[T any](ctx context.Context, db *Database, fetch func(ctx context.Context, conn *sqlite.Conn) (T, error), onValue func(T), opts ...ObserveOption[T]) (*Subscription, error) {
	cfg := observeConfig[T]{
		equals: func(prev, next T) bool { return reflect.DeepEqual(prev, next) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Subscription{
		id: uuid.NewString(),
		db: db,
		fetch: func(ctx context.Context, conn *sqlite.Conn) (any, error) {
			return fetch(ctx, conn)
		},
		equals: func(prev, next any) bool {
			return cfg.equals(prev.(T), next.(T))
		},
		always:  cfg.always,
		deliver: func(v any) { onValue(v.(T)) },
		onError: cfg.onError,
		exec:    cfg.deliverOn,
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if !db.track(s) {
		return nil, &Error{Code: CodeClosed, Message: "observe on closed database"}
	}
	err := db.writer.Submit(ctx, func(ctx context.Context) error {
		return db.startObservation(ctx, s)
	})
	if err != nil {
		db.untrack(s)
		return nil, db.wrapLaneErr("observe", db.writer.Label(), err)
	}

	go s.run()
	return s, nil
}

// startObservation runs on the writer lane: snapshot fetch under region
// recording, registration, then the initial delivery, all before any later
// commit can be processed, so no change can fall into a gap.
func (db *Database) startObservation(ctx context.Context, s *Subscription) error {
	conn := db.wconn
	if err := conn.Begin(ctx, sqlite.TxDeferred); err != nil {
		return err
	}
	defer conn.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // read tx teardown

	var initial any
	region, err := conn.RecordingRegion(func() error {
		v, err := s.fetch(ctx, conn)
		if err != nil {
			return err
		}
		initial = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("initial fetch: %w", err)
	}

	s.tr = &trackedRegion{id: s.id, region: region, notify: s.invalidated}
	db.tracker.register(s.tr)
	s.last = initial
	s.deliverValue(initial)
	db.log().Debug("observation started", "subscription", s.id, "region", region.String())
	return nil
}

// invalidated is the tracker's sink, called on the writer lane at commit.
// It must stay prompt: flip state, set the coalescing signal, return.
func (s *Subscription) invalidated() {
	s.mu.Lock()
	switch s.state {
	case stateCancelled:
		s.mu.Unlock()
		return
	case stateFetching, stateDelivering:
		// A fetch cycle is in flight; coalesce this invalidation into
		// one pending re-fetch.
		s.pending = true
		s.mu.Unlock()
		return
	default:
		s.state = stateFetching
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// run is the subscription's fetch loop.
func (s *Subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.signal:
		}
		if !s.fetchCycle() {
			return
		}
	}
}

// fetchCycle performs one or more fetch/deliver rounds, looping while the
// pending flag re-arms, and settles back to idle. Returns false when the
// subscription was cancelled.
func (s *Subscription) fetchCycle() bool {
	for {
		v, err := s.refetch()

		s.mu.Lock()
		if s.state == stateCancelled {
			s.mu.Unlock()
			return false
		}
		if err != nil {
			s.state = stateIdle
			rearm := s.pending
			s.pending = false
			s.mu.Unlock()
			if s.onError != nil {
				s.onError(err)
			}
			if rearm {
				// An invalidation arrived during the failed fetch;
				// retry rather than dropping it.
				s.mu.Lock()
				s.state = stateFetching
				s.mu.Unlock()
				continue
			}
			return true
		}

		changed := s.always || !s.equals(s.last, v)
		s.last = v
		if changed {
			s.state = stateDelivering
		}
		s.mu.Unlock()

		if changed {
			s.deliverValue(v)
		}

		s.mu.Lock()
		if s.state == stateCancelled {
			s.mu.Unlock()
			return false
		}
		if s.pending {
			s.pending = false
			s.state = stateFetching
			s.mu.Unlock()
			continue
		}
		s.state = stateIdle
		s.mu.Unlock()
		return true
	}
}

// refetch re-runs the fetch through the reader pool.
func (s *Subscription) refetch() (any, error) {
	var v any
	err := s.db.readers.WithReader(context.Background(), func(ctx context.Context, conn *sqlite.Conn) error {
		val, err := s.fetch(ctx, conn)
		if err != nil {
			return err
		}
		v = val
		return nil
	})
	return v, err
}

// deliverValue invokes the subscriber callback on the configured execution
// context, re-checking cancellation immediately before the callback.
func (s *Subscription) deliverValue(v any) {
	invoke := func() {
		s.mu.Lock()
		cancelled := s.state == stateCancelled
		s.mu.Unlock()
		if cancelled {
			return
		}
		s.deliver(v)
	}
	if s.exec != nil {
		s.exec(invoke)
		return
	}
	invoke()
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Region returns the watched region derived from the tracked fetch.
func (s *Subscription) Region() sqlite.Region {
	return s.tr.region
}

// Cancel terminates the subscription. The cancelled state is re-checked
// immediately before every delivery, so no delivery is admitted once the
// subscription is cancelled; a callback already running when Cancel is
// called may still complete, since Cancel must not block on it to stay
// safe to call from a delivery callback. An in-flight fetch runs to
// completion and its result is discarded. Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.state == stateCancelled {
		s.mu.Unlock()
		return
	}
	s.state = stateCancelled
	s.mu.Unlock()

	if s.tr != nil {
		s.db.tracker.unregister(s.tr)
	}
	s.db.untrack(s)
	close(s.stop)
}
