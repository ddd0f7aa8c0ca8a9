package ripple

import (
	"sync"

	"github.com/rippledb/ripple/sqlite"
)

// TransactionObserver receives the writer's transaction lifecycle.
//
// Callbacks run synchronously on the writer's lane: an observer that blocks,
// blocks every write. Observers must complete promptly and must not run SQL
// on the writer's connection from within a callback.
type TransactionObserver interface {
	// WillBegin runs right after the transaction opens, before any
	// statement.
	WillBegin()

	// OnChange runs once per affected row during mutating statements, in
	// row order.
	OnChange(ev sqlite.RowChange)

	// WillCommit runs immediately before the commit is finalized.
	// Returning a non-nil error vetoes the commit: the transaction rolls
	// back and the write fails with an observer-veto error.
	WillCommit() error

	// DidCommit runs after the commit is durable.
	DidCommit()

	// DidRollback runs after the transaction aborts, whether from an
	// operation error, a veto, or an engine-forced rollback.
	DidRollback()
}

// ObserverExtent controls how long a registration lasts.
type ObserverExtent int

const (
	// ExtentUntilRemoved keeps the observer until RemoveObserver.
	ExtentUntilRemoved ObserverExtent = iota

	// ExtentNextTransaction removes the observer automatically after its
	// first DidCommit or DidRollback.
	ExtentNextTransaction
)

type observerEntry struct {
	obs    TransactionObserver
	extent ObserverExtent
}

// observerRegistry is the writer-owned list of transaction observers.
//
// Registration is safe from any goroutine; the fan-out methods are invoked
// only from the writer's lane. The registration mutex is distinct from the
// writer's lane and is never held while an observer callback runs.
type observerRegistry struct {
	mu      sync.Mutex
	entries []*observerEntry
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{}
}

func (r *observerRegistry) add(obs TransactionObserver, extent ObserverExtent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &observerEntry{obs: obs, extent: extent})
}

func (r *observerRegistry) remove(obs TransactionObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.obs != obs {
			kept = append(kept, e)
		}
	}
	r.entries = kept
}

// snapshot copies the entry list so callbacks run without the lock,
// letting observers register or remove observers from within a callback.
func (r *observerRegistry) snapshot() []*observerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*observerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *observerRegistry) willBegin() {
	for _, e := range r.snapshot() {
		e.obs.WillBegin()
	}
}

func (r *observerRegistry) onChange(ev sqlite.RowChange) {
	for _, e := range r.snapshot() {
		e.obs.OnChange(ev)
	}
}

// willCommit consults every observer; the first veto wins and the remaining
// observers are not asked.
func (r *observerRegistry) willCommit() error {
	for _, e := range r.snapshot() {
		if err := e.obs.WillCommit(); err != nil {
			return err
		}
	}
	return nil
}

func (r *observerRegistry) didCommit() {
	for _, e := range r.terminal() {
		e.obs.DidCommit()
	}
}

func (r *observerRegistry) didRollback() {
	for _, e := range r.terminal() {
		e.obs.DidRollback()
	}
}

// terminal snapshots the entries and prunes next-transaction registrations,
// which are spent after one terminal callback.
func (r *observerRegistry) terminal() []*observerEntry {
	r.mu.Lock()
	out := make([]*observerEntry, len(r.entries))
	copy(out, r.entries)
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.extent != ExtentNextTransaction {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	r.mu.Unlock()
	return out
}
