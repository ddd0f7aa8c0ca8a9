package ripple

import (
	"sync"

	"github.com/rippledb/ripple/sqlite"
)

// trackedRegion is one registered watched region with its invalidation sink.
type trackedRegion struct {
	id     string
	region sqlite.Region
	notify func()
}

// changeTracker maps the row-change events of the current write transaction
// onto the registered watched regions and, at commit, fires the
// invalidation sink of every region the transaction touched.
//
// The tracker is itself a TransactionObserver on the writer's registry, so
// its transaction-scoped state (staged) is only mutated on the writer lane.
// The region index is additionally guarded by a mutex because subscriptions
// register and unregister from arbitrary goroutines.
//
// Matching policy:
//   - insert and delete events touch every region interested in the table
//   - update events touch regions whose column interest intersects the
//     event's changed columns
//   - an update with an unknown column set is treated as table-wide, so a
//     mis-attributed statement can cause a spurious re-fetch but never a
//     missed one
type changeTracker struct {
	mu      sync.Mutex
	byTable map[string][]*trackedRegion

	// staged collects regions invalidated by the current transaction.
	// Committed eagerly at DidCommit, discarded wholesale at DidRollback.
	staged map[*trackedRegion]struct{}
}

func newChangeTracker() *changeTracker {
	return &changeTracker{
		byTable: make(map[string][]*trackedRegion),
		staged:  make(map[*trackedRegion]struct{}),
	}
}

func (t *changeTracker) register(tr *trackedRegion) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, table := range tr.region.Tables() {
		t.byTable[table] = append(t.byTable[table], tr)
	}
}

func (t *changeTracker) unregister(tr *trackedRegion) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, table := range tr.region.Tables() {
		regions := t.byTable[table]
		kept := regions[:0]
		for _, r := range regions {
			if r != tr {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(t.byTable, table)
		} else {
			t.byTable[table] = kept
		}
	}
	delete(t.staged, tr)
}

// regionCount returns the number of distinct registered regions.
func (t *changeTracker) regionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[*trackedRegion]struct{})
	for _, regions := range t.byTable {
		for _, r := range regions {
			seen[r] = struct{}{}
		}
	}
	return len(seen)
}

// WillBegin implements TransactionObserver.
func (t *changeTracker) WillBegin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.staged)
}

// OnChange implements TransactionObserver. Only regions indexed under the
// event's table are consulted, so unrelated tables cost nothing.
func (t *changeTracker) OnChange(ev sqlite.RowChange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	regions, ok := t.byTable[ev.Table]
	if !ok {
		return
	}
	for _, tr := range regions {
		if _, already := t.staged[tr]; already {
			continue
		}
		if t.matches(tr, ev) {
			t.staged[tr] = struct{}{}
		}
	}
}

func (t *changeTracker) matches(tr *trackedRegion, ev sqlite.RowChange) bool {
	if ev.Kind != sqlite.ChangeUpdate {
		// Inserts and deletes change row membership: every interest in
		// the table is affected regardless of columns.
		return tr.region.CoversTable(ev.Table)
	}
	return tr.region.OverlapsColumns(ev.Table, ev.Columns)
}

// WillCommit implements TransactionObserver. The tracker never vetoes.
func (t *changeTracker) WillCommit() error {
	return nil
}

// DidCommit implements TransactionObserver: fire each staged invalidation
// exactly once and reset.
func (t *changeTracker) DidCommit() {
	t.mu.Lock()
	fired := make([]*trackedRegion, 0, len(t.staged))
	for tr := range t.staged {
		fired = append(fired, tr)
	}
	clear(t.staged)
	t.mu.Unlock()

	for _, tr := range fired {
		tr.notify()
	}
}

// DidRollback implements TransactionObserver: an aborted transaction must
// leak no invalidations, even though events were staged before the abort.
func (t *changeTracker) DidRollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.staged)
}
