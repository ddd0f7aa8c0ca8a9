package ripple

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rippledb/ripple/internal/pool"
	"github.com/rippledb/ripple/internal/serial"
	"github.com/rippledb/ripple/sqlite"
)

// Database is the public entry point: it routes reads to the reader pool,
// writes to the single writer lane, and hosts the change-observation
// pipeline.
//
// Thread-safety model:
//   - all exported methods are safe from any goroutine
//   - the writer connection is touched only from the writer lane
//   - each reader connection is touched only from its own lane
type Database struct {
	path string
	cfg  Config

	writer  *serial.Queue
	wconn   *sqlite.Conn
	readers *pool.Pool

	registry *observerRegistry
	tracker  *changeTracker
	commits  *commitClock

	// tx is the writer's in-flight transaction state; auto is its
	// counterpart while the writer runs without a wrapping transaction.
	// Lane-owned: only the writer lane reads or writes them.
	tx   *txState
	auto *autocommitState

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// Stats is a point-in-time snapshot of the database's runtime state.
type Stats struct {
	// Commits is the number of write transactions committed so far.
	Commits int64 `json:"commits"`
	// Readers is the number of reader connections opened so far.
	Readers int `json:"readers"`
	// Subscriptions is the number of live value observations.
	Subscriptions int `json:"subscriptions"`
	// WatchedRegions is the number of registered watched regions.
	WatchedRegions int `json:"watched_regions"`
	// CachedStmts is the writer's statement cache population.
	CachedStmts int `json:"cached_stmts"`
}

// Open opens (creating if necessary) the database at path and starts the
// writer lane and reader pool.
func Open(path string, opts ...Option) (*Database, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	wconn, err := sqlite.Open(path, sqlite.OpenOptions{
		Label:             "writer",
		BusyTimeout:       cfg.BusyTimeout,
		ForeignKeys:       cfg.ForeignKeys,
		StmtCacheCapacity: cfg.StmtCacheCapacity,
	})
	if err != nil {
		return nil, &Error{Code: CodeConnection, Message: "opening writer", Err: err}
	}

	db := &Database{
		path:     path,
		cfg:      cfg,
		writer:   serial.New("writer"),
		wconn:    wconn,
		registry: newObserverRegistry(),
		tracker:  newChangeTracker(),
		commits:  &commitClock{},
		subs:     make(map[string]*Subscription),
	}
	db.readers = pool.New(db.openReader, cfg.MaxReaders, cfg.ReadTimeout)

	// The tracker participates as an ordinary observer; every other hook
	// consumer goes through the registry too.
	db.registry.add(db.tracker, ExtentUntilRemoved)
	wconn.SetChangeHook(db.onRowChange)
	wconn.SetCommitVeto(db.onWillCommit)
	wconn.SetRollbackHook(db.onForcedRollback)
	wconn.SetAutocommitHook(db.onAutocommitStatement)

	db.log().Info("database opened", "path", path, "max_readers", cfg.MaxReaders)
	return db, nil
}

func (db *Database) openReader(label string) (*sqlite.Conn, error) {
	conn, err := sqlite.Open(db.path, sqlite.OpenOptions{
		Label:             label,
		ReadOnly:          true,
		BusyTimeout:       db.cfg.BusyTimeout,
		ForeignKeys:       db.cfg.ForeignKeys,
		StmtCacheCapacity: db.cfg.StmtCacheCapacity,
	})
	if err != nil {
		return nil, &Error{Code: CodeConnection, Message: "opening " + label, Err: err}
	}
	db.log().Debug("reader opened", "label", label)
	return conn, nil
}

func (db *Database) log() *slog.Logger {
	if db.cfg.Logger != nil {
		return db.cfg.Logger
	}
	return slog.Default()
}

// Path returns the database file path.
func (db *Database) Path() string {
	return db.path
}

// Read runs op against a pooled read-only connection inside a snapshot
// read transaction. op sees every write committed strictly before the
// reader was acquired and nothing committed after.
func (db *Database) Read(ctx context.Context, op func(ctx context.Context, conn *sqlite.Conn) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	err := db.readers.WithReader(ctx, op)
	return db.wrapLaneErr("read", "reader", err)
}

// Read runs fetch on a pooled reader and returns its typed result.
func Read[T any](ctx context.Context, db *Database, fetch func(ctx context.Context, conn *sqlite.Conn) (T, error)) (T, error) {
	var out T
	err := db.Read(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		v, err := fetch(ctx, conn)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ReadAsync runs op like Read but does not block the caller; done (if
// non-nil) receives the outcome.
func (db *Database) ReadAsync(ctx context.Context, op func(ctx context.Context, conn *sqlite.Conn) error, done func(error)) {
	go func() {
		err := db.Read(ctx, op)
		if done != nil {
			done(err)
		}
	}()
}

// Write runs op on the writer lane wrapped in an immediate transaction:
// commit on success, rollback on error or ErrRollback.
func (db *Database) Write(ctx context.Context, op func(ctx context.Context, conn *sqlite.Conn) error) error {
	return db.WriteTx(ctx, sqlite.TxImmediate, op)
}

// WriteTx is Write with an explicit transaction kind. TxNone runs op
// without wrapping; each statement then commits on its own.
func (db *Database) WriteTx(ctx context.Context, kind sqlite.TxKind, op func(ctx context.Context, conn *sqlite.Conn) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	err := db.writer.Submit(ctx, func(ctx context.Context) error {
		return db.writeInLane(ctx, kind, op)
	})
	return db.wrapLaneErr("write", db.writer.Label(), err)
}

// WriteAsync submits op to the writer lane without blocking the caller;
// done (if non-nil) receives the outcome on the writer lane.
func (db *Database) WriteAsync(ctx context.Context, op func(ctx context.Context, conn *sqlite.Conn) error, done func(error)) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	err := db.writer.SubmitAsync(ctx, func(ctx context.Context) error {
		return db.writeInLane(ctx, sqlite.TxImmediate, op)
	}, done)
	return db.wrapLaneErr("write", db.writer.Label(), err)
}

// WriteBarrier runs op like Write after every in-flight read acquired
// before it has finished, and holds new reads off until op completes.
// Intended for schema changes.
func (db *Database) WriteBarrier(ctx context.Context, op func(ctx context.Context, conn *sqlite.Conn) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	err := db.readers.Barrier(ctx, func() error {
		return db.writer.Submit(ctx, func(ctx context.Context) error {
			return db.writeInLane(ctx, sqlite.TxExclusive, op)
		})
	})
	return db.wrapLaneErr("barrier", db.writer.Label(), err)
}

// AddObserver registers a transaction observer. Safe from any goroutine;
// callbacks arrive on the writer lane.
func (db *Database) AddObserver(obs TransactionObserver, extent ObserverExtent) {
	db.registry.add(obs, extent)
}

// RemoveObserver unregisters a transaction observer.
func (db *Database) RemoveObserver(obs TransactionObserver) {
	db.registry.remove(obs)
}

// Stats returns a snapshot of runtime counters.
func (db *Database) Stats() Stats {
	db.mu.Lock()
	subs := len(db.subs)
	db.mu.Unlock()
	return Stats{
		Commits:        db.commits.Current(),
		Readers:        db.readers.Size(),
		Subscriptions:  subs,
		WatchedRegions: db.tracker.regionCount(),
		CachedStmts:    db.wconn.CachedStmts(),
	}
}

// CommitSeq returns the sequence number of the latest committed write.
func (db *Database) CommitSeq() int64 {
	return db.commits.Current()
}

func (db *Database) checkOpen() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return &Error{Code: CodeClosed, Message: "database closed"}
	}
	return nil
}

// track registers a live subscription; false when the database is closed.
func (db *Database) track(s *Subscription) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false
	}
	db.subs[s.id] = s
	return true
}

func (db *Database) untrack(s *Subscription) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.subs, s.id)
}

// wrapLaneErr maps lane and pool sentinels onto the typed error taxonomy.
// Typed errors and operation errors pass through untouched.
func (db *Database) wrapLaneErr(opName, lane string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, serial.ErrReentrantSubmit):
		return &Error{Code: CodeReentrantCall, Message: opName + " submitted from its own lane", Lane: lane, Err: err}
	case errors.Is(err, serial.ErrQueueClosed), errors.Is(err, pool.ErrPoolClosed):
		return &Error{Code: CodeClosed, Message: opName + " on closed database", Lane: lane, Err: err}
	case errors.Is(err, pool.ErrExhausted):
		return &Error{Code: CodePoolExhausted, Message: "no reader available", Lane: lane, Err: err}
	default:
		return err
	}
}

// Close cancels every subscription, drains and closes the reader pool and
// the writer lane, and closes the connections. Close is idempotent.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	subs := make([]*Subscription, 0, len(db.subs))
	for _, s := range db.subs {
		subs = append(subs, s)
	}
	db.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}

	readerErr := db.readers.Close()
	db.writer.Close()
	writerErr := db.wconn.Close()

	db.log().Info("database closed", "path", db.path)
	if writerErr != nil {
		return fmt.Errorf("closing writer: %w", writerErr)
	}
	if readerErr != nil {
		return fmt.Errorf("closing readers: %w", readerErr)
	}
	return nil
}
