package sqlite

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/url"
	"time"

	"github.com/mattn/go-sqlite3"
)

// TxKind selects the SQLite transaction locking behavior.
type TxKind int

const (
	// TxDeferred acquires locks lazily, at the first read or write.
	TxDeferred TxKind = iota
	// TxImmediate takes the write lock up front, failing fast on contention.
	TxImmediate
	// TxExclusive takes an exclusive lock, blocking new readers.
	TxExclusive
)

// String returns the SQL keyword for the kind.
func (k TxKind) String() string {
	switch k {
	case TxImmediate:
		return "IMMEDIATE"
	case TxExclusive:
		return "EXCLUSIVE"
	default:
		return "DEFERRED"
	}
}

// OpenOptions configures a single connection.
type OpenOptions struct {
	// Label names the connection in errors and logs (e.g. "writer",
	// "reader-2").
	Label string

	// ReadOnly opens the database in read-only mode. The file must exist.
	ReadOnly bool

	// BusyTimeout is the engine-level wait applied before a statement
	// fails with SQLITE_BUSY. Zero means fail immediately.
	BusyTimeout time.Duration

	// ForeignKeys enables foreign key enforcement.
	ForeignKeys bool

	// StmtCacheCapacity bounds the prepared-statement cache.
	// Zero selects DefaultStmtCacheCapacity.
	StmtCacheCapacity int
}

// Conn is a single SQLite connection with a bounded prepared-statement
// cache and the hook surface the observation pipeline builds on.
//
// A Conn is not safe for concurrent use. Every Conn is owned by exactly one
// serial lane; all methods must be called from that lane.
type Conn struct {
	raw   *sqlite3.SQLiteConn
	cache *stmtCache
	label string
	ro    bool

	// compiling receives authorizer callbacks while a statement is being
	// prepared; executing attributes update-hook events to the statement
	// currently stepping. Lane-owned, never accessed concurrently.
	compiling *stmtInfo
	executing *stmtInfo

	// recording, when non-nil, accumulates the read region of every
	// statement run inside RecordingRegion.
	recording *Region

	changeHook     func(RowChange)
	commitVeto     func() error
	rollbackHook   func()
	autocommitDone func(err error)
	vetoErr        error
}

// Open opens one SQLite connection against the file at path.
//
// Read-write connections are configured with WAL journaling and NORMAL
// synchronous mode so readers are never blocked by the writer. Read-only
// connections keep whatever journal mode the writer established.
func Open(path string, o OpenOptions) (*Conn, error) {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprintf("%d", o.BusyTimeout.Milliseconds()))
	if o.ForeignKeys {
		q.Set("_foreign_keys", "on")
	}
	if o.ReadOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	dsn := fmt.Sprintf("file:%s?%s", path, q.Encode())

	drv := &sqlite3.SQLiteDriver{}
	ci, err := drv.Open(dsn)
	if err != nil {
		return nil, &ConnectionError{Label: o.Label, Path: path, Err: err}
	}
	raw, ok := ci.(*sqlite3.SQLiteConn)
	if !ok {
		_ = ci.Close()
		return nil, &ConnectionError{Label: o.Label, Path: path, Err: fmt.Errorf("unexpected driver connection type %T", ci)}
	}

	c := &Conn{
		raw:   raw,
		cache: newStmtCache(o.StmtCacheCapacity),
		label: o.Label,
		ro:    o.ReadOnly,
	}
	c.installHooks()
	return c, nil
}

// Label returns the connection's identity label.
func (c *Conn) Label() string {
	return c.label
}

// ReadOnly reports whether the connection was opened read-only.
func (c *Conn) ReadOnly() bool {
	return c.ro
}

// Close closes every cached statement and the underlying connection.
func (c *Conn) Close() error {
	c.cache.close()
	if err := c.raw.Close(); err != nil {
		return &ConnectionError{Label: c.label, Err: err}
	}
	return nil
}

// prepare compiles sql with the authorizer recording the statement's read
// and write regions.
func (c *Conn) prepare(sql string) (*stmtInfo, error) {
	info := &stmtInfo{sql: sql, reads: NewRegion(), writes: NewRegion()}
	c.compiling = info
	stmt, err := c.raw.Prepare(sql)
	c.compiling = nil
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", sql, err)
	}
	info.stmt = stmt
	return info, nil
}

// Exec runs a single statement through the statement cache.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	info, err := c.cache.get(c, sql)
	if err != nil {
		return Result{}, err
	}
	vals, err := toDriverValues(args)
	if err != nil {
		return Result{}, err
	}

	c.executing = info
	res, err := info.stmt.Exec(vals)
	c.executing = nil
	if c.autocommitDone != nil && !c.InTransaction() {
		c.autocommitDone(err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("exec %q: %w", sql, err)
	}

	var out Result
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	return out, nil
}

// Query runs a single SELECT through the statement cache and returns a
// cursor over its results. When region recording is active the statement's
// read region is merged into the recording.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := c.cache.get(c, sql)
	if err != nil {
		return nil, err
	}
	if c.recording != nil {
		c.recording.Merge(info.reads)
	}
	vals, err := toDriverValues(args)
	if err != nil {
		return nil, err
	}
	dr, err := info.stmt.Query(vals)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", sql, err)
	}
	return &Rows{dr: dr, cols: dr.Columns()}, nil
}

// QueryInt64 runs a single-value query and scans its first column.
// Convenient for COUNTs and pragma reads.
func (c *Conn) QueryInt64(ctx context.Context, sql string, args ...any) (int64, error) {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("query %q: no rows", sql)
	}
	var v int64
	if err := rows.Scan(&v); err != nil {
		return 0, err
	}
	return v, rows.Close()
}

// ExecScript runs a multi-statement SQL script, bypassing the statement
// cache. Intended for schema DDL; row-change attribution is not available
// for script statements.
func (c *Conn) ExecScript(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.raw.Exec(script, nil)
	if c.autocommitDone != nil && !c.InTransaction() {
		c.autocommitDone(err)
	}
	if err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

// RecordingRegion runs fn and returns the union of the read regions of
// every statement executed through Query during fn.
func (c *Conn) RecordingRegion(fn func() error) (Region, error) {
	region := NewRegion()
	prev := c.recording
	c.recording = &region
	err := fn()
	c.recording = prev
	return region, err
}

// Begin opens a transaction of the given kind. Any veto error left over
// from an earlier commit attempt is discarded so it cannot be misattributed
// to the new transaction.
func (c *Conn) Begin(ctx context.Context, kind TxKind) error {
	c.vetoErr = nil
	_, err := c.Exec(ctx, "BEGIN "+kind.String())
	return err
}

// Commit commits the open transaction. If a commit-veto callback rejected
// the commit, the engine converts it into a rollback and Commit returns the
// engine error; retrieve the observer's error with TakeVetoError.
func (c *Conn) Commit(ctx context.Context) error {
	_, err := c.Exec(ctx, "COMMIT")
	return err
}

// Rollback aborts the open transaction. A rollback on an already-aborted
// transaction is tolerated so error paths can always issue it.
func (c *Conn) Rollback(ctx context.Context) error {
	if !c.InTransaction() {
		return nil
	}
	_, err := c.Exec(ctx, "ROLLBACK")
	return err
}

// InTransaction reports whether a transaction is open, as tracked by the
// engine itself. This stays correct across engine-forced rollbacks.
func (c *Conn) InTransaction() bool {
	return !c.raw.AutoCommit()
}

// CachedStmts returns the number of statements currently cached. Unlike
// the rest of the Conn surface it is safe from any goroutine, so stats
// snapshots need not enter the lane.
func (c *Conn) CachedStmts() int {
	return c.cache.len()
}

var _ driver.Conn = (*sqlite3.SQLiteConn)(nil)
