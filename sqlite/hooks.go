package sqlite

import (
	"github.com/mattn/go-sqlite3"
)

// ChangeKind distinguishes row-change event kinds.
type ChangeKind int

const (
	// ChangeInsert is a row insertion.
	ChangeInsert ChangeKind = iota + 1
	// ChangeUpdate is a row update; see RowChange.Columns.
	ChangeUpdate
	// ChangeDelete is a row deletion.
	ChangeDelete
)

// String returns the lowercase kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RowChange is one row-level change reported by the engine during a write.
// Events exist only for the lifetime of the transaction that produced them.
type RowChange struct {
	Kind  ChangeKind
	Table string
	RowID int64

	// Columns is the set of columns the owning statement may have changed.
	// Only meaningful for updates. A nil slice means the column set is
	// unknown and consumers must assume every column changed.
	Columns []string
}

// SQLite authorizer action codes the driver does not export.
// See https://sqlite.org/c3ref/c_alter_table.html.
const (
	authDelete = 9  // SQLITE_DELETE
	authInsert = 18 // SQLITE_INSERT
	authRead   = 20 // SQLITE_READ
	authUpdate = 23 // SQLITE_UPDATE

	authOK = 0 // SQLITE_OK
)

// installHooks wires the driver-level callbacks. Called once at Open.
//
// The authorizer serves double duty: while a statement is being prepared it
// records the statement's read region and write effects into c.compiling;
// it never denies anything.
func (c *Conn) installHooks() {
	c.raw.RegisterAuthorizer(func(op int, arg1, arg2, _ string) int {
		info := c.compiling
		if info == nil {
			return authOK
		}
		switch op {
		case authRead:
			info.reads.AddColumn(arg1, arg2)
		case authInsert, authDelete:
			info.writes.AddTable(arg1)
		case authUpdate:
			info.writes.AddColumn(arg1, arg2)
		}
		return authOK
	})

	c.raw.RegisterUpdateHook(func(op int, _ string, table string, rowid int64) {
		if c.changeHook == nil {
			return
		}
		ev := RowChange{Table: table, RowID: rowid}
		switch op {
		case sqlite3.SQLITE_INSERT:
			ev.Kind = ChangeInsert
		case sqlite3.SQLITE_DELETE:
			ev.Kind = ChangeDelete
		case sqlite3.SQLITE_UPDATE:
			ev.Kind = ChangeUpdate
			ev.Columns = c.executingUpdateColumns(table)
		default:
			return
		}
		c.changeHook(ev)
	})

	c.raw.RegisterCommitHook(func() int {
		if c.commitVeto == nil {
			return 0
		}
		if err := c.commitVeto(); err != nil {
			c.vetoErr = err
			return 1 // converts the commit into a rollback
		}
		return 0
	})

	c.raw.RegisterRollbackHook(func() {
		if c.rollbackHook != nil {
			c.rollbackHook()
		}
	})
}

// executingUpdateColumns resolves the changed-column set for an update event
// from the write effects of the statement currently stepping.
// Returns nil (unknown) when no statement is attributed, or when the
// statement's effect on the table is table-wide.
func (c *Conn) executingUpdateColumns(table string) []string {
	if c.executing == nil {
		return nil
	}
	cols, whole := c.executing.writes.ColumnsFor(table)
	if whole {
		return nil
	}
	return cols
}

// SetChangeHook registers fn to receive one RowChange per affected row
// during mutating statements. Invoked synchronously on the connection's
// lane; fn must not run SQL on the same connection.
func (c *Conn) SetChangeHook(fn func(RowChange)) {
	c.changeHook = fn
}

// SetCommitVeto registers fn to be consulted immediately before each commit.
// A non-nil error vetoes the commit, converting it into a rollback; the
// error is surfaced from Commit via TakeVetoError.
func (c *Conn) SetCommitVeto(fn func() error) {
	c.commitVeto = fn
}

// SetRollbackHook registers fn to run whenever a transaction on this
// connection rolls back, including rollbacks forced by the engine.
func (c *Conn) SetRollbackHook(fn func()) {
	c.rollbackHook = fn
}

// SetAutocommitHook registers fn to run after every statement executed
// outside an explicit transaction, with the statement's error. Such
// statements commit (or roll back) on their own, so this is the only
// boundary at which their outcome is known. Invoked synchronously on the
// connection's lane.
func (c *Conn) SetAutocommitHook(fn func(err error)) {
	c.autocommitDone = fn
}

// TakeVetoError returns and clears the error produced by a commit-veto
// callback during the most recent Commit attempt.
func (c *Conn) TakeVetoError() error {
	err := c.vetoErr
	c.vetoErr = nil
	return err
}
