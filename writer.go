package ripple

import (
	"context"
	"errors"
	"time"

	"github.com/rippledb/ripple/sqlite"
)

// TxNone opts out of transaction wrapping. Wrapping is an explicit
// parameter, never inferred from call shape: Write wraps in TxImmediate,
// WriteTx takes a kind, TxNone runs the operation bare.
const TxNone sqlite.TxKind = -1

// txState is the writer's view of the transaction in flight. Lane-owned.
type txState struct {
	events  []sqlite.RowChange
	aborted bool
}

// autocommitState tracks the observer lifecycle while the writer runs
// outside an explicit transaction. Each statement is its own transaction
// there, so the lifecycle opens and closes per statement. Lane-owned.
type autocommitState struct {
	began bool  // willBegin fired for the statement in flight
	veto  error // commit veto raised by an observer against a statement
}

// writeInLane runs on the writer's lane: wrap op in a transaction of the
// given kind, drive the observer registry around it, and enforce the busy
// retry policy on BEGIN and COMMIT.
func (db *Database) writeInLane(ctx context.Context, kind sqlite.TxKind, op func(ctx context.Context, conn *sqlite.Conn) error) error {
	conn := db.wconn

	// Already inside a transaction opened by an enclosing operation on
	// this lane: run without double-wrapping, the outer operation owns
	// the lifecycle.
	if conn.InTransaction() {
		return op(ctx, conn)
	}

	// Explicit opt-out of wrapping. Statements commit on their own, so
	// the observer lifecycle runs per statement instead of per operation.
	if kind == TxNone {
		return db.autocommitInLane(ctx, op)
	}

	if err := db.retryBusy(ctx, "begin", func() error {
		return conn.Begin(ctx, kind)
	}); err != nil {
		return err
	}

	db.tx = &txState{}
	defer func() { db.tx = nil }()

	db.registry.willBegin()

	opErr := op(ctx, conn)
	switch {
	case errors.Is(opErr, ErrRollback):
		// Cancellation requested by the operation: roll back, succeed.
		db.rollbackInLane(ctx, conn)
		return nil
	case opErr != nil:
		db.rollbackInLane(ctx, conn)
		return opErr
	case db.tx.aborted:
		// The engine already rolled back (e.g. ON CONFLICT ROLLBACK) and
		// the operation swallowed the error.
		db.rollbackInLane(ctx, conn)
		return &Error{Code: CodeWriteConflict, Message: "transaction rolled back by the engine", Lane: db.writer.Label()}
	default:
		return db.commitInLane(ctx, conn)
	}
}

// autocommitInLane runs op bare on the writer connection. The connection
// reports each statement boundary through the autocommit hook, and
// onAutocommitStatement closes the lifecycle that the change and commit
// hooks opened for that statement. A committed statement still advances
// the commit clock and reaches DidCommit, so observation refetch triggers
// exactly as it would for a wrapped write.
func (db *Database) autocommitInLane(ctx context.Context, op func(ctx context.Context, conn *sqlite.Conn) error) error {
	db.auto = &autocommitState{}
	defer func() { db.auto = nil }()

	opErr := op(ctx, db.wconn)

	// Statements that bypass per-statement reporting (scripts ended
	// mid-failure, manual transactions left open) can leave a lifecycle
	// dangling; settle it with the operation's overall outcome.
	if db.auto.began {
		db.auto.began = false
		if opErr == nil {
			db.commits.Next()
			db.registry.didCommit()
		} else {
			db.registry.didRollback()
		}
	}

	if opErr != nil && db.auto.veto != nil {
		return &Error{Code: CodeObserverVeto, Message: "commit vetoed by observer", Lane: db.writer.Label(), Err: db.auto.veto}
	}
	return opErr
}

// onAutocommitStatement is the connection's autocommit hook: it runs after
// every statement executed outside an explicit transaction, with the
// statement's error. Writer lane only.
func (db *Database) onAutocommitStatement(stmtErr error) {
	if db.auto == nil {
		// Not in an autocommit operation. The wrapped-transaction path
		// owns the veto error (commitInLane collects it), so leave it.
		return
	}
	if veto := db.wconn.TakeVetoError(); veto != nil {
		db.auto.veto = veto
	}
	if !db.auto.began {
		return
	}
	db.auto.began = false
	if stmtErr == nil {
		seq := db.commits.Next()
		db.registry.didCommit()
		db.log().Debug("autocommit statement committed", "seq", seq)
	} else {
		db.registry.didRollback()
	}
}

// commitInLane commits with busy retries. A veto from an observer's
// WillCommit has already rolled the transaction back by the time COMMIT
// returns; it is surfaced as an observer-veto error, never retried.
func (db *Database) commitInLane(ctx context.Context, conn *sqlite.Conn) error {
	err := db.retryBusy(ctx, "commit", func() error {
		err := conn.Commit(ctx)
		if veto := conn.TakeVetoError(); veto != nil {
			return &Error{Code: CodeObserverVeto, Message: "commit vetoed by observer", Err: veto}
		}
		return err
	})
	if err != nil {
		db.rollbackInLane(ctx, conn)
		return err
	}

	seq := db.commits.Next()
	changes := len(db.tx.events)
	db.registry.didCommit()
	db.log().Debug("transaction committed", "seq", seq, "changes", changes)
	return nil
}

// rollbackInLane rolls back (tolerating an engine-forced abort that already
// ended the transaction) and fires DidRollback exactly once.
func (db *Database) rollbackInLane(ctx context.Context, conn *sqlite.Conn) {
	if err := conn.Rollback(context.WithoutCancel(ctx)); err != nil {
		db.log().Error("rollback failed", "error", err)
	}
	db.registry.didRollback()
}

// retryBusy runs attempt, retrying transient busy/locked failures with
// linear backoff per the configured policy. Exhaustion surfaces a
// write-conflict error. Non-busy errors pass through untouched.
func (db *Database) retryBusy(ctx context.Context, stage string, attempt func() error) error {
	var err error
	for try := 0; ; try++ {
		err = attempt()
		if err == nil || !sqlite.IsBusy(err) {
			return err
		}
		if try >= db.cfg.BusyRetries {
			break
		}
		db.log().Debug("busy, retrying", "stage", stage, "attempt", try+1)
		backoff := time.Duration(try+1) * db.cfg.BusyBackoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return &Error{
		Code:    CodeWriteConflict,
		Message: "write conflict: busy after " + stage + " retries exhausted",
		Lane:    db.writer.Label(),
		Err:     err,
	}
}

// onRowChange is the connection's change hook: record the event on the
// transaction and fan it out to observers. In autocommit mode the first
// event of a statement opens the lifecycle, since no BEGIN ran for it.
// Writer lane only.
func (db *Database) onRowChange(ev sqlite.RowChange) {
	if db.tx != nil {
		db.tx.events = append(db.tx.events, ev)
	} else if db.auto != nil && !db.auto.began {
		db.auto.began = true
		db.registry.willBegin()
	}
	db.registry.onChange(ev)
}

// onWillCommit is the connection's commit veto hook. Statements without
// row-change events (pure DDL) reach the commit hook with the lifecycle
// still closed in autocommit mode; open it so WillBegin always precedes
// WillCommit.
func (db *Database) onWillCommit() error {
	if db.auto != nil && !db.auto.began {
		db.auto.began = true
		db.registry.willBegin()
	}
	return db.registry.willCommit()
}

// onForcedRollback is the connection's rollback hook, covering rollbacks
// the engine performs on its own (e.g. ON CONFLICT ROLLBACK, commit-hook
// vetoes). Inside a wrapped transaction it only flags the state;
// DidRollback is fired once by the lane code that owns the outcome. In
// autocommit mode the rollback ends the statement's implicit transaction,
// so the lifecycle closes here.
func (db *Database) onForcedRollback() {
	if db.tx != nil {
		db.tx.aborted = true
		return
	}
	if db.auto != nil && db.auto.began {
		db.auto.began = false
		db.registry.didRollback()
	}
}
