package ripple

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rippledb/ripple/internal/testutil"
	"github.com/rippledb/ripple/sqlite"
)

const testSchema = `
CREATE TABLE items (
	id    INTEGER PRIMARY KEY,
	name  TEXT NOT NULL,
	price REAL NOT NULL DEFAULT 0
);
CREATE TABLE players (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);
`

// openTestDB opens a fresh database with the items/players schema applied.
func openTestDB(t *testing.T, opts ...Option) *Database {
	t.Helper()
	db, err := Open(testutil.TempDB(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test teardown

	err = db.Write(context.Background(), func(ctx context.Context, conn *sqlite.Conn) error {
		return conn.ExecScript(ctx, testSchema)
	})
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db *Database) int64 {
	t.Helper()
	n, err := Read(context.Background(), db, func(ctx context.Context, conn *sqlite.Conn) (int64, error) {
		return conn.QueryInt64(ctx, "SELECT count(*) FROM items")
	})
	require.NoError(t, err)
	return n
}

func TestDatabase_WriteThenRead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		_, err := conn.Exec(ctx, "INSERT INTO items (name, price) VALUES (?, ?)", "sword", 9.5)
		return err
	})
	require.NoError(t, err)

	name, err := Read(ctx, db, func(ctx context.Context, conn *sqlite.Conn) (string, error) {
		rows, err := conn.Query(ctx, "SELECT name FROM items")
		if err != nil {
			return "", err
		}
		defer rows.Close()
		var n string
		require.True(t, rows.Next())
		if err := rows.Scan(&n); err != nil {
			return "", err
		}
		return n, rows.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, "sword", name)
	assert.Equal(t, int64(1), countItems(t, db))
}

func TestDatabase_WriteErrorRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		if _, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')"); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('b')"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(0), countItems(t, db), "a failed write leaves no trace")
}

func TestDatabase_ErrRollbackIsSilent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		if _, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')"); err != nil {
			return err
		}
		return ErrRollback
	})
	require.NoError(t, err, "ErrRollback aborts the transaction without failing the write")
	assert.Equal(t, int64(0), countItems(t, db))
}

func TestDatabase_WriteTxNoneAutocommits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.WriteTx(ctx, TxNone, func(ctx context.Context, conn *sqlite.Conn) error {
		if _, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Without a wrapping transaction each statement commits on its own, so
	// the insert survives the operation error.
	assert.Equal(t, int64(1), countItems(t, db))
}

func TestDatabase_AutocommitAdvancesCommitSeq(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := db.CommitSeq()
	require.NoError(t, db.WriteTx(ctx, TxNone, func(ctx context.Context, conn *sqlite.Conn) error {
		if _, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')"); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('b')")
		return err
	}))

	// Each unwrapped statement is its own transaction on the clock.
	assert.Equal(t, base+2, db.CommitSeq())
}

func TestDatabase_ReentrantWriteFailsFast(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		return db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
			return nil
		})
	})
	require.Error(t, err)
	assert.True(t, IsReentrantCall(err), "got %v", err)
}

func TestDatabase_ReadFromWriteIsAllowed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		_, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')")
		return err
	}))

	// A read submitted from the writer lane lands on a reader lane, which
	// is a different lane, so it is not reentrant. Its snapshot predates
	// the open transaction.
	err := db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		if _, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('b')"); err != nil {
			return err
		}
		n, err := Read(ctx, db, func(ctx context.Context, conn *sqlite.Conn) (int64, error) {
			return conn.QueryInt64(ctx, "SELECT count(*) FROM items")
		})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), n, "the nested read must not see the uncommitted insert")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), countItems(t, db))
}

func TestDatabase_WriteAsync(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	outcome := make(chan error, 1)
	err := db.WriteAsync(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		_, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')")
		return err
	}, func(err error) { outcome <- err })
	require.NoError(t, err)

	select {
	case err := <-outcome:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("async write outcome never delivered")
	}
	assert.Equal(t, int64(1), countItems(t, db))
}

func TestDatabase_ReadAsync(t *testing.T) {
	db := openTestDB(t)

	outcome := make(chan error, 1)
	db.ReadAsync(context.Background(), func(ctx context.Context, conn *sqlite.Conn) error {
		_, err := conn.QueryInt64(ctx, "SELECT count(*) FROM items")
		return err
	}, func(err error) { outcome <- err })

	select {
	case err := <-outcome:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("async read outcome never delivered")
	}
}

func TestDatabase_SnapshotIsolatedFromConcurrentWrite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		_, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')")
		return err
	}))

	inRead := make(chan struct{})
	wrote := make(chan struct{})
	readDone := make(chan error, 1)

	go func() {
		readDone <- db.Read(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
			close(inRead)
			<-wrote
			n, err := conn.QueryInt64(ctx, "SELECT count(*) FROM items")
			if err != nil {
				return err
			}
			assert.Equal(t, int64(1), n, "snapshot excludes the write committed after acquisition")
			return nil
		})
	}()

	<-inRead
	require.NoError(t, db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		_, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('b')")
		return err
	}))
	close(wrote)
	require.NoError(t, <-readDone)

	assert.Equal(t, int64(2), countItems(t, db), "a fresh read sees both rows")
}

func TestDatabase_WriteConflictBetweenHandles(t *testing.T) {
	path := testutil.TempDB(t)

	first, err := Open(path)
	require.NoError(t, err)
	defer first.Close() //nolint:errcheck // test teardown
	ctx := context.Background()

	require.NoError(t, first.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		return conn.ExecScript(ctx, testSchema)
	}))

	second, err := Open(path,
		WithBusyTimeout(10*time.Millisecond),
		WithBusyRetry(1, time.Millisecond))
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck // test teardown

	holding := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- first.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
			if _, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')"); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	err = second.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		_, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('b')")
		return err
	})
	require.Error(t, err)
	assert.True(t, IsWriteConflict(err), "got %v", err)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestDatabase_WriteBarrier(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WriteBarrier(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
		return conn.ExecScript(ctx, "ALTER TABLE items ADD COLUMN qty INTEGER NOT NULL DEFAULT 1")
	})
	require.NoError(t, err)

	qty, err := Read(ctx, db, func(ctx context.Context, conn *sqlite.Conn) (int64, error) {
		if _, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('a')"); err == nil {
			t.Error("reader connection accepted a write")
		}
		return conn.QueryInt64(ctx, "SELECT count(*) FROM pragma_table_info('items') WHERE name = 'qty'")
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), qty, "schema change visible after the barrier write")
}

func TestDatabase_CommitSeq(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := db.CommitSeq() // schema setup already committed once
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
			_, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('x')")
			return err
		}))
	}
	assert.Equal(t, base+3, db.CommitSeq())

	// A rolled-back write does not advance the clock.
	_ = db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error { return ErrRollback })
	assert.Equal(t, base+3, db.CommitSeq())
}

func TestDatabase_Stats(t *testing.T) {
	db := openTestDB(t)

	st := db.Stats()
	assert.GreaterOrEqual(t, st.Commits, int64(1))
	assert.Zero(t, st.Subscriptions)
	assert.Zero(t, st.WatchedRegions)

	_ = countItems(t, db)
	st = db.Stats()
	assert.GreaterOrEqual(t, st.Readers, 1)
	assert.GreaterOrEqual(t, st.CachedStmts, 1)
}

func TestDatabase_StatsConcurrentWithWrites(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Stats reads the writer's statement-cache size from the caller's
	// goroutine while the writer lane prepares fresh statements. Run both
	// sides hard so the race detector covers the crossing.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = db.Stats()
			}
		}
	}()

	for i := 0; i < 20; i++ {
		n := i
		require.NoError(t, db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
			// Vary the SQL text so every statement is a cache miss.
			_, err := conn.Exec(ctx, fmt.Sprintf("INSERT INTO items (name) VALUES ('s%d')", n))
			return err
		}))
	}
	close(stop)
	wg.Wait()

	assert.GreaterOrEqual(t, db.Stats().CachedStmts, 1)
}

func TestDatabase_UseAfterClose(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")

	ctx := context.Background()
	err := db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error { return nil })
	assert.True(t, IsClosed(err), "got %v", err)

	err = db.Read(ctx, func(ctx context.Context, conn *sqlite.Conn) error { return nil })
	assert.True(t, IsClosed(err), "got %v", err)
}

func TestDatabase_ConcurrentReadsAndWrites(t *testing.T) {
	db := openTestDB(t, WithMaxReaders(3))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- db.Write(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
				_, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES ('x')")
				return err
			})
		}()
		go func() {
			defer wg.Done()
			errs <- db.Read(ctx, func(ctx context.Context, conn *sqlite.Conn) error {
				_, err := conn.QueryInt64(ctx, "SELECT count(*) FROM items")
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(8), countItems(t, db))
}

func TestDatabase_OpenFailure(t *testing.T) {
	_, err := Open("/nonexistent-dir/sub/test.db")
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, CodeConnection, e.Code)
}
