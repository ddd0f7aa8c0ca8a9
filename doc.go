// Package ripple is a reactive access layer for embedded SQLite: one
// serialized writer, a bounded pool of snapshot readers, and value
// observation that re-runs a tracked fetch whenever a committed write
// touches the data it depends on.
//
// Concurrency model:
//
// Every connection is owned by exactly one serial lane. Callers may be
// many goroutines, but each connection processes one operation at a time
// in admission order. Readers run inside deferred WAL transactions pinned
// to a snapshot at acquisition, so they never observe a partially
// committed write and never block the writer.
//
// Observation pipeline:
//
// The writer's engine hooks feed a transaction observer registry. The
// change tracker, itself an observer, stages the watched regions each
// transaction invalidates and fires them at commit; a rollback discards
// the stage wholesale. Each subscription coalesces invalidation bursts
// into at most one re-fetch per cycle, deduplicates unchanged values, and
// delivers on its configured execution context.
//
// Minimal usage:
//
//	db, err := ripple.Open("app.db")
//	...
//	sub, err := ripple.Observe(ctx, db,
//		func(ctx context.Context, conn *sqlite.Conn) (int64, error) {
//			return conn.QueryInt64(ctx, "SELECT count(*) FROM items")
//		},
//		func(n int64) { fmt.Println("items:", n) },
//	)
//	defer sub.Cancel()
package ripple
