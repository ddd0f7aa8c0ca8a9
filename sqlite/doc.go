// Package sqlite wraps a raw mattn/go-sqlite3 driver connection with the
// surface the rest of ripple builds on: a bounded LRU prepared-statement
// cache, explicit transaction control, and the engine hooks (update, commit,
// rollback, authorizer) that feed the change-observation pipeline.
//
// The package deliberately bypasses database/sql. The standard pool hands
// out arbitrary connections per call, which makes single-writer
// serialization, snapshot-pinned readers, and per-connection hook state
// impossible to guarantee. ripple owns its connections instead: each Conn
// belongs to exactly one serial lane and is never shared.
//
// Region capture:
//
// SQLite invokes the authorizer while a statement is compiled, reporting
// every (table, column) the statement reads and every table or column it
// may write. Both regions are memoized on the cached statement, so a
// tracked fetch's dependency region costs nothing after the first prepare,
// and update events can be attributed a changed-column set without the
// preupdate build tag.
package sqlite
