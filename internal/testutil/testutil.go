// Package testutil provides shared helpers for concurrency-sensitive tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"
)

// TempDB returns a database file path inside a per-test temporary
// directory, cleaned up automatically.
func TempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// WaitFor polls cond until it returns true or the timeout elapses.
// Asynchronous deliveries (observation callbacks, async submissions) have
// no completion handle, so tests converge on observable state instead of
// sleeping fixed amounts.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

// Eventually reports whether cond becomes true within the timeout,
// without failing the test. For asserting that something does NOT happen,
// pair with a short timeout and assert false.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}
