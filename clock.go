package ripple

import "sync/atomic"

// commitClock is a monotonic counter of committed write transactions.
//
// Every commit is stamped with a strictly increasing sequence number. Reader
// snapshots and delivered observation values can be ordered against the
// commit sequence without consulting wall-clock time.
//
// Thread-safety: safe for concurrent use (atomic operations), though only
// the writer lane ever advances it.
type commitClock struct {
	seq atomic.Int64
}

// Next returns the next sequence number and advances the clock.
func (c *commitClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest committed sequence number.
func (c *commitClock) Current() int64 {
	return c.seq.Load()
}
