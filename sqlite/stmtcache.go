package sqlite

import (
	"container/list"
	"database/sql/driver"
	"sync/atomic"
)

// DefaultStmtCacheCapacity bounds the per-connection statement cache when no
// capacity is configured.
const DefaultStmtCacheCapacity = 64

// stmtInfo is one cached prepared statement plus the regions captured by the
// authorizer while it was compiled.
type stmtInfo struct {
	sql    string
	stmt   driver.Stmt
	reads  Region
	writes Region
	elem   *list.Element
}

// stmtCache is a least-recently-used cache mapping SQL text to prepared
// statements. It is owned by exactly one Conn and only ever mutated from
// that connection's lane, so the map and list carry no locking. The entry
// count is kept in an atomic so Stats can read it from any goroutine.
type stmtCache struct {
	capacity int
	entries  map[string]*stmtInfo
	order    *list.List // front = most recently used
	count    atomic.Int64
}

func newStmtCache(capacity int) *stmtCache {
	if capacity <= 0 {
		capacity = DefaultStmtCacheCapacity
	}
	return &stmtCache{
		capacity: capacity,
		entries:  make(map[string]*stmtInfo, capacity),
		order:    list.New(),
	}
}

// get returns the cached statement for sql, preparing and inserting it on a
// miss. Eviction closes the least-recently-used statement.
func (sc *stmtCache) get(c *Conn, sql string) (*stmtInfo, error) {
	if info, ok := sc.entries[sql]; ok {
		sc.order.MoveToFront(info.elem)
		return info, nil
	}

	info, err := c.prepare(sql)
	if err != nil {
		return nil, err
	}
	info.elem = sc.order.PushFront(info)
	sc.entries[sql] = info

	for len(sc.entries) > sc.capacity {
		oldest := sc.order.Back()
		if oldest == nil {
			break
		}
		sc.evict(oldest.Value.(*stmtInfo))
	}
	sc.count.Store(int64(len(sc.entries)))
	return info, nil
}

func (sc *stmtCache) evict(info *stmtInfo) {
	sc.order.Remove(info.elem)
	delete(sc.entries, info.sql)
	sc.count.Store(int64(len(sc.entries)))
	_ = info.stmt.Close()
}

// len returns the number of cached statements. Safe from any goroutine.
func (sc *stmtCache) len() int {
	return int(sc.count.Load())
}

// close closes every cached statement and empties the cache.
func (sc *stmtCache) close() {
	for _, info := range sc.entries {
		_ = info.stmt.Close()
	}
	sc.entries = make(map[string]*stmtInfo)
	sc.order.Init()
	sc.count.Store(0)
}
