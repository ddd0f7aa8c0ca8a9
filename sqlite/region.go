package sqlite

import (
	"sort"
	"strings"
)

// Region describes the set of (table, column) pairs a piece of SQL touches.
//
// A region is used in two directions: statements record the region they READ
// (the dependency set of a tracked fetch) and the region they may WRITE (the
// effect set used to attribute column sets to update events). Both are
// captured by the connection's authorizer at prepare time.
//
// A table entry is either column-exact or table-wide. Table-wide interest
// matches every column, present and future. Once a table is marked
// table-wide, adding individual columns is a no-op.
type Region struct {
	tables map[string]*tableInterest
}

type tableInterest struct {
	wholeTable bool
	columns    map[string]struct{}
}

// NewRegion returns an empty region.
func NewRegion() Region {
	return Region{tables: make(map[string]*tableInterest)}
}

// AddTable marks the whole table as part of the region (column-agnostic).
func (r *Region) AddTable(table string) {
	ti := r.interest(table)
	ti.wholeTable = true
	ti.columns = nil
}

// AddColumn adds a single (table, column) pair to the region.
// An empty column name means the access is not attributable to one column
// (e.g. a bare COUNT(*) scan) and widens to the whole table.
func (r *Region) AddColumn(table, column string) {
	if column == "" {
		r.AddTable(table)
		return
	}
	ti := r.interest(table)
	if ti.wholeTable {
		return
	}
	ti.columns[column] = struct{}{}
}

func (r *Region) interest(table string) *tableInterest {
	if r.tables == nil {
		r.tables = make(map[string]*tableInterest)
	}
	ti, ok := r.tables[table]
	if !ok {
		ti = &tableInterest{columns: make(map[string]struct{})}
		r.tables[table] = ti
	}
	return ti
}

// Merge adds every entry of other into r.
func (r *Region) Merge(other Region) {
	for table, oti := range other.tables {
		if oti.wholeTable {
			r.AddTable(table)
			continue
		}
		for col := range oti.columns {
			r.AddColumn(table, col)
		}
	}
}

// IsEmpty reports whether the region covers nothing.
func (r Region) IsEmpty() bool {
	return len(r.tables) == 0
}

// Tables returns the region's table names in sorted order.
func (r Region) Tables() []string {
	names := make([]string, 0, len(r.tables))
	for t := range r.tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// CoversTable reports whether the region has any interest in the table.
func (r Region) CoversTable(table string) bool {
	_, ok := r.tables[table]
	return ok
}

// ColumnsFor returns the sorted column set recorded for a table.
// It returns (nil, true) when interest is table-wide and (nil, false) when
// the table is not part of the region.
func (r Region) ColumnsFor(table string) (cols []string, wholeTable bool) {
	ti, ok := r.tables[table]
	if !ok {
		return nil, false
	}
	if ti.wholeTable {
		return nil, true
	}
	cols = make([]string, 0, len(ti.columns))
	for c := range ti.columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, false
}

// OverlapsColumns reports whether the region's interest in table intersects
// the given column set. A nil or empty column set is treated as "every
// column changed" and matches any interest in the table.
func (r Region) OverlapsColumns(table string, columns []string) bool {
	ti, ok := r.tables[table]
	if !ok {
		return false
	}
	if ti.wholeTable || len(columns) == 0 {
		return true
	}
	for _, c := range columns {
		if _, hit := ti.columns[c]; hit {
			return true
		}
	}
	return false
}

// String renders the region in a compact, deterministic form:
// tables sorted, columns sorted, table-wide interest shown as "(*)".
// Example: "items(name,price),players(*)".
func (r Region) String() string {
	if r.IsEmpty() {
		return "empty"
	}
	var b strings.Builder
	for i, table := range r.Tables() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(table)
		cols, whole := r.ColumnsFor(table)
		if whole {
			b.WriteString("(*)")
			continue
		}
		b.WriteByte('(')
		b.WriteString(strings.Join(cols, ","))
		b.WriteByte(')')
	}
	return b.String()
}
