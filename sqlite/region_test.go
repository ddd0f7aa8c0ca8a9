package sqlite

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion_AddColumn(t *testing.T) {
	r := NewRegion()
	r.AddColumn("items", "name")
	r.AddColumn("items", "price")

	cols, whole := r.ColumnsFor("items")
	require.False(t, whole)
	assert.Equal(t, []string{"name", "price"}, cols)
}

func TestRegion_AddTable_WidensColumns(t *testing.T) {
	r := NewRegion()
	r.AddColumn("items", "name")
	r.AddTable("items")

	_, whole := r.ColumnsFor("items")
	assert.True(t, whole, "table-wide interest should absorb column interest")

	// Adding columns after widening stays table-wide.
	r.AddColumn("items", "price")
	_, whole = r.ColumnsFor("items")
	assert.True(t, whole)
}

func TestRegion_EmptyColumnWidens(t *testing.T) {
	// An empty column name means a table-level access (e.g. COUNT(*)).
	r := NewRegion()
	r.AddColumn("items", "")

	_, whole := r.ColumnsFor("items")
	assert.True(t, whole)
}

func TestRegion_OverlapsColumns(t *testing.T) {
	r := NewRegion()
	r.AddColumn("items", "name")

	tests := []struct {
		name    string
		table   string
		columns []string
		want    bool
	}{
		{"matching column", "items", []string{"name"}, true},
		{"disjoint column", "items", []string{"price"}, false},
		{"one of several", "items", []string{"price", "name"}, true},
		{"unknown columns match", "items", nil, true},
		{"different table", "players", []string{"name"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.OverlapsColumns(tt.table, tt.columns))
		})
	}
}

func TestRegion_OverlapsColumns_TableWide(t *testing.T) {
	r := NewRegion()
	r.AddTable("items")

	assert.True(t, r.OverlapsColumns("items", []string{"anything"}))
	assert.True(t, r.OverlapsColumns("items", nil))
	assert.False(t, r.OverlapsColumns("players", nil))
}

func TestRegion_Merge(t *testing.T) {
	a := NewRegion()
	a.AddColumn("items", "name")

	b := NewRegion()
	b.AddColumn("items", "price")
	b.AddTable("players")

	a.Merge(b)

	cols, whole := a.ColumnsFor("items")
	require.False(t, whole)
	assert.Equal(t, []string{"name", "price"}, cols)

	_, whole = a.ColumnsFor("players")
	assert.True(t, whole)
}

func TestRegion_IsEmpty(t *testing.T) {
	r := NewRegion()
	assert.True(t, r.IsEmpty())
	r.AddColumn("items", "name")
	assert.False(t, r.IsEmpty())
}

func TestRegion_String_Empty(t *testing.T) {
	r := NewRegion()
	assert.Equal(t, "empty", r.String())
}

func TestRegion_String_Golden(t *testing.T) {
	r := NewRegion()
	r.AddColumn("items", "price")
	r.AddColumn("items", "name")
	r.AddTable("players")
	r.AddColumn("scores", "total")

	g := goldie.New(t)
	g.Assert(t, "region_description", []byte(r.String()))
}
