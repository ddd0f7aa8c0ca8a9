package sqlite

import (
	"database/sql/driver"
	"fmt"
	"io"
	"time"
)

// Result reports the outcome of a mutating statement.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Rows is a forward-only cursor over a query's result set.
//
// Rows must be closed before the owning connection runs the same statement
// again; the usual pattern is a defer immediately after Query.
type Rows struct {
	dr   driver.Rows
	cols []string
	buf  []driver.Value
	err  error
	done bool
}

// Columns returns the result column names.
func (r *Rows) Columns() []string {
	return r.cols
}

// Next advances to the next row. It returns false at the end of the result
// set or on error; check Err after the loop.
func (r *Rows) Next() bool {
	if r.done || r.err != nil {
		return false
	}
	if r.buf == nil {
		r.buf = make([]driver.Value, len(r.cols))
	}
	err := r.dr.Next(r.buf)
	if err == io.EOF {
		r.done = true
		return false
	}
	if err != nil {
		r.err = err
		return false
	}
	return true
}

// Err returns the error, if any, that terminated iteration.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the cursor. Safe to call more than once.
func (r *Rows) Close() error {
	if r.dr == nil {
		return nil
	}
	err := r.dr.Close()
	r.dr = nil
	return err
}

// Scan copies the current row's values into dest, which must contain one
// pointer per result column.
func (r *Rows) Scan(dest ...any) error {
	if len(dest) != len(r.cols) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.cols))
	}
	for i, d := range dest {
		if err := assign(d, r.buf[i]); err != nil {
			return fmt.Errorf("scan column %q: %w", r.cols[i], err)
		}
	}
	return nil
}

// assign converts a driver value (int64, float64, bool, string, []byte,
// time.Time or nil) into the destination pointer.
func assign(dest any, src driver.Value) error {
	switch d := dest.(type) {
	case *any:
		*d = src
		return nil
	case *int64:
		switch s := src.(type) {
		case int64:
			*d = s
			return nil
		case nil:
			*d = 0
			return nil
		}
	case *int:
		if s, ok := src.(int64); ok {
			*d = int(s)
			return nil
		}
		if src == nil {
			*d = 0
			return nil
		}
	case *float64:
		switch s := src.(type) {
		case float64:
			*d = s
			return nil
		case int64:
			*d = float64(s)
			return nil
		}
	case *bool:
		if s, ok := src.(int64); ok {
			*d = s != 0
			return nil
		}
		if s, ok := src.(bool); ok {
			*d = s
			return nil
		}
	case *string:
		switch s := src.(type) {
		case string:
			*d = s
			return nil
		case []byte:
			*d = string(s)
			return nil
		case nil:
			*d = ""
			return nil
		}
	case *[]byte:
		switch s := src.(type) {
		case []byte:
			*d = append([]byte(nil), s...)
			return nil
		case string:
			*d = []byte(s)
			return nil
		case nil:
			*d = nil
			return nil
		}
	case *time.Time:
		if s, ok := src.(time.Time); ok {
			*d = s
			return nil
		}
	}
	return fmt.Errorf("cannot assign %T to %T", src, dest)
}

// toDriverValues normalizes Go arguments into driver values.
func toDriverValues(args []any) ([]driver.Value, error) {
	if len(args) == 0 {
		return nil, nil
	}
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		v, err := toDriverValue(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func toDriverValue(a any) (driver.Value, error) {
	switch v := a.(type) {
	case nil, int64, float64, bool, string, []byte, time.Time:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("unsupported argument type %T", a)
	}
}
