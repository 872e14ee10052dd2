// Package frame provides a small in-memory table used to pass extracted data
// between pipeline stages.
//
// A Frame has an ordered list of column names and rows of untyped cells. It is
// deliberately simple: sources produce it, transforms reshape it, and sinks
// read it back out row by row.
package frame

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrUnknownColumn is returned when a column name is not part of the frame.
var ErrUnknownColumn = errors.New("frame: unknown column")

// Row is one row of a frame together with its position in the frame it was
// read from. Values are in column order.
type Row struct {
	Index  int
	Values []any
}

// Frame is an ordered, column-named table.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// New creates an empty frame with the given columns. Duplicate names are
// collapsed to their first occurrence.
func New(columns ...string) *Frame {
	f := &Frame{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		f.addColumnName(c)
	}
	return f
}

// FromRecords builds a frame from a slice of records. Columns are added as
// they are first seen across the records, sorted by name within a record;
// cells missing from a record are nil.
func FromRecords(records []map[string]any) *Frame {
	f := New()
	for _, rec := range records {
		for _, k := range sortedNewKeys(f, rec) {
			f.AddColumn(k, nil)
		}
		row := make([]any, len(f.columns))
		for k, v := range rec {
			row[f.index[k]] = v
		}
		f.rows = append(f.rows, row)
	}
	return f
}

// sortedNewKeys returns the keys of rec that are not yet columns of f, in a
// stable order so that frames built from maps are deterministic.
func sortedNewKeys(f *Frame, rec map[string]any) []string {
	var keys []string
	for k := range rec {
		if _, ok := f.index[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (f *Frame) addColumnName(name string) bool {
	if _, ok := f.index[name]; ok {
		return false
	}
	f.index[name] = len(f.columns)
	f.columns = append(f.columns, name)
	return true
}

// Columns returns a copy of the column names.
func (f *Frame) Columns() []string { return slices.Clone(f.columns) }

// HasColumn reports whether name is a column of the frame.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.rows) }

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool { return len(f.rows) == 0 }

// Append adds a row. The number of values must match the number of columns.
func (f *Frame) Append(values ...any) error {
	if len(values) != len(f.columns) {
		return fmt.Errorf("frame: append %d values to %d columns", len(values), len(f.columns))
	}
	f.rows = append(f.rows, slices.Clone(values))
	return nil
}

// AppendRecord adds a row from a record keyed by column name. Keys that are
// not columns yet are added as new columns, back-filled with nil.
func (f *Frame) AppendRecord(rec map[string]any) {
	for _, k := range sortedNewKeys(f, rec) {
		f.AddColumn(k, nil)
	}
	row := make([]any, len(f.columns))
	for k, v := range rec {
		row[f.index[k]] = v
	}
	f.rows = append(f.rows, row)
}

// Value returns the cell at row i in the named column.
func (f *Frame) Value(i int, column string) (any, error) {
	c, ok := f.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if i < 0 || i >= len(f.rows) {
		return nil, fmt.Errorf("frame: row %d out of range [0,%d)", i, len(f.rows))
	}
	return f.rows[i][c], nil
}

// Set replaces the cell at row i in the named column.
func (f *Frame) Set(i int, column string, v any) error {
	c, ok := f.index[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if i < 0 || i >= len(f.rows) {
		return fmt.Errorf("frame: row %d out of range [0,%d)", i, len(f.rows))
	}
	f.rows[i][c] = v
	return nil
}

// Column returns a copy of every cell in the named column.
func (f *Frame) Column(name string) ([]any, error) {
	c, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	out := make([]any, len(f.rows))
	for i, r := range f.rows {
		out[i] = r[c]
	}
	return out, nil
}

// Rows returns every row of the frame. The value slices are shared with the
// frame and must not be modified.
func (f *Frame) Rows() []Row {
	out := make([]Row, len(f.rows))
	for i, r := range f.rows {
		out[i] = Row{Index: i, Values: r}
	}
	return out
}

// All iterates over the rows of the frame.
func (f *Frame) All() iter.Seq2[int, []any] {
	return func(yield func(int, []any) bool) {
		for i, r := range f.rows {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Records returns the rows as maps keyed by column name.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, len(f.rows))
	for i, r := range f.rows {
		rec := make(map[string]any, len(f.columns))
		for c, name := range f.columns {
			rec[name] = r[c]
		}
		out[i] = rec
	}
	return out
}

// AddColumn appends a column with every cell set to fill. It is a no-op when
// the column already exists.
func (f *Frame) AddColumn(name string, fill any) {
	if !f.addColumnName(name) {
		return
	}
	for i := range f.rows {
		f.rows[i] = append(f.rows[i], fill)
	}
}

// DropColumns removes the named columns. Names that are not columns are
// ignored.
func (f *Frame) DropColumns(names ...string) {
	drop := make(map[int]bool, len(names))
	for _, n := range names {
		if c, ok := f.index[n]; ok {
			drop[c] = true
		}
	}
	if len(drop) == 0 {
		return
	}
	keep := make([]int, 0, len(f.columns)-len(drop))
	for c := range f.columns {
		if !drop[c] {
			keep = append(keep, c)
		}
	}
	f.project(keep)
}

// project keeps only the columns at the given positions, in that order.
func (f *Frame) project(keep []int) {
	cols := make([]string, len(keep))
	for i, c := range keep {
		cols[i] = f.columns[c]
	}
	for i, r := range f.rows {
		nr := make([]any, len(keep))
		for j, c := range keep {
			nr[j] = r[c]
		}
		f.rows[i] = nr
	}
	f.columns = cols
	f.index = make(map[string]int, len(cols))
	for i, c := range cols {
		f.index[c] = i
	}
}

// RenameColumns renames columns according to mapping. Names that are not
// columns are ignored. Renaming onto an existing column is an error.
func (f *Frame) RenameColumns(mapping map[string]string) error {
	for from, to := range mapping {
		c, ok := f.index[from]
		if !ok || from == to {
			continue
		}
		if _, clash := f.index[to]; clash {
			return fmt.Errorf("frame: rename %q to existing column %q", from, to)
		}
		delete(f.index, from)
		f.index[to] = c
		f.columns[c] = to
	}
	return nil
}

// Select returns a new frame holding only the named columns, in the given
// order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	keep := make([]int, len(names))
	for i, n := range names {
		c, ok := f.index[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, n)
		}
		keep[i] = c
	}
	out := f.Clone()
	out.project(keep)
	return out, nil
}

// Slice returns a new frame holding rows [i, j).
func (f *Frame) Slice(i, j int) *Frame {
	i = max(0, min(i, len(f.rows)))
	j = max(i, min(j, len(f.rows)))
	out := New(f.columns...)
	for _, r := range f.rows[i:j] {
		out.rows = append(out.rows, slices.Clone(r))
	}
	return out
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame { return f.Slice(0, n) }

// Clone returns a deep copy of the frame's structure. Cell values are copied
// by assignment.
func (f *Frame) Clone() *Frame { return f.Slice(0, len(f.rows)) }

// Filter returns a new frame holding the rows for which keep returns true.
func (f *Frame) Filter(keep func(Row) bool) *Frame {
	out := New(f.columns...)
	for i, r := range f.rows {
		if keep(Row{Index: i, Values: r}) {
			out.rows = append(out.rows, slices.Clone(r))
		}
	}
	return out
}

// Unique reports whether every value of the column is distinct. When it is
// not, the first repeated value is returned.
func (f *Frame) Unique(column string) (bool, any, error) {
	c, ok := f.index[column]
	if !ok {
		return false, nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	seen := make(map[any]struct{}, len(f.rows))
	for _, r := range f.rows {
		k := hashable(r[c])
		if _, dup := seen[k]; dup {
			return false, r[c], nil
		}
		seen[k] = struct{}{}
	}
	return true, nil, nil
}

// hashable maps a cell to a value that can be used as a map key.
func hashable(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
