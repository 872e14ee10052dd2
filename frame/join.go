package frame

import (
	"fmt"
	"slices"
)

// RightSuffix is appended to right-hand column names that collide with a
// left-hand column in InnerJoin.
const RightSuffix = "_right"

// Concat stacks frames vertically. The result has the union of all columns
// in first-seen order; cells a frame does not have are nil. Nil frames are
// skipped.
func Concat(frames ...*Frame) *Frame {
	out := New()
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, c := range f.columns {
			out.AddColumn(c, nil)
		}
	}
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, r := range f.rows {
			row := make([]any, len(out.columns))
			for c, name := range f.columns {
				row[out.index[name]] = r[c]
			}
			out.rows = append(out.rows, row)
		}
	}
	return out
}

// InnerJoin joins left and right on equal values of the on column. The
// result keeps left's column order followed by right's remaining columns;
// left rows without a match are dropped and a left row matching several
// right rows is repeated once per match.
func InnerJoin(left, right *Frame, on string) (*Frame, error) {
	lc, ok := left.index[on]
	if !ok {
		return nil, fmt.Errorf("%w: %q in left frame", ErrUnknownColumn, on)
	}
	rc, ok := right.index[on]
	if !ok {
		return nil, fmt.Errorf("%w: %q in right frame", ErrUnknownColumn, on)
	}

	out := New(left.columns...)
	var rightCols []int
	for c, name := range right.columns {
		if c == rc {
			continue
		}
		for out.HasColumn(name) {
			name += RightSuffix
		}
		out.addColumnName(name)
		rightCols = append(rightCols, c)
	}

	byKey := make(map[any][]int, len(right.rows))
	for i, r := range right.rows {
		k := hashable(r[rc])
		byKey[k] = append(byKey[k], i)
	}

	for _, l := range left.rows {
		for _, ri := range byKey[hashable(l[lc])] {
			row := slices.Clone(l)
			for _, c := range rightCols {
				row = append(row, right.rows[ri][c])
			}
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}
