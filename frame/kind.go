package frame

import (
	"fmt"
	"time"
)

// Kind is the inferred type of a column.
type Kind int

const (
	KindNull Kind = iota // every cell is nil
	KindBool
	KindInt
	KindFloat
	KindTime
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// kindOf classifies a single non-nil cell.
func kindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case time.Time:
		return KindTime
	default:
		return KindString
	}
}

// widen returns the kind able to hold values of both a and b. Ints widen to
// floats; any other mix becomes a string column.
func widen(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindNull:
		return b
	case b == KindNull:
		return a
	case (a == KindInt && b == KindFloat) || (a == KindFloat && b == KindInt):
		return KindFloat
	default:
		return KindString
	}
}

// ColumnKind infers the kind of the named column from its cells.
func (f *Frame) ColumnKind(name string) (Kind, error) {
	c, ok := f.index[name]
	if !ok {
		return KindNull, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	k := KindNull
	for _, r := range f.rows {
		k = widen(k, kindOf(r[c]))
		if k == KindString {
			break
		}
	}
	return k, nil
}

// Kinds infers the kind of every column, in column order.
func (f *Frame) Kinds() []Kind {
	out := make([]Kind, len(f.columns))
	for i, name := range f.columns {
		out[i], _ = f.ColumnKind(name)
	}
	return out
}

// FormatValue renders a cell the way sinks that only accept text expect it:
// nil is empty, times are RFC 3339 in UTC.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
