// Package wrangle holds the built-in transforms that turn extracted frames
// into the table to load.
package wrangle

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
)

var (
	ErrMissingFrame  = errors.New("wrangle: expected frame missing")
	ErrMissingColumn = errors.New("wrangle: expected column missing")
	ErrBadTimestamp  = errors.New("wrangle: cannot parse timestamp")
	ErrUnknown       = errors.New("wrangle: unknown transform")
)

// Params configures a transform built from a pipeline definition.
type Params struct {
	// Frame names the extracted frame a single-input transform reads.
	Frame string

	// UniqueIDFrom lists the columns joined with "_" to build Unique_ID.
	UniqueIDFrom []string

	Logger *slog.Logger
}

// Constructor builds a transform.
type Constructor func(Params) (etlkit.Transformer, error)

var registry = map[string]Constructor{
	"field-history": func(p Params) (etlkit.Transformer, error) {
		return &FieldHistory{Logger: p.Logger}, nil
	},
	"passthrough": func(p Params) (etlkit.Transformer, error) {
		return &Passthrough{Frame: p.Frame, UniqueIDFrom: p.UniqueIDFrom}, nil
	},
}

// Lookup returns the constructor registered under name.
func Lookup(name string) (Constructor, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknown, name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists the registered transforms, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func requireFrame(data *etlkit.Data, name string) (*frame.Frame, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingFrame, name)
	}
	f, ok := data.Frame(name)
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: %s (have %s)", ErrMissingFrame, name, strings.Join(data.Names(), ", "))
	}
	return f, nil
}

func requireColumns(f *frame.Frame, frameName string, columns ...string) error {
	var missing []string
	for _, c := range columns {
		if !f.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s needs %s", ErrMissingColumn, frameName, strings.Join(missing, ", "))
	}
	return nil
}

// Salesforce and BigQuery timestamp layouts, most common first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// parseTime reads a cell as a timestamp. Nil and empty strings report false.
func parseTime(v any) (time.Time, bool, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return x.UTC(), true, nil
	case string:
		if x == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("%w: %q", ErrBadTimestamp, x)
	default:
		return time.Time{}, false, fmt.Errorf("%w: %T %v", ErrBadTimestamp, v, v)
	}
}
