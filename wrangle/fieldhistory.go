package wrangle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
)

// Frames and columns read by FieldHistory.
const (
	FrameOpps         = "df_opps"
	FrameFieldHistory = "df_fh"

	CreatedDateColumn = "Created_Date"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// FieldHistory turns opportunity field history into one row per
// opportunity with a column per history value holding the whole days from
// the opportunity's creation until the value was first set.
//
// It reads df_opps (Id, CreatedDate, optionally Partner_Lead_ID__c and any
// other columns) and df_fh (OpportunityId, NewValue, CreatedDate).
// Opportunities without any history value are dropped.
type FieldHistory struct {
	Logger *slog.Logger
}

var _ etlkit.Transformer = (*FieldHistory)(nil)

// ValueColumnName is the column a history value is encoded in: characters
// outside [a-zA-Z0-9_-] become spaces, then each double space becomes " -".
func ValueColumnName(value string) string {
	name := invalidNameChars.ReplaceAllString(value, " ")
	return strings.ReplaceAll(name, "  ", " -")
}

func (w *FieldHistory) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *FieldHistory) Transform(_ context.Context, data *etlkit.Data) (*frame.Frame, error) {
	opps, err := requireFrame(data, FrameOpps)
	if err != nil {
		return nil, err
	}
	fh, err := requireFrame(data, FrameFieldHistory)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(opps, FrameOpps, "Id", "CreatedDate"); err != nil {
		return nil, err
	}
	if err := requireColumns(fh, FrameFieldHistory, "OpportunityId", "NewValue", "CreatedDate"); err != nil {
		return nil, err
	}

	w.logger().Info("one-hot encoding the field history data")
	history, valueCols, err := oneHot(fh)
	if err != nil {
		return nil, err
	}

	w.logger().Info("merging the field history data with the opportunity data")
	out, valueCols, err := mergeOpps(opps, history, valueCols)
	if err != nil {
		return nil, err
	}

	w.logger().Info("replacing timestamps with the number of days since Created_Date")
	return daysSinceCreated(out, valueCols)
}

// oneHot returns a frame keyed by Id (the opportunity) with one column per
// distinct NewValue, holding the earliest time that value was set. Columns
// are in sorted value order and rows in sorted Id order.
func oneHot(fh *frame.Frame) (*frame.Frame, []string, error) {
	ids, _ := fh.Column("OpportunityId")
	values, _ := fh.Column("NewValue")
	created, _ := fh.Column("CreatedDate")

	var names []string
	earliest := make(map[string]map[string]time.Time)
	for i := range ids {
		v := frame.FormatValue(values[i])
		if v == "" {
			continue
		}
		ts, ok, err := parseTime(created[i])
		if err != nil {
			return nil, nil, fmt.Errorf("%s row %d: %w", FrameFieldHistory, i, err)
		}
		if !ok {
			continue
		}

		name := ValueColumnName(v)
		if !slices.Contains(names, name) {
			names = append(names, name)
		}

		id := frame.FormatValue(ids[i])
		if earliest[id] == nil {
			earliest[id] = make(map[string]time.Time)
		}
		if cur, seen := earliest[id][name]; !seen || ts.Before(cur) {
			earliest[id][name] = ts
		}
	}
	slices.Sort(names)

	// A value named like the key column is suffixed.
	if i := slices.Index(names, "Id"); i >= 0 {
		alt := "Id" + frame.RightSuffix
		for slices.Contains(names, alt) {
			alt += frame.RightSuffix
		}
		names[i] = alt
		for _, byName := range earliest {
			if ts, ok := byName["Id"]; ok {
				byName[alt] = ts
				delete(byName, "Id")
			}
		}
		slices.Sort(names)
	}

	out := frame.New(append([]string{"Id"}, names...)...)
	idOrder := make([]string, 0, len(earliest))
	for id := range earliest {
		idOrder = append(idOrder, id)
	}
	slices.Sort(idOrder)

	for _, id := range idOrder {
		row := make([]any, 0, len(names)+1)
		row = append(row, id)
		for _, name := range names {
			if ts, ok := earliest[id][name]; ok {
				row = append(row, ts)
			} else {
				row = append(row, nil)
			}
		}
		if err := out.Append(row...); err != nil {
			return nil, nil, err
		}
	}
	return out, names, nil
}

// mergeOpps renames the opportunity columns, builds Unique_ID and joins the
// history on Id. It returns the value columns as named in the joined frame.
func mergeOpps(opps, history *frame.Frame, valueCols []string) (*frame.Frame, []string, error) {
	o := opps.Clone()
	err := o.RenameColumns(map[string]string{
		"CreatedDate":        CreatedDateColumn,
		"Partner_Lead_ID__c": "Partner_Lead_ID",
	})
	if err != nil {
		return nil, nil, err
	}

	created := make([]time.Time, o.Len())
	for i := range o.Len() {
		raw, _ := o.Value(i, CreatedDateColumn)
		ts, ok, err := parseTime(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%s row %d: %w", FrameOpps, i, err)
		}
		if !ok {
			return nil, nil, fmt.Errorf("%s row %d: %w: empty CreatedDate", FrameOpps, i, ErrBadTimestamp)
		}
		created[i] = ts
	}

	layout := uniqueIDLayout(created)
	o.AddColumn(etlkit.UniqueIDColumn, nil)
	for i, ts := range created {
		id, _ := o.Value(i, "Id")
		_ = o.Set(i, CreatedDateColumn, ts)
		uid := strings.ReplaceAll(ts.Format(layout)+"_"+frame.FormatValue(id), " ", "")
		_ = o.Set(i, etlkit.UniqueIDColumn, uid)
	}

	// InnerJoin suffixes right-hand names that are already taken.
	taken := make(map[string]bool)
	for _, c := range o.Columns() {
		taken[c] = true
	}
	joined := make([]string, len(valueCols))
	for i, name := range valueCols {
		for taken[name] {
			name += frame.RightSuffix
		}
		taken[name] = true
		joined[i] = name
	}

	out, err := frame.InnerJoin(o, history, "Id")
	if err != nil {
		return nil, nil, err
	}
	return out, joined, nil
}

// uniqueIDLayout returns the layout Created_Date is written with inside
// Unique_ID, matching keys already stored as "2024-01-01 10:00:00+00:00".
// Fractional seconds appear on every row, as microseconds or nanoseconds,
// once any row has them.
func uniqueIDLayout(times []time.Time) string {
	frac := ""
	for _, ts := range times {
		switch ns := ts.Nanosecond(); {
		case ns%1000 != 0:
			frac = ".000000000"
		case ns != 0 && frac == "":
			frac = ".000000"
		}
	}
	return "2006-01-02 15:04:05" + frac + "-07:00"
}

// daysSinceCreated replaces each value column's timestamp with the floored
// whole days since Created_Date and drops rows with no value set.
func daysSinceCreated(f *frame.Frame, cols []string) (*frame.Frame, error) {
	for i := range f.Len() {
		raw, _ := f.Value(i, CreatedDateColumn)
		created := raw.(time.Time)
		for _, c := range cols {
			v, _ := f.Value(i, c)
			ts, ok := v.(time.Time)
			if !ok {
				continue
			}
			_ = f.Set(i, c, math.Floor(ts.Sub(created).Hours()/24))
		}
	}

	if len(cols) == 0 {
		return f, nil
	}
	return f.Filter(func(r frame.Row) bool {
		for _, c := range cols {
			if v, _ := f.Value(r.Index, c); v != nil {
				return true
			}
		}
		return false
	}), nil
}
