package bq

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/ben-leadtech/etlkit/frame"
)

var invalidColumnChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// ColumnName turns a frame column into a valid BigQuery column name:
// characters other than letters, digits and underscores become underscores
// and a leading digit is prefixed with one.
func ColumnName(name string) string {
	out := invalidColumnChars.ReplaceAllString(name, "_")
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}

// sanitizeColumns renames the frame's columns to valid BigQuery names.
func sanitizeColumns(f *frame.Frame) error {
	mapping := make(map[string]string)
	seen := make(map[string]string)
	for _, c := range f.Columns() {
		name := ColumnName(c)
		if prev, ok := seen[strings.ToLower(name)]; ok {
			return fmt.Errorf("bq: columns %q and %q both map to %q", prev, c, name)
		}
		seen[strings.ToLower(name)] = c
		if name != c {
			mapping[c] = name
		}
	}
	if len(mapping) == 0 {
		return nil
	}
	return f.RenameColumns(mapping)
}

// InferSchema derives a nullable schema from the frame's column kinds. Empty
// and mixed columns are STRING.
func InferSchema(f *frame.Frame) bigquery.Schema {
	kinds := f.Kinds()
	schema := make(bigquery.Schema, len(kinds))
	for i, name := range f.Columns() {
		schema[i] = &bigquery.FieldSchema{Name: name, Type: fieldType(kinds[i])}
	}
	return schema
}

func fieldType(k frame.Kind) bigquery.FieldType {
	switch k {
	case frame.KindBool:
		return bigquery.BooleanFieldType
	case frame.KindInt:
		return bigquery.IntegerFieldType
	case frame.KindFloat:
		return bigquery.FloatFieldType
	case frame.KindTime:
		return bigquery.TimestampFieldType
	default:
		return bigquery.StringFieldType
	}
}

// toBigQuery converts a cell for a column of type t into a value for a
// JSON load job.
func toBigQuery(v any, t bigquery.FieldType) bigquery.Value {
	if v == nil {
		return nil
	}
	switch t {
	case bigquery.StringFieldType:
		return frame.FormatValue(v)
	case bigquery.TimestampFieldType:
		ts, ok := v.(time.Time)
		if s, isString := v.(string); isString {
			if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
				ts, ok = parsed, true
			}
		}
		if ok {
			return ts.UTC().Format("2006-01-02 15:04:05.999999") + " UTC"
		}
		return v
	case bigquery.DateFieldType:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.DateOnly)
		}
		return v
	case bigquery.DateTimeFieldType:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format("2006-01-02 15:04:05.999999")
		}
		return v
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return v
}

// approxRowBytes estimates the encoded size of a row for request sizing.
func approxRowBytes(r frame.Row) int {
	n := 2
	for _, v := range r.Values {
		n += len(frame.FormatValue(v)) + 8
	}
	return n
}
