package frame

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const nullValue = "null"

// Format renders the first n rows as a table. A negative n renders every row.
func (f *Frame) Format(w io.Writer, n int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	// Keep column names as they are; Salesforce fields are case sensitive.
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(f.columns))
	for i, c := range f.columns {
		header[i] = c
	}
	t.AppendHeader(header)

	rows := f.rows
	if n >= 0 && n < len(rows) {
		rows = rows[:n]
	}
	for _, r := range rows {
		out := make(table.Row, len(r))
		for i, v := range r {
			if v == nil {
				out[i] = nullValue
				continue
			}
			out[i] = FormatValue(v)
		}
		t.AppendRow(out)
	}
	t.Render()

	if n >= 0 && n < len(f.rows) {
		fmt.Fprintf(w, "... %d more rows\n", len(f.rows)-n)
	}
}

// String renders the first five rows.
func (f *Frame) String() string {
	var sb strings.Builder
	f.Format(&sb, 5)
	return sb.String()
}
