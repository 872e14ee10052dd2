package frame

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ReadCSV reads a frame from CSV. The first record is the header; every cell
// is kept as a string, with empty cells read as empty strings.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("frame: read csv header: %w", err)
	}

	f := New(header...)
	if len(f.columns) != len(header) {
		return nil, fmt.Errorf("frame: csv header has duplicate columns: %v", header)
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		if err != nil {
			return nil, fmt.Errorf("frame: read csv row %d: %w", f.Len()+1, err)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		f.rows = append(f.rows, row)
	}
}

// WriteCSV writes the header and every row as CSV.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.columns); err != nil {
		return err
	}
	if err := WriteCSVRows(cw, f.Rows()); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVRows writes rows, without a header, to an existing CSV writer.
// The caller flushes.
func WriteCSVRows(cw *csv.Writer, rows []Row) error {
	for _, r := range rows {
		rec := make([]string, len(r.Values))
		for i, v := range r.Values {
			rec[i] = FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("frame: write csv row %d: %w", r.Index, err)
		}
	}
	return nil
}
