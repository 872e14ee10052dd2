package bq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/ben-leadtech/etlkit/frame"
)

// Extractor runs SQL against the warehouse. It implements
// etlkit.QueryRunner.
type Extractor struct {
	warehouse Warehouse
	logger    *slog.Logger
}

// NewExtractor returns an Extractor. Only WithLogger applies.
func NewExtractor(w Warehouse, opts ...Option) *Extractor {
	o := newOptions(opts)
	return &Extractor{warehouse: w, logger: o.logger}
}

// Query runs sql and returns its rows as a frame with the result schema's
// column names. DATE and DATETIME values become UTC times and NUMERIC values
// become float64.
func (e *Extractor) Query(ctx context.Context, sql string) (*frame.Frame, error) {
	if table := tableInProject(sql, e.warehouse.ProjectID()); table != "" {
		e.logger.Info("querying bigquery table", "table", table)
	}

	it, err := e.warehouse.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("bq: query: %w", err)
	}

	var f *frame.Frame
	for {
		row, err := it.Next()
		if f == nil {
			f = frame.New(columnNames(it.Schema())...)
		}
		if errors.Is(err, iterator.Done) {
			return f, nil
		}
		if err != nil {
			return nil, fmt.Errorf("bq: read row %d: %w", f.Len(), err)
		}

		values := make([]any, len(row))
		for i, v := range row {
			values[i] = fromBigQuery(v)
		}
		if err := f.Append(values...); err != nil {
			return nil, fmt.Errorf("bq: row %d: %w", f.Len(), err)
		}
	}
}

func columnNames(schema bigquery.Schema) []string {
	names := make([]string, len(schema))
	for i, fs := range schema {
		names[i] = fs.Name
	}
	return names
}

// tableInProject returns the first project.dataset.table reference in sql
// for the given project, or "".
func tableInProject(sql, project string) string {
	if project == "" {
		return ""
	}
	i := strings.Index(sql, project+".")
	if i < 0 {
		return ""
	}
	end := strings.IndexAny(sql[i:], " \t\n`,;)")
	if end < 0 {
		return sql[i:]
	}
	return sql[i : i+end]
}

// civilTime is implemented by civil.Date and civil.DateTime.
type civilTime interface {
	In(*time.Location) time.Time
}

func fromBigQuery(v bigquery.Value) any {
	switch x := v.(type) {
	case civilTime:
		return x.In(time.UTC)
	case *big.Rat:
		f, _ := x.Float64()
		return f
	default:
		return v
	}
}
