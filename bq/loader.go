package bq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
)

// Loader writes the transformed table to project.dataset.table.
//
// Batches are encoded as newline-delimited JSON and written by a single load
// job at commit. Outside update mode the job truncates the table and
// replaces its schema with one inferred from the frame. In update mode the
// job fills a new staging table with the target's schema, which is then
// merged into the target on Unique_ID.
type Loader struct {
	warehouse Warehouse
	logger    *slog.Logger
	batchSize int
	workers   int
	newID     func() string
}

var (
	_ etlkit.Loader             = (*Loader)(nil)
	_ etlkit.BatchLoader        = (*Loader)(nil)
	_ etlkit.LoadBatchSize      = (*Loader)(nil)
	_ etlkit.LoadWorkers        = (*Loader)(nil)
	_ etlkit.Batcher[frame.Row] = (*Loader)(nil)
)

// NewLoader returns a Loader writing through w.
func NewLoader(w Warehouse, opts ...Option) *Loader {
	o := newOptions(opts)
	return &Loader{
		warehouse: w,
		logger:    o.logger,
		batchSize: o.batchSize,
		workers:   o.workers,
		newID:     func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

func (l *Loader) LoadBatchSize() int { return l.batchSize }

func (l *Loader) LoadWorkers() int { return l.workers }

// Batch splits rows into chunks of at most LoadBatchSize rows and about
// 9 MB each.
func (l *Loader) Batch(rows []frame.Row) [][]frame.Row {
	return etlkit.CombineBatchers(
		etlkit.SizeBatcher[frame.Row](l.batchSize),
		etlkit.WeightedBatcher(approxRowBytes, maxChunkBytes),
	).Batch(rows)
}

// Load writes f in one call, without the pipeline's load workers.
func (l *Loader) Load(ctx context.Context, f *frame.Frame, cfg *etlkit.Config) error {
	return etlkit.LoadAll(ctx, l, l, f, cfg)
}

// Begin binds the frame to the destination schema. Column names are
// rewritten to valid BigQuery names first. Nothing is written until Commit.
func (l *Loader) Begin(ctx context.Context, f *frame.Frame, cfg *etlkit.Config) (etlkit.LoadSession, error) {
	if err := sanitizeColumns(f); err != nil {
		return nil, err
	}

	s := &session{
		warehouse: l.warehouse,
		logger:    l.logger,
		dataset:   cfg.DatasetName,
		target:    cfg.TableName,
	}

	if cfg.UpdateMode {
		schema, err := l.warehouse.TableSchema(ctx, cfg.DatasetName, cfg.TableName)
		switch {
		case errors.Is(err, ErrTableNotFound):
			l.logger.Info("target table does not exist, writing it from scratch", "table", s.ref(s.target))
		case err != nil:
			return nil, fmt.Errorf("bq: read schema of %s: %w", s.ref(s.target), err)
		default:
			if err := l.beginUpdate(f, s, schema); err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	if err := l.beginReplace(f, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Loader) beginReplace(f *frame.Frame, s *session) error {
	s.dest = s.target
	s.disposition = bigquery.WriteTruncate
	return s.bind(f, InferSchema(f))
}

func (l *Loader) beginUpdate(f *frame.Frame, s *session, schema bigquery.Schema) error {
	var unknown []string
	for _, c := range f.Columns() {
		if !slices.ContainsFunc(schema, func(fs *bigquery.FieldSchema) bool { return fs.Name == c }) {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("bq: columns not in %s: %s", s.ref(s.target), strings.Join(unknown, ", "))
	}
	for _, fs := range schema {
		if !f.HasColumn(fs.Name) {
			f.AddColumn(fs.Name, nil)
		}
	}

	if err := s.bind(f, schema); err != nil {
		return err
	}

	s.dest = fmt.Sprintf("%s_staging_%s", s.target, l.newID())
	s.staging = true
	s.disposition = bigquery.WriteEmpty
	return nil
}

type session struct {
	warehouse Warehouse
	logger    *slog.Logger
	dataset   string
	target    string
	dest      string
	staging   bool

	disposition bigquery.TableWriteDisposition
	schema      bigquery.Schema
	cols        []int // frame column index per schema field
	uid         int

	mu   sync.Mutex
	buf  bytes.Buffer
	rows int
}

func (s *session) ref(table string) string {
	if p := s.warehouse.ProjectID(); p != "" {
		return p + "." + s.dataset + "." + table
	}
	return s.dataset + "." + table
}

func (s *session) bind(f *frame.Frame, schema bigquery.Schema) error {
	columns := f.Columns()
	s.schema = schema
	s.cols = make([]int, len(schema))
	for i, fs := range schema {
		s.cols[i] = slices.Index(columns, fs.Name)
	}
	s.uid = slices.Index(columns, etlkit.UniqueIDColumn)
	if s.uid < 0 {
		return fmt.Errorf("bq: %w", etlkit.ErrMissingUniqueID)
	}
	return nil
}

// LoadBatch encodes rows as newline-delimited JSON for the load job.
func (s *session) LoadBatch(_ context.Context, rows []frame.Row) error {
	var chunk bytes.Buffer
	enc := json.NewEncoder(&chunk)
	for _, r := range rows {
		obj := make(map[string]bigquery.Value, len(s.schema))
		for j, fs := range s.schema {
			if c := s.cols[j]; c >= 0 {
				obj[fs.Name] = toBigQuery(r.Values[c], fs.Type)
			}
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("bq: encode row %s: %w", frame.FormatValue(r.Values[s.uid]), err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(chunk.Bytes())
	s.rows += len(rows)
	return nil
}

// Commit runs the load job. In update mode it then merges the staging table
// into the target; the staging table is dropped even when the load or the
// merge fails.
func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.warehouse.Load(ctx, s.dataset, s.dest, s.schema, &s.buf, s.disposition); err != nil {
		err = fmt.Errorf("bq: load %s: %w", s.ref(s.dest), err)
		if s.staging {
			return multierr.Append(err, s.dropStaging(ctx))
		}
		return err
	}
	s.logger.Info("loaded table", "table", s.ref(s.dest), "rows", s.rows)
	if !s.staging {
		return nil
	}

	var err error
	if mergeErr := s.warehouse.Exec(ctx, s.mergeSQL()); mergeErr != nil {
		err = fmt.Errorf("bq: merge into %s: %w", s.ref(s.target), mergeErr)
	} else {
		s.logger.Info("merged staging table", "table", s.ref(s.target), "staging", s.dest)
	}
	return multierr.Append(err, s.dropStaging(ctx))
}

// Abort discards the encoded rows. Nothing has been written to BigQuery
// before Commit, so the destination is left as it was.
func (s *session) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	s.logger.Info("load aborted, destination unchanged", "table", s.ref(s.target), "rows", s.rows)
	return nil
}

func (s *session) dropStaging(ctx context.Context) error {
	if err := s.warehouse.DeleteTable(ctx, s.dataset, s.dest); err != nil && !errors.Is(err, ErrTableNotFound) {
		return fmt.Errorf("bq: drop staging table %s: %w", s.ref(s.dest), err)
	}
	return nil
}

func (s *session) mergeSQL() string {
	var set, cols, vals []string
	for _, fs := range s.schema {
		c := "`" + fs.Name + "`"
		cols = append(cols, c)
		vals = append(vals, "S."+c)
		if fs.Name != etlkit.UniqueIDColumn {
			set = append(set, "T."+c+" = S."+c)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE `%s` T\n", s.ref(s.target))
	fmt.Fprintf(&b, "USING `%s` S\n", s.ref(s.dest))
	fmt.Fprintf(&b, "ON T.`%[1]s` = S.`%[1]s`\n", etlkit.UniqueIDColumn)
	if len(set) > 0 {
		fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET %s\n", strings.Join(set, ", "))
	}
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(vals, ", "))
	return b.String()
}
