// Package gcs writes the transformed table to Cloud Storage as a CSV object.
package gcs

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
)

// ContentType of the uploaded objects.
const ContentType = "text/csv"

// DefaultBatchSize is the number of rows written per batch by Load.
const DefaultBatchSize = 1000

// ObjectStore opens object writers. The object becomes visible when the
// writer is closed; cancelling ctx before that discards it.
type ObjectStore interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

// Storage is the ObjectStore backed by a *storage.Client.
type Storage struct {
	client *storage.Client
}

// NewStorage creates a Cloud Storage client.
func NewStorage(ctx context.Context, opts ...option.ClientOption) (*Storage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	return &Storage{client: client}, nil
}

func (s *Storage) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// Close releases the client.
func (s *Storage) Close() error { return s.client.Close() }

// Loader uploads the table to gs://<bucket>/<table>.csv, replacing any
// existing object. Rows are written in frame order, so it uses a single load
// worker.
type Loader struct {
	store  ObjectStore
	bucket string
	logger *slog.Logger
}

var (
	_ etlkit.Loader      = (*Loader)(nil)
	_ etlkit.BatchLoader = (*Loader)(nil)
	_ etlkit.LoadWorkers = (*Loader)(nil)
)

// NewLoader returns a Loader writing to bucket.
func NewLoader(store ObjectStore, bucket string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, bucket: bucket, logger: logger}
}

// ObjectName returns the object the table is written to.
func ObjectName(cfg *etlkit.Config) string { return cfg.TableName + ".csv" }

func (l *Loader) LoadWorkers() int { return 1 }

func (l *Loader) Load(ctx context.Context, f *frame.Frame, cfg *etlkit.Config) error {
	return etlkit.LoadAll(ctx, l, etlkit.SizeBatcher[frame.Row](DefaultBatchSize), f, cfg)
}

// Begin opens the object and writes the header row.
func (l *Loader) Begin(ctx context.Context, f *frame.Frame, cfg *etlkit.Config) (etlkit.LoadSession, error) {
	// The upload outlives a shutdown signal; only Abort discards it.
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &session{
		logger: l.logger,
		url:    fmt.Sprintf("gs://%s/%s", l.bucket, ObjectName(cfg)),
		cancel: cancel,
	}
	s.w = l.store.NewWriter(wctx, l.bucket, ObjectName(cfg), ContentType)
	s.cw = csv.NewWriter(s.w)

	if err := s.cw.Write(f.Columns()); err != nil {
		cancel()
		return nil, fmt.Errorf("gcs: write header to %s: %w", s.url, err)
	}
	return s, nil
}

type session struct {
	logger *slog.Logger
	url    string
	cancel context.CancelFunc

	mu   sync.Mutex
	w    io.WriteCloser
	cw   *csv.Writer
	rows int
}

func (s *session) LoadBatch(_ context.Context, rows []frame.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := frame.WriteCSVRows(s.cw, rows); err != nil {
		return fmt.Errorf("gcs: write to %s: %w", s.url, err)
	}
	s.cw.Flush()
	if err := s.cw.Error(); err != nil {
		return fmt.Errorf("gcs: write to %s: %w", s.url, err)
	}
	s.rows += len(rows)
	return nil
}

// Commit finishes the upload.
func (s *session) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cancel()

	s.cw.Flush()
	if err := s.cw.Error(); err != nil {
		return fmt.Errorf("gcs: write to %s: %w", s.url, err)
	}
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("gcs: upload %s: %w", s.url, err)
	}
	s.logger.Info("uploaded table", "object", s.url, "rows", s.rows)
	return nil
}

// Abort discards the partial upload.
func (s *session) Abort(context.Context) error {
	s.cancel()
	s.logger.Warn("discarded partial upload", "object", s.url, "rows", s.rows)
	return nil
}
