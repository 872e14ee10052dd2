// Package bq reads from and writes to Google BigQuery.
package bq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ErrTableNotFound is returned by Warehouse methods when the table does not
// exist.
var ErrTableNotFound = errors.New("bq: table not found")

// RowIterator walks the rows of a query result. Next returns iterator.Done
// after the last row. Schema is valid once Next has been called.
type RowIterator interface {
	Next() ([]bigquery.Value, error)
	Schema() bigquery.Schema
}

// Warehouse is the part of BigQuery the extractor and loader need.
type Warehouse interface {
	ProjectID() string
	Query(ctx context.Context, sql string) (RowIterator, error)
	Exec(ctx context.Context, sql string) error
	TableSchema(ctx context.Context, dataset, table string) (bigquery.Schema, error)
	DeleteTable(ctx context.Context, dataset, table string) error
	// Load runs a load job writing newline-delimited JSON rows from r into
	// the table, creating it with schema if needed.
	Load(ctx context.Context, dataset, table string, schema bigquery.Schema, r io.Reader, disposition bigquery.TableWriteDisposition) error
}

// BigQuery is the Warehouse backed by a *bigquery.Client.
type BigQuery struct {
	client *bigquery.Client
}

var _ Warehouse = (*BigQuery)(nil)

// NewWarehouse creates a BigQuery client billed to projectID.
func NewWarehouse(ctx context.Context, projectID string, opts ...option.ClientOption) (*BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bq: new client: %w", err)
	}
	return &BigQuery{client: client}, nil
}

// Close releases the client.
func (w *BigQuery) Close() error { return w.client.Close() }

func (w *BigQuery) ProjectID() string { return w.client.Project() }

func (w *BigQuery) Query(ctx context.Context, sql string) (RowIterator, error) {
	it, err := w.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, err
	}
	return &rowIterator{it: it}, nil
}

// Exec runs a statement (DDL or DML) and waits for its job to finish.
func (w *BigQuery) Exec(ctx context.Context, sql string) error {
	job, err := w.client.Query(sql).Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (w *BigQuery) TableSchema(ctx context.Context, dataset, table string) (bigquery.Schema, error) {
	md, err := w.table(dataset, table).Metadata(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return md.Schema, nil
}

func (w *BigQuery) DeleteTable(ctx context.Context, dataset, table string) error {
	return notFound(w.table(dataset, table).Delete(ctx))
}

func (w *BigQuery) Load(ctx context.Context, dataset, table string, schema bigquery.Schema, r io.Reader, disposition bigquery.TableWriteDisposition) error {
	src := bigquery.NewReaderSource(r)
	src.SourceFormat = bigquery.JSON
	src.Schema = schema

	loader := w.table(dataset, table).LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = disposition

	job, err := loader.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

// Datasets lists the dataset IDs of the client's project.
func (w *BigQuery) Datasets(ctx context.Context) ([]string, error) {
	var ids []string
	it := w.client.Datasets(ctx)
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, ds.DatasetID)
	}
}

func (w *BigQuery) table(dataset, table string) *bigquery.Table {
	return w.client.DatasetInProject(w.client.Project(), dataset).Table(table)
}

// notFound maps a 404 from the API to ErrTableNotFound.
func notFound(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrTableNotFound, gerr.Message)
	}
	return err
}

type rowIterator struct {
	it *bigquery.RowIterator
}

func (r *rowIterator) Next() ([]bigquery.Value, error) {
	var row []bigquery.Value
	if err := r.it.Next(&row); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *rowIterator) Schema() bigquery.Schema { return r.it.Schema }
