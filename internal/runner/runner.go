// Package runner assembles an etlkit.Pipeline from a pipeline definition.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/bq"
	"github.com/ben-leadtech/etlkit/credentials"
	"github.com/ben-leadtech/etlkit/gcs"
	"github.com/ben-leadtech/etlkit/internal/definition"
	"github.com/ben-leadtech/etlkit/metrics"
	"github.com/ben-leadtech/etlkit/salesforce"
	"github.com/ben-leadtech/etlkit/sheets"
	"github.com/ben-leadtech/etlkit/state"
	"github.com/ben-leadtech/etlkit/wrangle"
)

// SalesforceClient runs SOQL queries, either through the REST query endpoint
// or as Bulk API jobs.
type SalesforceClient interface {
	Runner(bulk bool) etlkit.QueryRunner
}

// Warehouse is a BigQuery connection that must be closed.
type Warehouse interface {
	bq.Warehouse
	Datasets(ctx context.Context) ([]string, error)
	io.Closer
}

// ObjectStore is a Cloud Storage connection that must be closed.
type ObjectStore interface {
	gcs.ObjectStore
	io.Closer
}

// Factories open the external connections a pipeline needs. Nil fields use
// the real clients.
type Factories struct {
	Salesforce  func(ctx context.Context, creds credentials.Salesforce, logger *slog.Logger) (SalesforceClient, error)
	Warehouse   func(ctx context.Context, creds credentials.Google) (Warehouse, error)
	ObjectStore func(ctx context.Context, creds credentials.Google) (ObjectStore, error)
	Workbook    func(ctx context.Context, creds credentials.Google) (sheets.Workbook, error)
	State       func(backend string, opts state.Options) (state.Store, error)
}

// Options adjust how a definition is run.
type Options struct {
	Logger *slog.Logger

	// UpdateMode forces update mode on top of the definition's setting.
	UpdateMode bool

	// DryRun, when set, receives the head of the transformed table instead
	// of loading it.
	DryRun io.Writer

	// Registerer, when set, receives the pipeline's Prometheus metrics.
	Registerer prometheus.Registerer

	RunID     string
	Factories Factories
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// WithDefaults fills the nil factories with the real clients.
func (f Factories) WithDefaults() Factories {
	if f.Salesforce == nil {
		f.Salesforce = func(ctx context.Context, creds credentials.Salesforce, logger *slog.Logger) (SalesforceClient, error) {
			c, err := salesforce.NewClient(ctx, creds, salesforce.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if f.Warehouse == nil {
		f.Warehouse = func(ctx context.Context, creds credentials.Google) (Warehouse, error) {
			w, err := bq.NewWarehouse(ctx, creds.ProjectID, creds.ClientOptions(bigquery.Scope)...)
			if err != nil {
				return nil, err
			}
			return w, nil
		}
	}
	if f.ObjectStore == nil {
		f.ObjectStore = func(ctx context.Context, creds credentials.Google) (ObjectStore, error) {
			s, err := gcs.NewStorage(ctx, creds.ClientOptions(storage.ScopeReadWrite)...)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	if f.Workbook == nil {
		f.Workbook = func(ctx context.Context, creds credentials.Google) (sheets.Workbook, error) {
			wb, err := sheets.NewGoogle(ctx, creds.ClientOptions(sheets.Scopes...)...)
			if err != nil {
				return nil, err
			}
			return wb, nil
		}
	}
	if f.State == nil {
		f.State = state.Open
	}
	return f
}

// closers releases resources in reverse order of acquisition.
type closers []io.Closer

func (c closers) Close() error {
	var err error
	for _, cl := range slices.Backward(c) {
		err = multierr.Append(err, cl.Close())
	}
	return err
}

// builder holds the connections opened while assembling one pipeline.
type builder struct {
	def    *definition.Definition
	f      Factories
	logger *slog.Logger

	google    *credentials.Google
	sf        SalesforceClient
	warehouse Warehouse
	closers   closers
}

// Build assembles the pipeline described by def. Clients are created only
// for the sources and target def references; the Salesforce client is shared
// by the REST and Bulk jobs and the BigQuery client by the extractor and
// loader. The returned Closer releases them and must be closed after Run.
func Build(ctx context.Context, def *definition.Definition, env etlkit.Environment, opts Options) (_ *etlkit.Pipeline, _ io.Closer, err error) {
	b := &builder{def: def, f: opts.Factories.WithDefaults(), logger: opts.logger()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.closers.Close())
		}
	}()

	if def.UsesGoogle() {
		g, err := b.googleCreds()
		if err != nil {
			return nil, nil, err
		}
		if env.ProjectID == "" {
			env.ProjectID = g.ProjectID
		}
	}

	cfgOpts, err := def.ConfigOptions()
	if err != nil {
		return nil, nil, err
	}
	cfgOpts = append(cfgOpts, etlkit.WithConfigLogger(b.logger))
	if opts.UpdateMode {
		cfgOpts = append(cfgOpts, etlkit.WithUpdateMode(true))
	}
	cfg := etlkit.NewConfig(env, cfgOpts...)

	ext, err := b.extractor(ctx)
	if err != nil {
		return nil, nil, err
	}
	tx, err := b.transformer()
	if err != nil {
		return nil, nil, err
	}
	ld, err := b.loader(ctx)
	if err != nil {
		return nil, nil, err
	}

	p := etlkit.New(ext, tx, ld, cfg).
		WithLogger(b.logger).
		WithRunID(opts.RunID)
	if def.Load.Target == definition.TargetGCS && def.Load.BatchSize > 0 {
		p.WithLoadBatchSize(def.Load.BatchSize)
	}
	if opts.DryRun != nil {
		p.WithDryRun(opts.DryRun)
	}

	if opts.Registerer != nil {
		r, err := metrics.NewReporter(opts.Registerer, def.Name)
		if err != nil {
			return nil, nil, err
		}
		p.WithObserver(r)
	}

	store, err := b.f.State(def.Checkpoint.Backend, stateOptions(def))
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	if store != nil {
		b.closers = append(b.closers, store)
		p.WithCheckpointer(store, "")
	}

	return p, b.closers, nil
}

// Checkpoints opens the checkpoint store of def and returns it with the key
// its pipeline saves under. The store is nil when def has no checkpoint
// backend.
func Checkpoints(def *definition.Definition, env etlkit.Environment, opts Options) (state.Store, string, error) {
	f := opts.Factories.WithDefaults()

	cfgOpts, err := def.ConfigOptions()
	if err != nil {
		return nil, "", err
	}
	cfg := etlkit.NewConfig(env, append(cfgOpts, etlkit.WithConfigLogger(slog.New(slog.DiscardHandler)))...)

	store, err := f.State(def.Checkpoint.Backend, stateOptions(def))
	if err != nil {
		return nil, "", fmt.Errorf("open checkpoint store: %w", err)
	}
	return store, etlkit.CheckpointKey(cfg), nil
}

func stateOptions(def *definition.Definition) state.Options {
	return state.Options{
		Path:      def.Checkpoint.Path,
		RedisAddr: def.Checkpoint.RedisAddr,
		TTL:       def.Checkpoint.TTL,
	}
}

func (b *builder) googleCreds() (credentials.Google, error) {
	if b.google != nil {
		return *b.google, nil
	}
	g, err := credentials.ReadGoogle(b.def.Credentials.Google)
	if err != nil {
		return credentials.Google{}, err
	}
	b.google = &g
	return g, nil
}

func (b *builder) salesforce(ctx context.Context) (SalesforceClient, error) {
	if b.sf != nil {
		return b.sf, nil
	}
	creds, err := credentials.ReadSalesforce(b.def.Credentials.Salesforce)
	if err != nil {
		return nil, err
	}
	sf, err := b.f.Salesforce(ctx, creds, b.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to salesforce: %w", err)
	}
	b.sf = sf
	return sf, nil
}

func (b *builder) bigquery(ctx context.Context) (Warehouse, error) {
	if b.warehouse != nil {
		return b.warehouse, nil
	}
	g, err := b.googleCreds()
	if err != nil {
		return nil, err
	}
	w, err := b.f.Warehouse(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("connect to bigquery: %w", err)
	}
	b.warehouse = w
	b.closers = append(b.closers, w)
	return w, nil
}

func (b *builder) extractor(ctx context.Context) (*etlkit.MultiExtractor, error) {
	ext := etlkit.NewMultiExtractor().
		WithParallel(b.def.Extract.Parallel).
		WithLogger(b.logger)
	if b.def.Extract.Workers > 0 {
		ext.WithExtractWorkers(b.def.Extract.Workers)
	}

	for _, job := range b.def.Extract.Jobs {
		var run etlkit.QueryRunner
		switch job.Source {
		case definition.SourceSalesforce, definition.SourceSalesforceBulk:
			sf, err := b.salesforce(ctx)
			if err != nil {
				return nil, err
			}
			run = sf.Runner(job.Source == definition.SourceSalesforceBulk)
		case definition.SourceBigQuery:
			w, err := b.bigquery(ctx)
			if err != nil {
				return nil, err
			}
			run = bq.NewExtractor(w, bq.WithLogger(b.logger))
		default:
			return nil, fmt.Errorf("job %s: unknown source %q", job.Name, job.Source)
		}
		if err := ext.AddJob(run, job.Name, job.Query); err != nil {
			return nil, err
		}
	}
	return ext, nil
}

func (b *builder) transformer() (etlkit.Transformer, error) {
	ctor, err := wrangle.Lookup(b.def.Transform.Name)
	if err != nil {
		return nil, err
	}
	return ctor(wrangle.Params{
		Frame:        b.def.Transform.Frame,
		UniqueIDFrom: b.def.Transform.UniqueIDFrom,
		Logger:       b.logger,
	})
}

func (b *builder) loader(ctx context.Context) (etlkit.Loader, error) {
	ld := b.def.Load
	switch ld.Target {
	case definition.TargetBigQuery:
		w, err := b.bigquery(ctx)
		if err != nil {
			return nil, err
		}
		return bq.NewLoader(w,
			bq.WithLogger(b.logger),
			bq.WithBatchSize(ld.BatchSize),
			bq.WithLoadWorkers(ld.Workers),
		), nil

	case definition.TargetGCS:
		g, err := b.googleCreds()
		if err != nil {
			return nil, err
		}
		store, err := b.f.ObjectStore(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("connect to cloud storage: %w", err)
		}
		b.closers = append(b.closers, store)
		return gcs.NewLoader(store, ld.Bucket, b.logger), nil

	case definition.TargetSheets:
		g, err := b.googleCreds()
		if err != nil {
			return nil, err
		}
		wb, err := b.f.Workbook(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("connect to google sheets: %w", err)
		}
		return sheets.NewLoader(wb, ld.Sheet,
			sheets.WithShareWith(ld.ShareWith...),
			sheets.WithChunkSize(ld.BatchSize),
			sheets.WithLogger(b.logger),
		), nil
	}
	return nil, errors.New("unknown load target " + ld.Target)
}
