package etlkit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ben-leadtech/etlkit/frame"
)

// dryRunRows is how many rows of the transformed table a dry run prints.
const dryRunRows = 10

// Pipeline runs one extract, transform and load pass.
type Pipeline struct {
	extractor   Extractor
	transformer Transformer
	loader      Loader
	cfg         *Config

	logger       *slog.Logger
	runID        string
	dryRun       io.Writer
	checkpointer Checkpointer
	cpKey        string
	now          func() time.Time

	// Configuration overrides (nil means use interface value or default)
	loadWorkerCount *int
	batchSize       *int
	reportInterval  *int
	drainTimeout    *time.Duration

	// Optional capabilities (detected from the components)
	errHandler          ErrorHandler
	starters            []Starter
	stoppers            []Stopper
	progress            []ProgressReporter
	batchLoader         BatchLoader
	batcher             Batcher[frame.Row]
	loadBatchSizeIface  LoadBatchSize
	reportIntervalIface ReportInterval
	loadWorkers         LoadWorkers
	drainTimeoutIface   DrainTimeout
}

// New creates a Pipeline. Optional interfaces are auto-detected on the
// extractor, transformer and loader; when more than one component implements
// a single-valued capability (ErrorHandler, ReportInterval, tuning knobs) the
// first in that order wins. Starter, Stopper and ProgressReporter are
// collected from every component.
//
// BatchLoader and Batcher[frame.Row] are only detected on the loader.
func New(extractor Extractor, transformer Transformer, loader Loader, cfg *Config) *Pipeline {
	p := &Pipeline{
		extractor:   extractor,
		transformer: transformer,
		loader:      loader,
		cfg:         cfg,
		logger:      slog.Default(),
		runID:       uuid.NewString(),
		now:         time.Now,
	}

	components := []any{extractor, transformer, loader}

	p.errHandler, _ = detect[ErrorHandler](components...)
	p.reportIntervalIface, _ = detect[ReportInterval](components...)
	p.loadBatchSizeIface, _ = detect[LoadBatchSize](components...)
	p.loadWorkers, _ = detect[LoadWorkers](components...)
	p.drainTimeoutIface, _ = detect[DrainTimeout](components...)
	p.batchLoader, _ = detect[BatchLoader](loader)
	p.batcher, _ = detect[Batcher[frame.Row]](loader)

	for _, c := range components {
		p.observe(c)
	}

	return p
}

// detect returns the first component that implements T.
func detect[T any](components ...any) (T, bool) {
	for _, c := range components {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func (p *Pipeline) observe(c any) {
	if s, ok := c.(Starter); ok {
		p.starters = append(p.starters, s)
	}
	if s, ok := c.(Stopper); ok {
		p.stoppers = append(p.stoppers, s)
	}
	if r, ok := c.(ProgressReporter); ok {
		p.progress = append(p.progress, r)
	}
}

// WithObserver registers an extra component whose Starter, Stopper and
// ProgressReporter hooks are called alongside the stage components' hooks.
func (p *Pipeline) WithObserver(o any) *Pipeline {
	if o != nil {
		p.observe(o)
		if p.reportIntervalIface == nil {
			p.reportIntervalIface, _ = o.(ReportInterval)
		}
	}
	return p
}

// WithLoadWorkers overrides the number of concurrent load workers.
// Priority: this method > LoadWorkers interface > DefaultLoadWorkers.
// Values less than 1 are ignored.
func (p *Pipeline) WithLoadWorkers(n int) *Pipeline {
	if n >= 1 {
		p.loadWorkerCount = &n
	}
	return p
}

// WithLoadBatchSize overrides the number of rows per LoadBatch call.
// Priority: this method > LoadBatchSize interface > DefaultLoadBatchSize.
// Values less than 1 are ignored.
func (p *Pipeline) WithLoadBatchSize(n int) *Pipeline {
	if n >= 1 {
		p.batchSize = &n
	}
	return p
}

// WithReportInterval overrides how often to report progress (in rows).
// Priority: this method > ReportInterval interface > DefaultReportInterval.
// Values less than 1 are ignored.
func (p *Pipeline) WithReportInterval(n int) *Pipeline {
	if n >= 1 {
		p.reportInterval = &n
	}
	return p
}

// WithDrainTimeout overrides the graceful shutdown timeout of the load stage.
// Priority: this method > DrainTimeout interface > DefaultDrainTimeout.
// Set to 0 to disable graceful shutdown. Negative values are ignored.
func (p *Pipeline) WithDrainTimeout(d time.Duration) *Pipeline {
	if d < 0 {
		return p
	}
	p.drainTimeout = &d
	return p
}

// WithErrorHandler sets the error policy, replacing any detected one.
func (p *Pipeline) WithErrorHandler(h ErrorHandler) *Pipeline {
	p.errHandler = h
	return p
}

// WithLogger sets the logger. The default is slog.Default().
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	if l != nil {
		p.logger = l
	}
	return p
}

// WithCheckpointer enables incremental runs backed by store. An empty key
// uses CheckpointKey(cfg).
func (p *Pipeline) WithCheckpointer(store Checkpointer, key string) *Pipeline {
	p.checkpointer = store
	p.cpKey = key
	return p
}

// WithRunID sets the run ID recorded in logs and checkpoints. The default is
// a random UUID.
func (p *Pipeline) WithRunID(id string) *Pipeline {
	if id != "" {
		p.runID = id
	}
	return p
}

// WithDryRun makes Run stop after the transform checks and print the head of
// the transformed table to w instead of loading it. Checkpoints are neither
// read nor written.
func (p *Pipeline) WithDryRun(w io.Writer) *Pipeline {
	p.dryRun = w
	return p
}

// RunID returns the run ID.
func (p *Pipeline) RunID() string { return p.runID }

// Config returns the run configuration. Run may move MinDate back when a
// checkpoint is older than the lookback window.
func (p *Pipeline) Config() *Config { return p.cfg }

// Run executes the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.cfg == nil {
		p.logger.Error("no config supplied, nothing to run")
		return ErrNilConfig
	}

	stats := &Stats{}
	started := p.now()

	for _, s := range p.starters {
		ctx = s.Start(ctx)
	}

	drainCtx, shutdownComplete := p.setupDrainContext(ctx)
	defer close(shutdownComplete)

	err := p.execute(ctx, drainCtx, started, stats)

	for _, s := range p.stoppers {
		s.Stop(drainCtx, stats, err)
	}

	return err
}

// execute runs the stages in order and reports the first fatal error.
func (p *Pipeline) execute(ctx, drainCtx context.Context, started time.Time, stats *Stats) error {
	logger := p.logger.With("run_id", p.runID, "table", p.cfg.FullTableName())

	if p.dryRun == nil {
		if err := p.loadCheckpoint(ctx, logger, stats); err != nil {
			return err
		}
	}

	logger.Info("extracting", "config", p.cfg)
	data, err := p.extractor.Extract(ctx, p.cfg)
	if err != nil {
		stats.incErrors(1)
		return fmt.Errorf("extract: %w", err)
	}
	if data != nil {
		stats.incFrames(int64(data.Len()))
		stats.incExtracted(int64(data.Rows()))
	}
	if err := RunChecks(logger, CheckInputs(data)...); err != nil {
		return fmt.Errorf("input checks: %w", err)
	}

	out, err := p.transformer.Transform(ctx, data)
	if err != nil {
		stats.incErrors(1)
		err = fmt.Errorf("transform: %w", err)
		if p.errHandler != nil && p.errHandler.OnError(ctx, StageTransform, err) == ActionSkip {
			logger.Warn("transform failed, skipping load", "error", err)
			return nil
		}
		return err
	}
	if err := RunChecks(logger, CheckTransformed(out)...); err != nil {
		return fmt.Errorf("transform checks: %w", err)
	}
	stats.incTransformed(int64(out.Len()))

	if p.dryRun != nil {
		fmt.Fprintf(p.dryRun, "dry run: %d rows would be loaded into %s\n", out.Len(), p.cfg.FullTableName())
		out.Format(p.dryRun, dryRunRows)
		return nil
	}

	if err := RunChecks(logger, CheckLoad(out, p.cfg)...); err != nil {
		return fmt.Errorf("load checks: %w", err)
	}

	if out.Empty() {
		logger.Warn("not loading anything: the transformed table is empty")
	} else if err := p.load(ctx, drainCtx, out, stats); err != nil {
		return err
	}

	if err := p.saveCheckpoint(ctx, started, stats); err != nil {
		return err
	}

	logger.Info("pipeline complete", "stats", stats, "elapsed", p.now().Sub(started))
	return nil
}

// load writes out through the streaming load stage when the loader supports
// batches, or with a single Load call otherwise.
func (p *Pipeline) load(ctx, drainCtx context.Context, out *frame.Frame, stats *Stats) error {
	if p.batchLoader != nil {
		return p.runLoad(ctx, drainCtx, out, stats)
	}

	if err := p.loader.Load(ctx, out, p.cfg); err != nil {
		stats.incErrors(1)
		return fmt.Errorf("load: %w", err)
	}
	stats.incLoaded(int64(out.Len()))
	stats.incBatches(1)
	return nil
}

// setupDrainContext creates a context for graceful shutdown with two-phase management:
// - parent ctx: When cancelled, signals "stop dispatching new batches"
// - drainCtx: Allows in-flight batches to complete within the drain timeout
func (p *Pipeline) setupDrainContext(ctx context.Context) (context.Context, chan struct{}) {
	drainTimeout := p.resolveDrainTimeout()
	drainCtx, drainCancel := context.WithCancelCause(context.WithoutCancel(ctx))
	shutdownComplete := make(chan struct{})

	if drainTimeout > 0 {
		go p.runDrainTimer(ctx, drainTimeout, drainCancel, shutdownComplete)
	} else {
		go p.mirrorContextCancel(ctx, drainCancel, shutdownComplete)
	}

	return drainCtx, shutdownComplete
}

// runDrainTimer starts a timer when parent context is cancelled, cancelling drain context on timeout.
func (p *Pipeline) runDrainTimer(ctx context.Context, timeout time.Duration, cancel context.CancelCauseFunc, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel(fmt.Errorf("drain timeout expired after %v", timeout))
		case <-done:
			cancel(nil)
		}
	case <-done:
		cancel(nil)
	}
}

// mirrorContextCancel cancels drain context when parent context is cancelled (no graceful shutdown).
func (p *Pipeline) mirrorContextCancel(ctx context.Context, cancel context.CancelCauseFunc, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		cancel(ctx.Err())
	case <-done:
		cancel(nil)
	}
}
