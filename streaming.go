package etlkit

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ben-leadtech/etlkit/frame"
)

// resolveBatcher returns the effective batcher.
// Uses the loader's Batcher if implemented, otherwise falls back to SizeBatcher
// with the resolved load batch size.
func (p *Pipeline) resolveBatcher() Batcher[frame.Row] {
	if p.batcher != nil {
		return p.batcher
	}
	return SizeBatcher[frame.Row](p.resolveLoadBatchSize())
}

// runLoad streams the rows of f through a BatchLoader session.
// ctx is checked for the shutdown signal (stop dispatching), drainCtx is used
// by the workers so in-flight batches can finish.
func (p *Pipeline) runLoad(ctx, drainCtx context.Context, f *frame.Frame, stats *Stats) error {
	session, err := p.batchLoader.Begin(ctx, f, p.cfg)
	if err != nil {
		stats.incErrors(1)
		return fmt.Errorf("load: begin: %w", err)
	}

	batches := p.resolveBatcher().Batch(f.Rows())

	group, groupCtx := errgroup.WithContext(drainCtx)
	batchCh := make(chan []frame.Row, p.resolveLoadWorkers())

	// Dispatch uses ctx (parent) so it stops when shutdown is requested
	group.Go(func() error {
		return p.dispatchBatches(ctx, groupCtx, batches, batchCh)
	})

	// Workers use groupCtx (drain context) to finish in-flight batches
	group.Go(func() error {
		return p.runLoadWorkers(groupCtx, session, batchCh, stats)
	})

	if err := group.Wait(); err != nil {
		p.abort(ctx, session)
		return err
	}

	if ctx.Err() != nil {
		p.abort(ctx, session)
		return fmt.Errorf("load interrupted after %d rows: %w", stats.Loaded(), context.Cause(ctx))
	}

	if err := session.Commit(ctx); err != nil {
		stats.incErrors(1)
		return fmt.Errorf("load: commit: %w", err)
	}
	return nil
}

// abort releases a session that will not be committed. Failures are logged
// only; the load error is what the caller reports.
func (p *Pipeline) abort(ctx context.Context, session LoadSession) {
	a, ok := session.(SessionAborter)
	if !ok {
		return
	}
	if err := a.Abort(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("abort load session", "error", err)
	}
}

// LoadAll runs a whole BatchLoader session in the calling goroutine: Begin,
// one LoadBatch per batch in order, then Commit. A nil batcher loads
// everything in one batch. Sessions that implement SessionAborter are
// aborted on failure.
//
// BatchLoaders use it to implement Loader.Load.
func LoadAll(ctx context.Context, bl BatchLoader, b Batcher[frame.Row], f *frame.Frame, cfg *Config) (err error) {
	session, err := bl.Begin(ctx, f, cfg)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if a, ok := session.(SessionAborter); ok {
			err = multierr.Append(err, a.Abort(context.WithoutCancel(ctx)))
		}
	}()

	if b == nil {
		b = NoBatcher[frame.Row]()
	}
	for _, batch := range b.Batch(f.Rows()) {
		if len(batch) == 0 {
			continue
		}
		if err := session.LoadBatch(ctx, batch); err != nil {
			return fmt.Errorf("rows %d-%d: %w", batch[0].Index, batch[len(batch)-1].Index, err)
		}
	}
	return session.Commit(ctx)
}

// dispatchBatches feeds batches to the load workers until they run out or
// shutdown is requested. Shutdown is not an error here; runLoad reports it
// once the workers have drained.
func (p *Pipeline) dispatchBatches(ctx, drainCtx context.Context, batches [][]frame.Row, out chan<- []frame.Row) error {
	defer close(out)

	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-drainCtx.Done():
			return drainCtx.Err()
		case out <- batch:
		}
	}
	return nil
}

func (p *Pipeline) runLoadWorkers(ctx context.Context, session LoadSession, in <-chan []frame.Row, stats *Stats) error {
	var loadGroup errgroup.Group

	reportEvery := int64(p.resolveReportInterval())

	for range p.resolveLoadWorkers() {
		loadGroup.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case batch, ok := <-in:
					if !ok {
						return nil
					}

					if err := session.LoadBatch(ctx, batch); err != nil {
						stats.incErrors(1)
						err = fmt.Errorf("load: rows %d-%d: %w", batch[0].Index, batch[len(batch)-1].Index, err)
						if p.errHandler != nil {
							if p.errHandler.OnError(ctx, StageLoad, err) == ActionSkip {
								continue
							}
						}
						return err
					}

					stats.incBatches(1)

					// The atomic Add returns the new total, so both the previous
					// and current values are known without a separate Load call.
					newLoaded := stats.incLoaded(int64(len(batch)))
					prevLoaded := newLoaded - int64(len(batch))

					if newLoaded/reportEvery > prevLoaded/reportEvery {
						for _, r := range p.progress {
							r.OnProgress(ctx, stats)
						}
					}
				}
			}
		})
	}

	return loadGroup.Wait()
}
