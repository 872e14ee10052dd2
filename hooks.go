package etlkit

import "context"

// ErrorHandler customizes error handling per stage. Without an ErrorHandler,
// the first error in any stage fails the run.
//
// The pipeline looks for an ErrorHandler on the extractor, transformer and
// loader, in that order, and uses the first it finds. A [MultiExtractor]
// consults it for each failed job.
//
// What a skip means per stage:
//   - StageExtract: the failed job's table is left out of the extracted Data
//   - StageTransform: the run ends successfully with nothing loaded
//   - StageLoad: the failed batch is dropped and the remaining batches load
//
// Example:
//
//	func (l *SheetLoader) OnError(ctx context.Context, stage etlkit.Stage, err error) etlkit.Action {
//	    if stage == etlkit.StageLoad {
//	        slog.WarnContext(ctx, "dropping batch", "error", err)
//	        return etlkit.ActionSkip
//	    }
//	    return etlkit.ActionFail
//	}
//
// Skipped errors still increment Stats.Errors. The err passed to Stopper.Stop
// is only the error Run returns.
type ErrorHandler interface {
	OnError(ctx context.Context, stage Stage, err error) Action
}

// ErrorHandlerFunc adapts a function to the [ErrorHandler] interface.
type ErrorHandlerFunc func(ctx context.Context, stage Stage, err error) Action

func (f ErrorHandlerFunc) OnError(ctx context.Context, stage Stage, err error) Action {
	return f(ctx, stage, err)
}

// Starter is called before the run begins. The returned context is used for
// the whole run and is the place to attach request IDs or logger fields.
//
// Start is called exactly once, before Extract.
type Starter interface {
	Start(ctx context.Context) context.Context
}

// Stopper is called after the run completes, whether it succeeded, failed or
// was interrupted. The ctx passed to Stop stays valid after the parent
// context is cancelled, so Stop can still write metrics or notifications.
//
// The err parameter is the same error value returned by Run.
//
// Example:
//
//	func (r *Reporter) Stop(ctx context.Context, stats *etlkit.Stats, err error) {
//	    if err != nil {
//	        slog.ErrorContext(ctx, "pipeline failed", "error", err, "stats", stats)
//	        return
//	    }
//	    slog.InfoContext(ctx, "pipeline complete", "stats", stats)
//	}
//
// Stop is called exactly once, after the last stage returns.
type Stopper interface {
	Stop(ctx context.Context, stats *Stats, err error)
}
