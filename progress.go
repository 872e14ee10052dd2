package etlkit

import "context"

// ReportInterval controls how often progress is reported, measured in rows
// loaded. It can be implemented without ProgressReporter to set the interval
// on a component rather than the builder.
//
// WithReportInterval takes precedence. If neither is set,
// DefaultReportInterval (10,000 rows) is used.
type ReportInterval interface {
	ReportInterval() int
}

// ProgressReporter receives periodic progress updates during the load stage.
//
// OnProgress is called each time the cumulative loaded row count crosses a
// ReportInterval boundary. It runs on a load worker goroutine, so it should
// not block. The Stats passed in are safe to read concurrently.
//
// Example:
//
//	func (r *Reporter) ReportInterval() int { return 5000 }
//
//	func (r *Reporter) OnProgress(ctx context.Context, stats *etlkit.Stats) {
//	    slog.InfoContext(ctx, "progress", "loaded", stats.Loaded(), "errors", stats.Errors())
//	}
type ProgressReporter interface {
	ReportInterval

	OnProgress(ctx context.Context, stats *Stats)
}
