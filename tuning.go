package etlkit

import "time"

// Default tuning values.
const (
	DefaultExtractWorkers = 0 // one goroutine per job
	DefaultLoadWorkers    = 1
	DefaultLoadBatchSize  = 100
	DefaultReportInterval = 10000
	DefaultDrainTimeout   = 5 * time.Minute
)

// LoadWorkers controls worker parallelism for the load stage of a
// [BatchLoader]. Implement it on the loader to set the concurrency level
// there rather than on the pipeline builder.
//
// WithLoadWorkers takes precedence. If neither is set, DefaultLoadWorkers (1)
// is used. Sinks that must see rows in order (CSV objects, sheets) keep the
// default.
//
// Example:
//
//	func (l *WarehouseLoader) LoadWorkers() int { return 4 }
type LoadWorkers interface {
	LoadWorkers() int
}

// LoadBatchSize controls the number of rows handed to each LoadBatch call
// when the loader does not implement Batcher[frame.Row].
//
// WithLoadBatchSize takes precedence. If neither is set, DefaultLoadBatchSize
// (100) is used.
//
// Example:
//
//	func (l *WarehouseLoader) LoadBatchSize() int { return 500 }
type LoadBatchSize interface {
	LoadBatchSize() int
}

// DrainTimeout controls graceful shutdown of the load stage. When the parent
// context is cancelled (e.g. SIGTERM), the pipeline:
//
//  1. Stops dispatching new batches
//  2. Lets in-flight batches finish within the timeout
//  3. Returns an error naming how many rows were loaded, without committing,
//     and aborts the session if it implements SessionAborter
//
// WithDrainTimeout takes precedence. If neither is set, DefaultDrainTimeout
// (5 minutes) is used. Zero disables draining: in-flight batches see a
// cancelled context immediately.
type DrainTimeout interface {
	DrainTimeout() time.Duration
}

// resolveLoadWorkers returns the effective load worker count.
// Priority: WithLoadWorkers > LoadWorkers interface > DefaultLoadWorkers.
func (p *Pipeline) resolveLoadWorkers() int {
	if p.loadWorkerCount != nil {
		return *p.loadWorkerCount
	}
	if p.loadWorkers != nil {
		if n := p.loadWorkers.LoadWorkers(); n >= 1 {
			return n
		}
	}
	return DefaultLoadWorkers
}

// resolveLoadBatchSize returns the effective load batch size.
// Priority: WithLoadBatchSize > LoadBatchSize interface > DefaultLoadBatchSize.
func (p *Pipeline) resolveLoadBatchSize() int {
	if p.batchSize != nil {
		return *p.batchSize
	}
	if p.loadBatchSizeIface != nil {
		if n := p.loadBatchSizeIface.LoadBatchSize(); n >= 1 {
			return n
		}
	}
	return DefaultLoadBatchSize
}

// resolveReportInterval returns the effective report interval.
// Priority: WithReportInterval > ReportInterval interface > DefaultReportInterval.
func (p *Pipeline) resolveReportInterval() int {
	if p.reportInterval != nil {
		return *p.reportInterval
	}
	if p.reportIntervalIface != nil {
		if n := p.reportIntervalIface.ReportInterval(); n >= 1 {
			return n
		}
	}
	return DefaultReportInterval
}

// resolveDrainTimeout returns the effective drain timeout.
// Priority: WithDrainTimeout > DrainTimeout interface > DefaultDrainTimeout.
func (p *Pipeline) resolveDrainTimeout() time.Duration {
	if p.drainTimeout != nil {
		return *p.drainTimeout
	}
	if p.drainTimeoutIface != nil {
		return p.drainTimeoutIface.DrainTimeout()
	}
	return DefaultDrainTimeout
}

// resolveExtractWorkers returns the effective parallel extract bound.
// Priority: WithExtractWorkers > DefaultExtractWorkers.
func (m *MultiExtractor) resolveExtractWorkers() int {
	if m.workerCount != nil {
		return *m.workerCount
	}
	return DefaultExtractWorkers
}
