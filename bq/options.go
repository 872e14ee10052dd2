package bq

import "log/slog"

// Loader defaults.
const (
	DefaultBatchSize   = 500
	DefaultLoadWorkers = 4

	// maxChunkBytes bounds the rows encoded by one LoadBatch call.
	maxChunkBytes = 9 << 20
)

type options struct {
	logger    *slog.Logger
	batchSize int
	workers   int
}

// Option configures an Extractor or Loader.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBatchSize sets the maximum rows encoded per LoadBatch call.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.batchSize = n
		}
	}
}

// WithLoadWorkers sets how many batches are encoded concurrently.
func WithLoadWorkers(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.workers = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
		workers:   DefaultLoadWorkers,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
