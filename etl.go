package etlkit

import (
	"context"

	"github.com/ben-leadtech/etlkit/frame"
)

// Stage identifies where in the pipeline an event occurred.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// Action tells the pipeline what to do after an error.
type Action string

const (
	ActionFail Action = "fail" // Stop pipeline and return error
	ActionSkip Action = "skip" // Skip this job, transform or batch and continue
)

// Extractor produces the named input tables for a run. Implementations read
// the time window and target names from cfg.
//
// [MultiExtractor] is the usual implementation: it runs one [QueryRunner]
// query per named job and stores each result as df_<name>.
type Extractor interface {
	Extract(ctx context.Context, cfg *Config) (*Data, error)
}

// Transformer turns the extracted tables into the single table to load. The
// result must carry a Unique_ID column with distinct values; the pipeline
// checks this before loading.
//
// Example:
//
//	func (t *Wrangler) Transform(ctx context.Context, data *etlkit.Data) (*frame.Frame, error) {
//	    opps, ok := data.Frame("df_opps")
//	    if !ok {
//	        return nil, errors.New("df_opps missing")
//	    }
//	    out := opps.Clone()
//	    // reshape out...
//	    return out, nil
//	}
type Transformer interface {
	Transform(ctx context.Context, data *Data) (*frame.Frame, error)
}

// Loader writes the transformed table to its destination in one call.
//
// Loaders that can write in pieces should also implement [BatchLoader]; the
// pipeline then streams the rows through its batch and worker machinery and
// Load is not called.
type Loader interface {
	Load(ctx context.Context, f *frame.Frame, cfg *Config) error
}

// BatchLoader is an optional [Loader] capability. Begin prepares the
// destination (create or clear a table, open an object) and returns a session
// that receives the rows in batches. Begin may add columns to f; the pipeline
// reads rows only after Begin returns.
type BatchLoader interface {
	Begin(ctx context.Context, f *frame.Frame, cfg *Config) (LoadSession, error)
}

// LoadSession receives batches from the load workers. LoadBatch may be called
// concurrently when more than one load worker is configured. Commit is called
// once after every batch has been loaded; it is not called when the load
// stage fails or is interrupted.
type LoadSession interface {
	LoadBatch(ctx context.Context, rows []frame.Row) error
	Commit(ctx context.Context) error
}

// SessionAborter is an optional [LoadSession] capability. Abort is called
// instead of Commit when the load stage fails or is interrupted, so the
// session can drop staging tables or discard partial uploads. Its context is
// not cancelled by the shutdown signal.
type SessionAborter interface {
	Abort(ctx context.Context) error
}

// QueryRunner runs a single query against a source and returns its result.
type QueryRunner interface {
	Query(ctx context.Context, query string) (*frame.Frame, error)
}

// ExtractorFunc adapts a function to the [Extractor] interface.
type ExtractorFunc func(ctx context.Context, cfg *Config) (*Data, error)

func (f ExtractorFunc) Extract(ctx context.Context, cfg *Config) (*Data, error) {
	return f(ctx, cfg)
}

// TransformerFunc adapts a function to the [Transformer] interface.
type TransformerFunc func(ctx context.Context, data *Data) (*frame.Frame, error)

func (f TransformerFunc) Transform(ctx context.Context, data *Data) (*frame.Frame, error) {
	return f(ctx, data)
}

// LoaderFunc adapts a function to the [Loader] interface.
type LoaderFunc func(ctx context.Context, f *frame.Frame, cfg *Config) error

func (fn LoaderFunc) Load(ctx context.Context, f *frame.Frame, cfg *Config) error {
	return fn(ctx, f, cfg)
}

// QueryRunnerFunc adapts a function to the [QueryRunner] interface.
type QueryRunnerFunc func(ctx context.Context, query string) (*frame.Frame, error)

func (f QueryRunnerFunc) Query(ctx context.Context, query string) (*frame.Frame, error) {
	return f(ctx, query)
}
