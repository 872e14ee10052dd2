// Package etlkit moves tables between Salesforce, BigQuery, Cloud Storage and
// Google Sheets.
//
// A run has three stages. An [Extractor] produces named tables ([Data]), a
// [Transformer] reduces them to one table, and a [Loader] writes that table
// out. The pipeline validates the data between stages and auto-detects
// optional interfaces on the three components, so each component implements
// only what it needs.
//
// # Quick Start
//
//	env, err := etlkit.LoadEnvironment(viper.New(), ".env")
//	if err != nil {
//	    return err
//	}
//	cfg := etlkit.NewConfig(env, etlkit.WithTableName("opportunities"))
//
//	sf, err := salesforce.NewClient(ctx, creds)
//	if err != nil {
//	    return err
//	}
//
//	ext := etlkit.NewMultiExtractor().WithParallel(true)
//	_ = ext.AddJob(sf.Runner(false), "opps",
//	    "SELECT Id, CreatedDate FROM Opportunity WHERE LastModifiedDate >= {{.MinDate}}")
//	_ = ext.AddJob(sf.Runner(true), "fh",
//	    "SELECT OpportunityId, NewValue, CreatedDate FROM OpportunityFieldHistory")
//
//	err = etlkit.New(ext, &wrangle.FieldHistory{}, bq.NewLoader(warehouse), cfg).Run(ctx)
//
// # Configuration
//
// [Config] carries the destination (dataset and table) and the extraction
// window. NewConfig derives defaults from the [Environment]: the dataset is
// <ENVIRONMENT>_published, and a run with LOCATION=cloud is always an update
// run. In update mode MinDate is LookbackDays before now.
//
// Tuning knobs follow one precedence rule: a With method on the pipeline
// beats an interface implemented by a component, which beats the default.
//
//	func (l *MyLoader) LoadWorkers() int   { return 4 }
//	func (l *MyLoader) LoadBatchSize() int { return 500 }
//
//	etlkit.New(ext, tx, &MyLoader{}, cfg).
//	    WithLoadWorkers(8).                  // overrides LoadWorkers()
//	    WithDrainTimeout(30 * time.Second).
//	    Run(ctx)
//
// # Checks
//
// Before transforming, every extracted table must be present and non-empty.
// After transforming, the table must have a Unique_ID column with distinct
// values. Before loading, the table and dataset names must be set. All
// failures of one check step are logged and returned together. An empty
// transformed table is not an error: the load is skipped with a warning.
//
// # Streaming Loads
//
// A loader that implements [BatchLoader] receives the rows in batches through
// a [LoadSession]. The batches come from the loader's Batcher[frame.Row] if it
// has one, otherwise from [SizeBatcher] with the resolved LoadBatchSize, and
// are loaded by LoadWorkers concurrent workers. Commit runs after the last
// batch.
//
// When the parent context is cancelled the pipeline stops dispatching
// batches, lets in-flight batches finish within the drain timeout, and
// returns an error without committing. A session that implements
// [SessionAborter] is aborted instead, e.g. to drop a staging table.
//
// A BatchLoader can implement Load with [LoadAll] so it also works outside a
// pipeline.
//
// # Incremental Runs
//
// WithCheckpointer records the start time of each successful run. A later
// update run whose lookback window starts after that time is widened back to
// it, so a missed schedule does not leave a gap.
//
// # Lifecycle Hooks
//
// [Starter], [Stopper] and [ProgressReporter] are collected from every
// component and from observers added with WithObserver:
//
//	func (r *Reporter) Start(ctx context.Context) context.Context { ... }
//	func (r *Reporter) Stop(ctx context.Context, stats *etlkit.Stats, err error) { ... }
//
// # Command Line
//
// cmd/etlkit runs pipelines described in YAML files:
//
//	etlkit validate -f pipelines/opportunity-history.yaml
//	etlkit run -f pipelines/opportunity-history.yaml --update --metrics-addr :9102
//	etlkit checkpoint show -f pipelines/opportunity-history.yaml
//
// # Error Handling
//
// Without an [ErrorHandler] the first error fails the run. With one, failed
// extract jobs, a failed transform and failed load batches can be skipped.
// Skipped errors are still counted in Stats.Errors.
package etlkit
