package definition

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/ben-leadtech/etlkit/state"
	"github.com/ben-leadtech/etlkit/wrangle"
)

var (
	sources  = []string{SourceSalesforce, SourceSalesforceBulk, SourceBigQuery}
	targets  = []string{TargetBigQuery, TargetGCS, TargetSheets}
	backends = []string{"", state.BackendNone, state.BackendMemory, state.BackendBolt, state.BackendRedis}
)

// Validate reports every problem in the definition at once.
func (d *Definition) Validate() error {
	var err error
	fail := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}

	if d.Version != Version {
		fail("unsupported version: %q (expected: %s)", d.Version, Version)
	}
	if d.Name == "" {
		fail("name is required")
	}

	if d.Config.TableName == "" {
		fail("config.table_name is required")
	}
	if d.Config.LookbackDays < 0 {
		fail("config.lookback_days must be >= 0, got %d", d.Config.LookbackDays)
	}
	if d.Config.MinDate != "" {
		if _, perr := parseMinDate(d.Config.MinDate); perr != nil {
			err = multierr.Append(err, perr)
		}
	}

	if len(d.Extract.Jobs) == 0 {
		fail("extract.jobs: at least one job is required")
	}
	if d.Extract.Workers < 0 {
		fail("extract.workers must be >= 0, got %d", d.Extract.Workers)
	}
	seen := make(map[string]bool)
	for i, j := range d.Extract.Jobs {
		switch {
		case j.Name == "":
			fail("extract.jobs[%d].name is required", i)
		case seen[j.Name]:
			fail("extract.jobs[%d]: duplicate job name %q", i, j.Name)
		}
		seen[j.Name] = true
		if !slices.Contains(sources, j.Source) {
			fail("extract.jobs[%d].source %q must be one of %v", i, j.Source, sources)
		}
		if j.Query == "" {
			fail("extract.jobs[%d].query is required", i)
		}
	}

	if d.UsesSalesforce() && d.Credentials.Salesforce == "" {
		fail("credentials.salesforce is required by salesforce jobs")
	}
	if d.UsesGoogle() && d.Credentials.Google == "" {
		fail("credentials.google is required by bigquery jobs and every load target")
	}

	if _, lerr := wrangle.Lookup(d.Transform.Name); lerr != nil {
		fail("transform.name: %w", lerr)
	}

	switch d.Load.Target {
	case TargetGCS:
		if d.Load.Bucket == "" {
			fail("load.bucket is required by the gcs target")
		}
	case TargetSheets:
		if d.Load.Sheet == "" {
			fail("load.sheet is required by the sheets target")
		}
	case TargetBigQuery:
	default:
		fail("load.target %q must be one of %v", d.Load.Target, targets)
	}
	if d.Load.BatchSize < 0 {
		fail("load.batch_size must be >= 0, got %d", d.Load.BatchSize)
	}
	if d.Load.Workers < 0 {
		fail("load.workers must be >= 0, got %d", d.Load.Workers)
	}
	if d.Load.Workers > 1 && d.Load.Target != TargetBigQuery {
		fail("load.workers: the %s target writes rows in order with one worker", d.Load.Target)
	}

	switch d.Checkpoint.Backend {
	case state.BackendBolt:
		if d.Checkpoint.Path == "" {
			fail("checkpoint.path is required by the bolt backend")
		}
	case state.BackendRedis:
		if d.Checkpoint.RedisAddr == "" {
			fail("checkpoint.redis_addr is required by the redis backend")
		}
	default:
		if !slices.Contains(backends, d.Checkpoint.Backend) {
			fail("checkpoint.backend %q must be one of %v", d.Checkpoint.Backend, backends[1:])
		}
	}
	if d.Checkpoint.TTL < 0 {
		fail("checkpoint.ttl must not be negative")
	}

	return err
}
