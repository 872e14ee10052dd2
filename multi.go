package etlkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ben-leadtech/etlkit/frame"
)

// FramePrefix is prepended to a job name to form the key of its table in the
// extracted Data.
const FramePrefix = "df_"

var (
	ErrNilRunner     = errors.New("etlkit: extract job has no runner")
	ErrEmptyJobName  = errors.New("etlkit: extract job name is empty")
	ErrEmptyQuery    = errors.New("etlkit: extract job query is empty")
	ErrDuplicateJob  = errors.New("etlkit: duplicate extract job")
	ErrNoExtractJobs = errors.New("etlkit: no extract jobs")
)

// ExtractJob is one query against one source.
type ExtractJob struct {
	Name   string
	Query  string
	Runner QueryRunner
}

// MultiExtractor is an [Extractor] that runs a list of extract jobs and
// collects their results, stored as df_<name> in job order.
//
// Queries are text/template strings rendered against the run [Config] before
// they are sent, so a job can filter on the run window:
//
//	SELECT Id, Name FROM Opportunity WHERE LastModifiedDate >= {{.MinDate}}
//
// By default jobs run one after another. WithParallel runs them concurrently;
// the first failure cancels the others.
type MultiExtractor struct {
	jobs        []ExtractJob
	parallel    bool
	workerCount *int
	errHandler  ErrorHandler
	logger      *slog.Logger
}

// NewMultiExtractor returns an extractor with no jobs.
func NewMultiExtractor() *MultiExtractor {
	return &MultiExtractor{logger: slog.Default()}
}

// WithParallel enables concurrent extraction.
func (m *MultiExtractor) WithParallel(on bool) *MultiExtractor {
	m.parallel = on
	return m
}

// WithExtractWorkers bounds how many jobs run at once in parallel mode.
// Zero removes the bound. Negative values are ignored.
func (m *MultiExtractor) WithExtractWorkers(n int) *MultiExtractor {
	if n >= 0 {
		m.workerCount = &n
	}
	return m
}

// WithErrorHandler sets the policy for failed jobs. Without one, a job whose
// runner implements ErrorHandler uses that; otherwise a failed job fails the
// extraction.
func (m *MultiExtractor) WithErrorHandler(h ErrorHandler) *MultiExtractor {
	m.errHandler = h
	return m
}

// WithLogger sets the logger. The default is slog.Default().
func (m *MultiExtractor) WithLogger(l *slog.Logger) *MultiExtractor {
	if l != nil {
		m.logger = l
	}
	return m
}

// AddJob validates and appends an extract job. Every problem with the
// arguments is reported in the returned error and the job is not added.
func (m *MultiExtractor) AddJob(runner QueryRunner, name, query string) error {
	var err error
	if runner == nil {
		err = multierr.Append(err, ErrNilRunner)
	}
	if name == "" {
		err = multierr.Append(err, ErrEmptyJobName)
	}
	if strings.TrimSpace(query) == "" {
		err = multierr.Append(err, ErrEmptyQuery)
	}
	for _, j := range m.jobs {
		if name != "" && j.Name == name {
			err = multierr.Append(err, fmt.Errorf("%w: %s", ErrDuplicateJob, name))
			break
		}
	}
	if err != nil {
		return err
	}

	m.jobs = append(m.jobs, ExtractJob{Name: name, Query: query, Runner: runner})
	return nil
}

// Jobs returns the configured jobs.
func (m *MultiExtractor) Jobs() []ExtractJob {
	return append([]ExtractJob(nil), m.jobs...)
}

// Extract runs every job and collects the results.
func (m *MultiExtractor) Extract(ctx context.Context, cfg *Config) (*Data, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if len(m.jobs) == 0 {
		return nil, ErrNoExtractJobs
	}

	queries := make([]string, len(m.jobs))
	for i, job := range m.jobs {
		q, err := RenderQuery(job.Query, cfg)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		queries[i] = q
	}

	results := make([]*frame.Frame, len(m.jobs))
	skipped := make([]bool, len(m.jobs))
	run := func(ctx context.Context, i int) error {
		return m.runJob(ctx, i, queries[i], results, skipped)
	}

	var err error
	if m.parallel {
		err = m.extractParallel(ctx, run)
	} else {
		for i := range m.jobs {
			if err = run(ctx, i); err != nil {
				break
			}
		}
	}
	if err != nil {
		return nil, err
	}

	data := NewData()
	for i, job := range m.jobs {
		if !skipped[i] {
			data.Add(FramePrefix+job.Name, results[i])
		}
	}
	return data, nil
}

func (m *MultiExtractor) extractParallel(ctx context.Context, run func(context.Context, int) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	if n := m.resolveExtractWorkers(); n > 0 {
		group.SetLimit(n)
	}
	for i := range m.jobs {
		group.Go(func() error {
			return run(groupCtx, i)
		})
	}
	return group.Wait()
}

// runJob runs job i and stores its result. Each goroutine writes only its
// own slot of results and skipped.
func (m *MultiExtractor) runJob(ctx context.Context, i int, query string, results []*frame.Frame, skipped []bool) error {
	job := m.jobs[i]

	f, err := job.Runner.Query(ctx, query)
	if err != nil {
		err = fmt.Errorf("extract %s: %w", job.Name, err)
		if h := m.handlerFor(job); h != nil && h.OnError(ctx, StageExtract, err) == ActionSkip {
			m.logger.Warn("skipping extract job", "job", job.Name, "error", err)
			skipped[i] = true
			return nil
		}
		m.logger.Error("extract job failed", "job", job.Name, "error", err)
		return err
	}

	results[i] = f
	rows := 0
	if f != nil {
		rows = f.Len()
	}
	m.logger.Info("extracted data", "from", job.Name, "rows", rows)
	return nil
}

func (m *MultiExtractor) handlerFor(job ExtractJob) ErrorHandler {
	if m.errHandler != nil {
		return m.errHandler
	}
	h, _ := job.Runner.(ErrorHandler)
	return h
}

// queryParams are the fields available to query templates.
type queryParams struct {
	MinDate     string
	TableName   string
	DatasetName string
	ProjectID   string
	UpdateMode  bool
}

// RenderQuery renders query as a text/template against cfg. Queries without
// template actions are returned unchanged. Unknown fields are an error.
func RenderQuery(query string, cfg *Config) (string, error) {
	if !strings.Contains(query, "{{") {
		return query, nil
	}

	tmpl, err := template.New("query").Option("missingkey=error").Parse(query)
	if err != nil {
		return "", fmt.Errorf("parse query template: %w", err)
	}

	var sb strings.Builder
	err = tmpl.Execute(&sb, queryParams{
		MinDate:     cfg.MinDateString(),
		TableName:   cfg.TableName,
		DatasetName: cfg.DatasetName,
		ProjectID:   cfg.ProjectID,
		UpdateMode:  cfg.UpdateMode,
	})
	if err != nil {
		return "", fmt.Errorf("render query template: %w", err)
	}
	return sb.String(), nil
}
