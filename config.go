package etlkit

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Defaults for a run configuration.
const (
	DefaultLookbackDays = 5

	// LocationCloud is the LOCATION value of deployed runs. A cloud run is
	// always an update run.
	LocationCloud = "cloud"

	// MinDateLayout is the layout of MinDate when it is rendered into a
	// query.
	MinDateLayout = "2006-01-02T15:04:05Z"
)

// DefaultMinDate is the start of the extraction window for a full (non
// update) run.
var DefaultMinDate = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	ErrNilConfig        = errors.New("etlkit: no config supplied")
	ErrEmptyTableName   = errors.New("etlkit: table name is empty")
	ErrEmptyDatasetName = errors.New("etlkit: dataset name is empty")
)

// Config describes one pipeline run: where the output goes and which window
// of source data to read.
type Config struct {
	// UpdateMode merges into the existing output instead of replacing it and
	// narrows the window to the last LookbackDays days.
	UpdateMode bool

	TableName   string
	DatasetName string
	ProjectID   string

	LookbackDays int

	// MinDate is the lower bound of the extraction window.
	MinDate time.Time
}

type configBuilder struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// ConfigOption customizes NewConfig.
type ConfigOption func(*configBuilder)

// WithUpdateMode sets whether the run merges into existing output.
func WithUpdateMode(on bool) ConfigOption {
	return func(b *configBuilder) { b.cfg.UpdateMode = on }
}

// WithTableName sets the output table name.
func WithTableName(name string) ConfigOption {
	return func(b *configBuilder) { b.cfg.TableName = name }
}

// WithDatasetName overrides the output dataset, which defaults to
// <ENVIRONMENT>_published.
func WithDatasetName(name string) ConfigOption {
	return func(b *configBuilder) { b.cfg.DatasetName = name }
}

// WithLookbackDays sets the update-mode window. Values below 1 are ignored.
func WithLookbackDays(days int) ConfigOption {
	return func(b *configBuilder) {
		if days >= 1 {
			b.cfg.LookbackDays = days
		}
	}
}

// WithMinDate sets the start of the window for full runs. It has no effect in
// update mode.
func WithMinDate(t time.Time) ConfigOption {
	return func(b *configBuilder) { b.cfg.MinDate = t.UTC() }
}

// WithConfigLogger sets the logger used to report derived settings.
func WithConfigLogger(l *slog.Logger) ConfigOption {
	return func(b *configBuilder) { b.logger = l }
}

// WithClock replaces time.Now when computing the update-mode window.
func WithClock(now func() time.Time) ConfigOption {
	return func(b *configBuilder) { b.now = now }
}

// NewConfig builds the run configuration for env.
//
// A run with env.Location == "cloud" is forced into update mode. In update
// mode MinDate becomes now minus LookbackDays, truncated to the second.
func NewConfig(env Environment, opts ...ConfigOption) *Config {
	b := &configBuilder{
		cfg: Config{
			DatasetName:  env.Environment + "_published",
			ProjectID:    env.ProjectID,
			LookbackDays: DefaultLookbackDays,
			MinDate:      DefaultMinDate,
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	if env.Location == LocationCloud && !b.cfg.UpdateMode {
		b.logger.Info("running in the cloud, forcing update mode")
		b.cfg.UpdateMode = true
	}

	if b.cfg.UpdateMode {
		b.cfg.MinDate = b.now().UTC().AddDate(0, 0, -b.cfg.LookbackDays).Truncate(time.Second)
		b.logger.Info("running in update mode", "min_date", b.cfg.MinDateString())
	}

	cfg := b.cfg
	return &cfg
}

// MinDateString renders MinDate for use in SOQL and SQL filters.
func (c *Config) MinDateString() string {
	return c.MinDate.UTC().Format(MinDateLayout)
}

// FullTableName returns project.dataset.table, omitting an empty project.
func (c *Config) FullTableName() string {
	if c.ProjectID == "" {
		return c.DatasetName + "." + c.TableName
	}
	return c.ProjectID + "." + c.DatasetName + "." + c.TableName
}

// Validate reports every missing output name.
func (c *Config) Validate() error {
	var err error
	if c.TableName == "" {
		err = multierr.Append(err, ErrEmptyTableName)
	}
	if c.DatasetName == "" {
		err = multierr.Append(err, ErrEmptyDatasetName)
	}
	return err
}

func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "update_mode: %t\n", c.UpdateMode)
	fmt.Fprintf(&sb, "table_name: %s\n", c.TableName)
	fmt.Fprintf(&sb, "dataset_name: %s\n", c.DatasetName)
	fmt.Fprintf(&sb, "project_id: %s\n", c.ProjectID)
	fmt.Fprintf(&sb, "lookback_days: %d\n", c.LookbackDays)
	fmt.Fprintf(&sb, "min_date: %s\n", c.MinDateString())
	return sb.String()
}

// LogValue implements slog.LogValuer.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("update_mode", c.UpdateMode),
		slog.String("table", c.FullTableName()),
		slog.String("min_date", c.MinDateString()),
	)
}
