// Package definition reads pipeline definition files.
//
// A definition names the extract jobs, the transform and the load target of
// one pipeline:
//
//	version: "1.0"
//	name: opportunity-history
//	config:
//	  table_name: opp_field_history
//	  lookback_days: 5
//	credentials:
//	  salesforce: creds/salesforce.json
//	  google: creds/google.json
//	extract:
//	  parallel: true
//	  jobs:
//	    - name: opps
//	      source: salesforce
//	      query: SELECT Id, CreatedDate FROM Opportunity WHERE LastModifiedDate >= {{.MinDate}}
//	    - name: fh
//	      source: salesforce-bulk
//	      query: SELECT OpportunityId, NewValue, CreatedDate FROM OpportunityFieldHistory
//	transform:
//	  name: field-history
//	load:
//	  target: bigquery
//	checkpoint:
//	  backend: bolt
//	  path: state/checkpoints.db
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ben-leadtech/etlkit"
)

// Version is the only definition format version understood.
const Version = "1.0"

// Extract sources.
const (
	SourceSalesforce     = "salesforce"
	SourceSalesforceBulk = "salesforce-bulk"
	SourceBigQuery       = "bigquery"
)

// Load targets.
const (
	TargetBigQuery = "bigquery"
	TargetGCS      = "gcs"
	TargetSheets   = "sheets"
)

// Definition is a parsed pipeline file.
type Definition struct {
	Version     string      `yaml:"version"`
	Name        string      `yaml:"name"`
	Config      Config      `yaml:"config"`
	Credentials Credentials `yaml:"credentials"`
	Extract     Extract     `yaml:"extract"`
	Transform   Transform   `yaml:"transform"`
	Load        LoadSpec    `yaml:"load"`
	Checkpoint  Checkpoint  `yaml:"checkpoint,omitempty"`
}

// Config mirrors etlkit.Config.
type Config struct {
	UpdateMode   bool   `yaml:"update_mode,omitempty"`
	TableName    string `yaml:"table_name"`
	DatasetName  string `yaml:"dataset_name,omitempty"`
	LookbackDays int    `yaml:"lookback_days,omitempty"`

	// MinDate is a date (2006-01-02) or an RFC 3339 timestamp.
	MinDate string `yaml:"min_date,omitempty"`
}

// Credentials are paths to credential files.
type Credentials struct {
	Salesforce string `yaml:"salesforce,omitempty"`
	Google     string `yaml:"google,omitempty"`
}

type Extract struct {
	Parallel bool  `yaml:"parallel,omitempty"`
	Workers  int   `yaml:"workers,omitempty"`
	Jobs     []Job `yaml:"jobs"`
}

// Job is one extract query. Its result is stored as df_<name>.
type Job struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Query  string `yaml:"query"`
}

type Transform struct {
	Name         string   `yaml:"name"`
	Frame        string   `yaml:"frame,omitempty"`
	UniqueIDFrom []string `yaml:"unique_id_from,omitempty"`
}

type LoadSpec struct {
	Target    string   `yaml:"target"`
	Bucket    string   `yaml:"bucket,omitempty"`
	Sheet     string   `yaml:"sheet,omitempty"`
	ShareWith []string `yaml:"share_with,omitempty"`
	BatchSize int      `yaml:"batch_size,omitempty"`
	Workers   int      `yaml:"workers,omitempty"`
}

type Checkpoint struct {
	Backend   string        `yaml:"backend,omitempty"`
	Path      string        `yaml:"path,omitempty"`
	RedisAddr string        `yaml:"redis_addr,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
}

// Load reads and validates the definition at path. Relative credential and
// checkpoint paths are resolved against the file's directory.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.resolve(filepath.Dir(path))
	return def, nil
}

// Parse decodes and validates a definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	return &def, nil
}

func (d *Definition) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	d.Credentials.Salesforce = abs(d.Credentials.Salesforce)
	d.Credentials.Google = abs(d.Credentials.Google)
	d.Checkpoint.Path = abs(d.Checkpoint.Path)
}

// ConfigOptions translates the config section into etlkit options.
func (d *Definition) ConfigOptions() ([]etlkit.ConfigOption, error) {
	opts := []etlkit.ConfigOption{
		etlkit.WithTableName(d.Config.TableName),
		etlkit.WithUpdateMode(d.Config.UpdateMode),
	}
	if d.Config.DatasetName != "" {
		opts = append(opts, etlkit.WithDatasetName(d.Config.DatasetName))
	}
	if d.Config.LookbackDays > 0 {
		opts = append(opts, etlkit.WithLookbackDays(d.Config.LookbackDays))
	}
	if d.Config.MinDate != "" {
		t, err := parseMinDate(d.Config.MinDate)
		if err != nil {
			return nil, err
		}
		opts = append(opts, etlkit.WithMinDate(t))
	}
	return opts, nil
}

// UsesSalesforce reports whether any job reads from Salesforce.
func (d *Definition) UsesSalesforce() bool {
	for _, j := range d.Extract.Jobs {
		if j.Source == SourceSalesforce || j.Source == SourceSalesforceBulk {
			return true
		}
	}
	return false
}

// UsesGoogle reports whether any job or the load target needs Google Cloud.
func (d *Definition) UsesGoogle() bool {
	for _, j := range d.Extract.Jobs {
		if j.Source == SourceBigQuery {
			return true
		}
	}
	return d.Load.Target != ""
}

func parseMinDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("config.min_date must be a date (2006-01-02) or an RFC 3339 timestamp")
	}
	return t, nil
}
