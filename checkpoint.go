package etlkit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Checkpoint records the last successful run for a pipeline key.
type Checkpoint struct {
	// Watermark is the start time of the run that produced this checkpoint.
	// Every row modified before it has been loaded.
	Watermark time.Time `json:"watermark"`

	// Stats are the cumulative counters across checkpointed runs.
	Stats *Stats `json:"stats,omitempty"`

	RunID string `json:"run_id"`
}

// LogValue implements slog.LogValuer.
func (c *Checkpoint) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("none")
	}
	return slog.GroupValue(
		slog.Time("watermark", c.Watermark),
		slog.String("run_id", c.RunID),
		slog.Any("stats", c.Stats),
	)
}

// Checkpointer persists checkpoints between runs, enabling incremental
// extraction.
//
// When a Checkpointer is configured with WithCheckpointer:
//
//  1. Before extracting, the pipeline loads the checkpoint for its key and
//     restores the saved stats
//  2. In update mode, a watermark older than Config.MinDate pulls MinDate
//     back to it, so a run that missed its schedule does not leave a gap
//  3. After a successful load, the pipeline saves a new checkpoint whose
//     watermark is the run's start time
//
// A failed or interrupted run leaves the previous checkpoint in place, so the
// next run covers the failed window again. Loads must therefore be idempotent;
// the update-mode BigQuery loader merges on Unique_ID for this reason.
//
// Implementations live in the state package (memory, bbolt, Redis).
type Checkpointer interface {
	// LoadCheckpoint returns the checkpoint saved under key.
	// Return (nil, nil) if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, key string) (*Checkpoint, error)

	// SaveCheckpoint replaces the checkpoint saved under key.
	SaveCheckpoint(ctx context.Context, key string, cp *Checkpoint) error

	// ClearCheckpoint removes the checkpoint saved under key. Clearing a
	// missing key is not an error.
	ClearCheckpoint(ctx context.Context, key string) error
}

// CheckpointKey is the default checkpoint key for cfg: dataset.table.
func CheckpointKey(cfg *Config) string {
	return cfg.DatasetName + "." + cfg.TableName
}

// loadCheckpoint restores stats and widens the extraction window from the
// saved checkpoint, if any.
func (p *Pipeline) loadCheckpoint(ctx context.Context, logger *slog.Logger, stats *Stats) error {
	if p.checkpointer == nil {
		return nil
	}

	cp, err := p.checkpointer.LoadCheckpoint(ctx, p.checkpointKey())
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		logger.Info("no checkpoint, starting fresh")
		return nil
	}

	if cp.Stats != nil {
		stats.restore(cp.Stats)
	}
	if p.cfg.UpdateMode && !cp.Watermark.IsZero() && cp.Watermark.Before(p.cfg.MinDate) {
		p.cfg.MinDate = cp.Watermark.UTC().Truncate(time.Second)
		logger.Info("checkpoint is older than the lookback window, widening it",
			"min_date", p.cfg.MinDateString())
	}
	logger.Debug("loaded checkpoint", "checkpoint", cp)
	return nil
}

// saveCheckpoint records a successful run.
func (p *Pipeline) saveCheckpoint(ctx context.Context, started time.Time, stats *Stats) error {
	if p.checkpointer == nil {
		return nil
	}
	cp := &Checkpoint{
		Watermark: started.UTC(),
		Stats:     stats,
		RunID:     p.runID,
	}
	if err := p.checkpointer.SaveCheckpoint(ctx, p.checkpointKey(), cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (p *Pipeline) checkpointKey() string {
	if p.cpKey != "" {
		return p.cpKey
	}
	return CheckpointKey(p.cfg)
}
