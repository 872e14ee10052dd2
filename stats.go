package etlkit

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
)

// Stats provides run statistics with thread-safe access.
// Counter fields use atomic operations for safe concurrent access from extract
// and load worker goroutines.
type Stats struct {
	frames      atomic.Int64
	extracted   atomic.Int64
	transformed atomic.Int64
	loaded      atomic.Int64
	batches     atomic.Int64
	errors      atomic.Int64
}

// NewStats creates a Stats with initial counter values.
// Use this when restoring checkpoint data from storage.
func NewStats(frames, extracted, transformed, loaded, batches, errors int64) *Stats {
	s := &Stats{}
	s.frames.Store(frames)
	s.extracted.Store(extracted)
	s.transformed.Store(transformed)
	s.loaded.Store(loaded)
	s.batches.Store(batches)
	s.errors.Store(errors)
	return s
}

// Frames returns the number of tables extracted.
func (s *Stats) Frames() int64 { return s.frames.Load() }

// Extracted returns the number of rows extracted across all tables.
func (s *Stats) Extracted() int64 { return s.extracted.Load() }

// Transformed returns the number of rows in the transformed table.
func (s *Stats) Transformed() int64 { return s.transformed.Load() }

// Loaded returns the number of rows loaded.
func (s *Stats) Loaded() int64 { return s.loaded.Load() }

// Batches returns the number of batches loaded.
func (s *Stats) Batches() int64 { return s.batches.Load() }

// Errors returns the number of errors encountered, including skipped ones.
func (s *Stats) Errors() int64 { return s.errors.Load() }

// LogValue implements slog.LogValuer for structured logging.
func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("frames", s.Frames()),
		slog.Int64("extracted", s.Extracted()),
		slog.Int64("transformed", s.Transformed()),
		slog.Int64("loaded", s.Loaded()),
		slog.Int64("batches", s.Batches()),
		slog.Int64("errors", s.Errors()),
	)
}

type statsJSON struct {
	Frames      int64 `json:"frames"`
	Extracted   int64 `json:"extracted"`
	Transformed int64 `json:"transformed"`
	Loaded      int64 `json:"loaded"`
	Batches     int64 `json:"batches"`
	Errors      int64 `json:"errors"`
}

// MarshalJSON implements json.Marshaler for Stats serialization.
func (s *Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(statsJSON{
		Frames:      s.frames.Load(),
		Extracted:   s.extracted.Load(),
		Transformed: s.transformed.Load(),
		Loaded:      s.loaded.Load(),
		Batches:     s.batches.Load(),
		Errors:      s.errors.Load(),
	})
}

// UnmarshalJSON implements json.Unmarshaler for Stats deserialization.
func (s *Stats) UnmarshalJSON(data []byte) error {
	var v statsJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.restore(NewStats(v.Frames, v.Extracted, v.Transformed, v.Loaded, v.Batches, v.Errors))
	return nil
}

func (s *Stats) restore(from *Stats) {
	s.frames.Store(from.frames.Load())
	s.extracted.Store(from.extracted.Load())
	s.transformed.Store(from.transformed.Load())
	s.loaded.Store(from.loaded.Load())
	s.batches.Store(from.batches.Load())
	s.errors.Store(from.errors.Load())
}

// Internal increment methods. These return the new value after incrementing,
// which the load workers use for race-free progress tracking.
func (s *Stats) incFrames(n int64) int64      { return s.frames.Add(n) }
func (s *Stats) incExtracted(n int64) int64   { return s.extracted.Add(n) }
func (s *Stats) incTransformed(n int64) int64 { return s.transformed.Add(n) }
func (s *Stats) incLoaded(n int64) int64      { return s.loaded.Add(n) }
func (s *Stats) incBatches(n int64) int64     { return s.batches.Add(n) }
func (s *Stats) incErrors(n int64) int64      { return s.errors.Add(n) }
