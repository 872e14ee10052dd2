package etlkit_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testConfig() *etlkit.Config {
	return etlkit.NewConfig(
		etlkit.Environment{Environment: "test", ProjectID: "proj"},
		etlkit.WithTableName("opportunities"),
	)
}

// opps builds a frame with n rows and a Unique_ID column.
func opps(t *testing.T, n int) *frame.Frame {
	t.Helper()
	f := frame.New("Id", "Unique_ID")
	for i := range n {
		require.NoError(t, f.Append(i, "uid-"+string(rune('a'+i))))
	}
	return f
}

func extractFrames(frames map[string]*frame.Frame) etlkit.ExtractorFunc {
	return func(_ context.Context, _ *etlkit.Config) (*etlkit.Data, error) {
		data := etlkit.NewData()
		for name, f := range frames {
			data.Add(name, f)
		}
		return data, nil
	}
}

// passthrough returns the df_opps frame unchanged.
var passthrough = etlkit.TransformerFunc(func(_ context.Context, data *etlkit.Data) (*frame.Frame, error) {
	f, _ := data.Frame("df_opps")
	return f, nil
})

// =============================================================================
// Plain Loader
// =============================================================================

type recordingLoader struct {
	loaded []*frame.Frame
	err    error
}

func (l *recordingLoader) Load(_ context.Context, f *frame.Frame, _ *etlkit.Config) error {
	if l.err != nil {
		return l.err
	}
	l.loaded = append(l.loaded, f)
	return nil
}

// =============================================================================
// Batch Loader
// =============================================================================

type batchLoader struct {
	mu        sync.Mutex
	batches   [][]frame.Row
	committed bool
	aborted   atomic.Int32
	beginErr  error
	commitErr error

	// failAt fails every batch whose first row has this index.
	failAt int

	// block, when set, makes LoadBatch wait for release after signaling
	// started on the first call.
	block   bool
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBatchLoader() *batchLoader {
	return &batchLoader{
		failAt:  -1,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (l *batchLoader) Load(context.Context, *frame.Frame, *etlkit.Config) error {
	panic("Load must not be called on a BatchLoader")
}

func (l *batchLoader) Begin(_ context.Context, f *frame.Frame, _ *etlkit.Config) (etlkit.LoadSession, error) {
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	f.AddColumn("Loaded_By", "test")
	return l, nil
}

func (l *batchLoader) LoadBatch(ctx context.Context, rows []frame.Row) error {
	if l.block {
		l.once.Do(func() { close(l.started) })
		select {
		case <-l.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if rows[0].Index == l.failAt {
		return errors.New("batch rejected")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, rows)
	return nil
}

func (l *batchLoader) Commit(context.Context) error {
	if l.commitErr != nil {
		return l.commitErr
	}
	l.committed = true
	return nil
}

func (l *batchLoader) Abort(context.Context) error {
	l.aborted.Add(1)
	return nil
}

func (l *batchLoader) rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, b := range l.batches {
		n += len(b)
	}
	return n
}

// =============================================================================
// Hooks
// =============================================================================

type hooks struct {
	started  bool
	stopped  int
	stopErr  error
	stats    *etlkit.Stats
	progress atomic.Int64
	interval int
	action   etlkit.Action
	stages   []etlkit.Stage
}

func (h *hooks) Start(ctx context.Context) context.Context {
	h.started = true
	return ctx
}

func (h *hooks) Stop(_ context.Context, stats *etlkit.Stats, err error) {
	h.stopped++
	h.stats = stats
	h.stopErr = err
}

func (h *hooks) ReportInterval() int { return h.interval }

func (h *hooks) OnProgress(context.Context, *etlkit.Stats) { h.progress.Add(1) }

func (h *hooks) OnError(_ context.Context, stage etlkit.Stage, _ error) etlkit.Action {
	h.stages = append(h.stages, stage)
	return h.action
}

var (
	_ etlkit.Starter          = (*hooks)(nil)
	_ etlkit.Stopper          = (*hooks)(nil)
	_ etlkit.ProgressReporter = (*hooks)(nil)
	_ etlkit.ErrorHandler     = (*hooks)(nil)
	_ etlkit.BatchLoader      = (*batchLoader)(nil)
	_ etlkit.SessionAborter   = (*batchLoader)(nil)
)

// =============================================================================
// Pipeline Tests
// =============================================================================

func TestPipeline_PlainLoader(t *testing.T) {
	ld := &recordingLoader{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 3)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, ld.loaded, 1)
	require.Equal(t, 3, ld.loaded[0].Len())
}

func TestPipeline_NilConfig(t *testing.T) {
	err := etlkit.New(extractFrames(nil), passthrough, &recordingLoader{}, nil).Run(context.Background())
	require.ErrorIs(t, err, etlkit.ErrNilConfig)
}

func TestPipeline_EmptyInputFailsChecks(t *testing.T) {
	ld := &recordingLoader{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": frame.New("Id")})

	err := etlkit.New(ext, passthrough, ld, testConfig()).Run(context.Background())
	require.ErrorIs(t, err, etlkit.ErrEmptyInput)
	require.Empty(t, ld.loaded)
}

func TestPipeline_MissingUniqueID(t *testing.T) {
	tx := etlkit.TransformerFunc(func(context.Context, *etlkit.Data) (*frame.Frame, error) {
		f := frame.New("Id")
		require.NoError(t, f.Append(1))
		return f, nil
	})
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 1)})

	err := etlkit.New(ext, tx, &recordingLoader{}, testConfig()).Run(context.Background())
	require.ErrorIs(t, err, etlkit.ErrMissingUniqueID)
}

func TestPipeline_DuplicateUniqueID(t *testing.T) {
	f := frame.New("Unique_ID")
	require.NoError(t, f.Append("x"))
	require.NoError(t, f.Append("x"))
	ext := extractFrames(map[string]*frame.Frame{"df_opps": f})

	err := etlkit.New(ext, passthrough, &recordingLoader{}, testConfig()).Run(context.Background())
	require.ErrorIs(t, err, etlkit.ErrDuplicateUniqueID)
	require.ErrorContains(t, err, "x repeats")
}

func TestPipeline_EmptyTableNameFailsLoadChecks(t *testing.T) {
	cfg := testConfig()
	cfg.TableName = ""
	cfg.DatasetName = ""
	ld := &recordingLoader{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 1)})

	err := etlkit.New(ext, passthrough, ld, cfg).Run(context.Background())
	require.ErrorIs(t, err, etlkit.ErrEmptyTableName)
	require.ErrorIs(t, err, etlkit.ErrEmptyDatasetName)
	require.Empty(t, ld.loaded)
}

func TestPipeline_EmptyOutputSkipsLoad(t *testing.T) {
	tx := etlkit.TransformerFunc(func(context.Context, *etlkit.Data) (*frame.Frame, error) {
		return frame.New("Unique_ID"), nil
	})
	ld := &recordingLoader{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 2)})

	err := etlkit.New(ext, tx, ld, testConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, ld.loaded)
}

func TestPipeline_StarterStopper(t *testing.T) {
	h := &hooks{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 2)})

	err := etlkit.New(ext, passthrough, &recordingLoader{}, testConfig()).
		WithObserver(h).
		Run(context.Background())
	require.NoError(t, err)
	require.True(t, h.started)
	require.Equal(t, 1, h.stopped)
	require.NoError(t, h.stopErr)
	require.Equal(t, int64(1), h.stats.Frames())
	require.Equal(t, int64(2), h.stats.Extracted())
	require.Equal(t, int64(2), h.stats.Transformed())
	require.Equal(t, int64(2), h.stats.Loaded())
}

func TestPipeline_StopperSeesRunError(t *testing.T) {
	h := &hooks{}
	boom := errors.New("boom")
	ext := etlkit.ExtractorFunc(func(context.Context, *etlkit.Config) (*etlkit.Data, error) {
		return nil, boom
	})

	err := etlkit.New(ext, passthrough, &recordingLoader{}, testConfig()).WithObserver(h).Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, h.stopped)
	require.ErrorIs(t, h.stopErr, boom)
	require.Equal(t, int64(1), h.stats.Errors())
}

func TestPipeline_DryRun(t *testing.T) {
	var buf bytes.Buffer
	ld := &recordingLoader{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 2)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).WithDryRun(&buf).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, ld.loaded)
	require.Contains(t, buf.String(), "2 rows would be loaded into proj.test_published.opportunities")
	require.Contains(t, buf.String(), "uid-b")
}

func TestPipeline_RunID(t *testing.T) {
	p := etlkit.New(extractFrames(nil), passthrough, &recordingLoader{}, testConfig())
	require.NotEmpty(t, p.RunID())
	require.Equal(t, "run-1", p.WithRunID("run-1").RunID())
	require.Equal(t, "run-1", p.WithRunID("").RunID())
}

// =============================================================================
// Error Handling Tests
// =============================================================================

func TestPipeline_TransformError_Fail(t *testing.T) {
	tx := etlkit.TransformerFunc(func(context.Context, *etlkit.Data) (*frame.Frame, error) {
		return nil, errors.New("bad transform")
	})
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 1)})

	err := etlkit.New(ext, tx, &recordingLoader{}, testConfig()).Run(context.Background())
	require.ErrorContains(t, err, "transform: bad transform")
}

func TestPipeline_TransformError_Skip(t *testing.T) {
	h := &hooks{action: etlkit.ActionSkip}
	tx := etlkit.TransformerFunc(func(context.Context, *etlkit.Data) (*frame.Frame, error) {
		return nil, errors.New("bad transform")
	})
	ld := &recordingLoader{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 1)})

	err := etlkit.New(ext, tx, ld, testConfig()).WithErrorHandler(h).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, ld.loaded)
	require.Equal(t, []etlkit.Stage{etlkit.StageTransform}, h.stages)
}

func TestPipeline_PlainLoadError(t *testing.T) {
	ld := &recordingLoader{err: errors.New("quota")}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 1)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).Run(context.Background())
	require.ErrorContains(t, err, "load: quota")
}

// =============================================================================
// Streaming Load Tests
// =============================================================================

func TestPipeline_BatchLoader(t *testing.T) {
	ld := newBatchLoader()
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 5)})

	h := &hooks{}
	err := etlkit.New(ext, passthrough, ld, testConfig()).
		WithLoadBatchSize(2).
		WithLoadWorkers(2).
		WithObserver(h).
		Run(context.Background())
	require.NoError(t, err)
	require.True(t, ld.committed)
	require.Zero(t, ld.aborted.Load())
	require.Equal(t, 5, ld.rows())
	require.Len(t, ld.batches, 3)
	require.Equal(t, int64(3), h.stats.Batches())

	// Begin added a column; the rows handed out include it.
	for _, b := range ld.batches {
		require.Len(t, b[0].Values, 3)
		require.Equal(t, "test", b[0].Values[2])
	}
}

func TestPipeline_BatchLoader_BeginError(t *testing.T) {
	ld := newBatchLoader()
	ld.beginErr = errors.New("no dataset")
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 2)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).Run(context.Background())
	require.ErrorContains(t, err, "load: begin: no dataset")
	require.False(t, ld.committed)
}

func TestPipeline_BatchLoader_CommitError(t *testing.T) {
	ld := newBatchLoader()
	ld.commitErr = errors.New("merge failed")
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 2)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).Run(context.Background())
	require.ErrorContains(t, err, "load: commit: merge failed")
}

func TestPipeline_BatchError_Fail(t *testing.T) {
	ld := newBatchLoader()
	ld.failAt = 2
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 4)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).WithLoadBatchSize(2).Run(context.Background())
	require.ErrorContains(t, err, "rows 2-3: batch rejected")
	require.False(t, ld.committed)
	require.Equal(t, int32(1), ld.aborted.Load())
}

func TestPipeline_BatchError_Skip(t *testing.T) {
	ld := newBatchLoader()
	ld.failAt = 2
	h := &hooks{action: etlkit.ActionSkip}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 6)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).
		WithLoadBatchSize(2).
		WithErrorHandler(h).
		WithObserver(h).
		Run(context.Background())
	require.NoError(t, err)
	require.True(t, ld.committed)
	require.Equal(t, 4, ld.rows())
	require.Equal(t, []etlkit.Stage{etlkit.StageLoad}, h.stages)
	require.Equal(t, int64(1), h.stats.Errors())
	require.Equal(t, int64(4), h.stats.Loaded())
}

func TestPipeline_ProgressReporter(t *testing.T) {
	ld := newBatchLoader()
	h := &hooks{interval: 2}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 6)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).
		WithLoadBatchSize(1).
		WithObserver(h).
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), h.progress.Load())
}

// sizedLoader sets its own batch size and batcher.
type sizedLoader struct {
	*batchLoader
}

func (sizedLoader) LoadBatchSize() int { return 4 }

func TestPipeline_LoadBatchSizeInterface(t *testing.T) {
	ld := sizedLoader{newBatchLoader()}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 5)})

	require.NoError(t, etlkit.New(ext, passthrough, ld, testConfig()).Run(context.Background()))
	require.Len(t, ld.batches, 2)
}

func TestPipeline_BuilderOverridesInterface(t *testing.T) {
	ld := sizedLoader{newBatchLoader()}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 5)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).WithLoadBatchSize(5).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, ld.batches, 1)
}

type batchingLoader struct {
	*batchLoader
}

func (batchingLoader) Batch(rows []frame.Row) [][]frame.Row {
	return etlkit.NoBatcher[frame.Row]().Batch(rows)
}

func TestPipeline_LoaderBatcher(t *testing.T) {
	ld := batchingLoader{newBatchLoader()}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 7)})

	err := etlkit.New(ext, passthrough, ld, testConfig()).WithLoadBatchSize(2).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, ld.batches, 1)
}

func TestLoadAll(t *testing.T) {
	ld := newBatchLoader()
	f := opps(t, 5)

	err := etlkit.LoadAll(context.Background(), ld, etlkit.SizeBatcher[frame.Row](2), f, testConfig())
	require.NoError(t, err)
	require.True(t, ld.committed)
	require.Len(t, ld.batches, 3)
	require.Equal(t, []int{0, 2, 4}, []int{ld.batches[0][0].Index, ld.batches[1][0].Index, ld.batches[2][0].Index})
}

func TestLoadAll_Failure(t *testing.T) {
	ld := newBatchLoader()
	ld.failAt = 0

	err := etlkit.LoadAll(context.Background(), ld, nil, opps(t, 3), testConfig())
	require.ErrorContains(t, err, "rows 0-2: batch rejected")
	require.False(t, ld.committed)
	require.Equal(t, int32(1), ld.aborted.Load())
}

// =============================================================================
// Graceful Shutdown Tests
// =============================================================================

func TestPipeline_GracefulShutdown(t *testing.T) {
	ld := newBatchLoader()
	ld.block = true
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 6)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-ld.started
		cancel()
		close(ld.release)
	}()

	err := etlkit.New(ext, passthrough, ld, testConfig()).
		WithLoadBatchSize(1).
		WithDrainTimeout(5 * time.Second).
		Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "load interrupted")
	require.False(t, ld.committed)
	require.Equal(t, int32(1), ld.aborted.Load())
	require.GreaterOrEqual(t, ld.rows(), 1)
	require.Less(t, ld.rows(), 6)
}

func TestPipeline_GracefulShutdown_Disabled(t *testing.T) {
	ld := newBatchLoader()
	ld.block = true
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 3)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-ld.started
		cancel()
	}()

	err := etlkit.New(ext, passthrough, ld, testConfig()).
		WithLoadBatchSize(1).
		WithDrainTimeout(0).
		Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ld.committed)
	require.Equal(t, 0, ld.rows())
}

// =============================================================================
// Checkpoint Tests
// =============================================================================

type memCheckpoints struct {
	saved   map[string]*etlkit.Checkpoint
	loadErr error
	saveErr error
}

func (m *memCheckpoints) LoadCheckpoint(_ context.Context, key string) (*etlkit.Checkpoint, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.saved[key], nil
}

func (m *memCheckpoints) SaveCheckpoint(_ context.Context, key string, cp *etlkit.Checkpoint) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.saved == nil {
		m.saved = map[string]*etlkit.Checkpoint{}
	}
	m.saved[key] = cp
	return nil
}

func (m *memCheckpoints) ClearCheckpoint(_ context.Context, key string) error {
	delete(m.saved, key)
	return nil
}

func TestPipeline_Checkpoint_SavedAfterLoad(t *testing.T) {
	store := &memCheckpoints{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 2)})

	before := time.Now().UTC()
	err := etlkit.New(ext, passthrough, &recordingLoader{}, testConfig()).
		WithCheckpointer(store, "").
		WithRunID("run-1").
		Run(context.Background())
	require.NoError(t, err)

	cp := store.saved["test_published.opportunities"]
	require.NotNil(t, cp)
	require.Equal(t, "run-1", cp.RunID)
	require.False(t, cp.Watermark.Before(before.Truncate(time.Second)))
	require.Equal(t, int64(2), cp.Stats.Loaded())
}

func TestPipeline_Checkpoint_WidensUpdateWindow(t *testing.T) {
	old := time.Date(2024, 1, 1, 6, 30, 0, 0, time.UTC)
	store := &memCheckpoints{saved: map[string]*etlkit.Checkpoint{
		"opps": {Watermark: old, Stats: etlkit.NewStats(1, 10, 10, 10, 1, 0)},
	}}
	cfg := etlkit.NewConfig(etlkit.Environment{Environment: "test"},
		etlkit.WithTableName("opportunities"),
		etlkit.WithUpdateMode(true),
	)

	var seen time.Time
	ext := etlkit.ExtractorFunc(func(_ context.Context, cfg *etlkit.Config) (*etlkit.Data, error) {
		seen = cfg.MinDate
		data := etlkit.NewData()
		data.Add("df_opps", opps(t, 1))
		return data, nil
	})

	err := etlkit.New(ext, passthrough, &recordingLoader{}, cfg).
		WithCheckpointer(store, "opps").
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, old, seen)

	// Saved stats accumulate on top of the restored ones.
	require.Equal(t, int64(11), store.saved["opps"].Stats.Loaded())
}

func TestPipeline_Checkpoint_NotWidenedInFullMode(t *testing.T) {
	store := &memCheckpoints{saved: map[string]*etlkit.Checkpoint{
		"opps": {Watermark: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	cfg := testConfig()

	err := etlkit.New(extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 1)}), passthrough, &recordingLoader{}, cfg).
		WithCheckpointer(store, "opps").
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, etlkit.DefaultMinDate, cfg.MinDate)
}

func TestPipeline_Checkpoint_NotSavedOnFailure(t *testing.T) {
	store := &memCheckpoints{}
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 1)})

	err := etlkit.New(ext, passthrough, &recordingLoader{err: errors.New("down")}, testConfig()).
		WithCheckpointer(store, "k").
		Run(context.Background())
	require.Error(t, err)
	require.Empty(t, store.saved)
}

func TestPipeline_Checkpoint_Errors(t *testing.T) {
	ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 1)})

	err := etlkit.New(ext, passthrough, &recordingLoader{}, testConfig()).
		WithCheckpointer(&memCheckpoints{loadErr: errors.New("locked")}, "k").
		Run(context.Background())
	require.ErrorContains(t, err, "load checkpoint: locked")

	err = etlkit.New(ext, passthrough, &recordingLoader{}, testConfig()).
		WithCheckpointer(&memCheckpoints{saveErr: errors.New("read only")}, "k").
		Run(context.Background())
	require.ErrorContains(t, err, "save checkpoint: read only")
}

// =============================================================================
// Action Tests
// =============================================================================

func TestErrorHandler_LoadAction(t *testing.T) {
	tests := map[etlkit.Action]struct {
		expectErr bool
		committed bool
		aborted   int32
		loaded    int
	}{
		etlkit.ActionFail: {expectErr: true, aborted: 1},
		etlkit.ActionSkip: {committed: true, loaded: 2},
	}

	for action, tc := range tests {
		t.Run(string(action), func(t *testing.T) {
			ld := newBatchLoader()
			ld.failAt = 0
			h := &hooks{action: action}
			ext := extractFrames(map[string]*frame.Frame{"df_opps": opps(t, 4)})

			err := etlkit.New(ext, passthrough, ld, testConfig()).
				WithLoadBatchSize(2).
				WithLoadWorkers(1).
				WithErrorHandler(h).
				WithObserver(h).
				Run(context.Background())

			if tc.expectErr {
				require.ErrorContains(t, err, "rows 0-1: batch rejected")
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, []etlkit.Stage{etlkit.StageLoad}, h.stages)
			require.Equal(t, tc.committed, ld.committed)
			require.Equal(t, tc.aborted, ld.aborted.Load())
			require.Equal(t, tc.loaded, ld.rows())
			require.Equal(t, int64(1), h.stats.Errors())
		})
	}
}
