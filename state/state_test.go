package state_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/state"
)

// exerciseStore runs the Checkpointer contract against s.
func exerciseStore(t *testing.T, s state.Store) {
	t.Helper()
	ctx := context.Background()

	cp, err := s.LoadCheckpoint(ctx, "prod_published.opps")
	require.NoError(t, err)
	require.Nil(t, cp)

	watermark := time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC)
	in := &etlkit.Checkpoint{Watermark: watermark, RunID: "run-1", Stats: etlkit.NewStats(2, 10, 9, 9, 1, 0)}
	require.NoError(t, s.SaveCheckpoint(ctx, "prod_published.opps", in))

	out, err := s.LoadCheckpoint(ctx, "prod_published.opps")
	require.NoError(t, err)
	require.True(t, watermark.Equal(out.Watermark))
	require.Equal(t, "run-1", out.RunID)
	require.Equal(t, int64(9), out.Stats.Loaded())

	other, err := s.LoadCheckpoint(ctx, "prod_published.leads")
	require.NoError(t, err)
	require.Nil(t, other)

	in.RunID = "run-2"
	require.NoError(t, s.SaveCheckpoint(ctx, "prod_published.opps", in))
	out, err = s.LoadCheckpoint(ctx, "prod_published.opps")
	require.NoError(t, err)
	require.Equal(t, "run-2", out.RunID)

	require.NoError(t, s.ClearCheckpoint(ctx, "prod_published.opps"))
	require.NoError(t, s.ClearCheckpoint(ctx, "prod_published.opps"))
	out, err = s.LoadCheckpoint(ctx, "prod_published.opps")
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, state.NewMemory())
}

func TestBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := state.OpenBolt(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	// Checkpoints survive a reopen.
	require.NoError(t, s.SaveCheckpoint(context.Background(), "k", &etlkit.Checkpoint{RunID: "kept"}))
	require.NoError(t, s.Close())

	s, err = state.OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	cp, err := s.LoadCheckpoint(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "kept", cp.RunID)
}

func TestBolt_CancelledContext(t *testing.T) {
	s, err := state.OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.LoadCheckpoint(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := state.OpenRedis(mr.Addr(), 0)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestRedis_KeyAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := state.NewRedis(client, time.Hour)
	require.NoError(t, s.SaveCheckpoint(context.Background(), "prod_published.opps", &etlkit.Checkpoint{RunID: "r"}))

	key := state.RedisKeyPrefix + "prod_published.opps"
	require.True(t, mr.Exists(key))
	require.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	cp, err := s.LoadCheckpoint(context.Background(), "prod_published.opps")
	require.NoError(t, err)
	require.Nil(t, cp)

	// NewRedis does not own the client.
	require.NoError(t, s.Close())
	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestRedis_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set(state.RedisKeyPrefix+"k", "not json"))

	s, err := state.OpenRedis(mr.Addr(), 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadCheckpoint(context.Background(), "k")
	require.ErrorContains(t, err, "state: decode k")
}

func TestOpen(t *testing.T) {
	s, err := state.Open("", state.Options{})
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = state.Open(state.BackendNone, state.Options{})
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = state.Open(state.BackendMemory, state.Options{})
	require.NoError(t, err)
	require.IsType(t, &state.Memory{}, s)

	s, err = state.Open(state.BackendBolt, state.Options{Path: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	require.IsType(t, &state.Bolt{}, s)
	require.NoError(t, s.Close())

	_, err = state.Open(state.BackendBolt, state.Options{})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	s, err = state.Open(state.BackendRedis, state.Options{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.IsType(t, &state.Redis{}, s)
	require.NoError(t, s.Close())

	_, err = state.Open("etcd", state.Options{})
	require.ErrorIs(t, err, state.ErrUnknownBackend)
}

func TestPipeline_WithBoltCheckpoints(t *testing.T) {
	s, err := state.OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()

	cfg := etlkit.NewConfig(etlkit.Environment{Environment: "dev"}, etlkit.WithTableName("opps"))
	ext := etlkit.ExtractorFunc(func(context.Context, *etlkit.Config) (*etlkit.Data, error) {
		return nil, nil
	})

	// A failed run leaves no checkpoint.
	err = etlkit.New(ext, nil, etlkit.LoaderFunc(nil), cfg).WithCheckpointer(s, "").Run(context.Background())
	require.Error(t, err)

	cp, err := s.LoadCheckpoint(context.Background(), etlkit.CheckpointKey(cfg))
	require.NoError(t, err)
	require.Nil(t, cp)
}
