package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/model"
)

func sampleSnapshot(burned float64, n int) model.Snapshot {
	s := model.Snapshot{
		SessionID: "s-1",
		Burned:    burned,
		Remaining: 5 - burned,
		Budget:    5,
		Balance:   25,
		Status:    "active",
		Active:    true,
		TS:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}
	for i := 1; i <= n; i++ {
		s.Results = append(s.Results, model.Result{I: i, Cost: 1, Info: "manual"})
		s.Steps = append(s.Steps, 1)
	}
	return s
}

// exerciseStore runs the shared slot contract against any backend.
func exerciseStore(t *testing.T, st SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	first, err := st.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", first.Status)
	assert.Zero(t, first.Burned)
	assert.NotNil(t, first.Results)

	require.NoError(t, st.Save(ctx, sampleSnapshot(1, 1)))
	require.NoError(t, st.Save(ctx, sampleSnapshot(2, 2)))

	got, err := st.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Burned, "last write wins")
	assert.Len(t, got.Results, 2)
	assert.Equal(t, "s-1", got.SessionID)
}

func exerciseHistory(t *testing.T, h History) {
	t.Helper()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		s := sampleSnapshot(float64(i), i)
		s.Status = "finished"
		s.SessionID = string(rune('a' + i - 1))
		require.NoError(t, h.AppendHistory(ctx, s))
	}

	all, err := h.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].SessionID, "newest first")
	assert.Equal(t, 3, all[0].Results)

	two, err := h.History(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestSlot(t *testing.T) {
	s := NewSlot()
	exerciseStore(t, s)
	exerciseHistory(t, s)
}

func TestSlotSanitizesWrites(t *testing.T) {
	s := NewSlot()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, model.Snapshot{Burned: -4}))
	got, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Zero(t, got.Burned)
	assert.NotNil(t, got.Steps)
}

func TestSQLite(t *testing.T) {
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "furnace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	exerciseStore(t, st)
	exerciseHistory(t, st)

	n, err := st.HistoryCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "furnace.db")
	ctx := context.Background()

	st, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, sampleSnapshot(3, 3)))
	require.NoError(t, st.Close())

	st, err = OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	got, err := st.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Burned)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("FURNACE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FURNACE_TEST_REDIS_ADDR not set")
	}

	st, err := NewRedis(config.RedisConfig{Addr: addr, Key: "furnace:test:" + t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		_ = st.client.Del(ctx, st.key, st.historyKey()).Err()
		_ = st.Close()
	})

	exerciseStore(t, st)
	exerciseHistory(t, st)
}

func TestOpen(t *testing.T) {
	cfg := config.DefaultConfig()

	st, err := Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Slot{}, st)

	cfg.Daemon.Store = "sqlite"
	cfg.Daemon.SQLitePath = filepath.Join(t.TempDir(), "x.db")
	st, err = Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, st)
	_ = st.Close()

	cfg.Daemon.Store = "etcd"
	_, err = Open(cfg)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}
