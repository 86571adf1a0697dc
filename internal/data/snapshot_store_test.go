package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comicden/recotrack/internal/data"
	"github.com/comicden/recotrack/internal/domain/model"
	"github.com/comicden/recotrack/internal/testutil"
)

func newTestSnapshotStore(t *testing.T) (*data.ProgressSnapshotStore, *miniredis.Miniredis) {
	t.Helper()

	srv, client := testutil.SetupMiniRedis(t)
	store, err := data.NewProgressSnapshotStore(data.ProgressSnapshotStoreOptions{
		Cache:        data.NewRedisCacheRepo(client),
		TTL:          30 * time.Minute,
		HistoryLimit: 5,
	})
	require.NoError(t, err)
	return store, srv
}

func progressEvent(sessionID, stage string, percent int) *model.ProgressEvent {
	return &model.ProgressEvent{
		Type:      model.EventTypeProgress,
		SessionID: sessionID,
		Stage:     stage,
		Progress:  testutil.IntPtr(percent),
		Message:   "working",
		Timestamp: testutil.TestTime(),
	}
}

func TestSnapshotStoreWriteReadLatest(t *testing.T) {
	store, _ := newTestSnapshotStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteLatest(ctx, progressEvent("s1", "scan", 10)))
	require.NoError(t, store.WriteLatest(ctx, progressEvent("s1", "match", 40)))

	got, err := store.ReadLatest(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "match", got.Stage)
	assert.Equal(t, 40, got.Percent(0))
	assert.Equal(t, "s1", got.SessionID)
}

func TestSnapshotStoreReadLatestMissing(t *testing.T) {
	store, _ := newTestSnapshotStore(t)

	got, err := store.ReadLatest(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotStoreExpiry(t *testing.T) {
	store, srv := newTestSnapshotStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteLatest(ctx, progressEvent("s1", "scan", 10)))

	srv.FastForward(time.Hour)

	got, err := store.ReadLatest(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got, "expired snapshot must read as absent")

	history, err := store.History(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSnapshotStoreHistoryBounded(t *testing.T) {
	store, _ := newTestSnapshotStore(t)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		require.NoError(t, store.WriteLatest(ctx, progressEvent("s1", "scan", i*10)))
	}

	history, err := store.History(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 5, "history must stay bounded at the configured limit")
	assert.Equal(t, 80, history[0].Percent(0), "newest first")
	assert.Equal(t, 40, history[4].Percent(0))
}

func TestSnapshotStoreSessionsIsolated(t *testing.T) {
	store, _ := newTestSnapshotStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteLatest(ctx, progressEvent("s1", "scan", 10)))
	require.NoError(t, store.WriteLatest(ctx, progressEvent("s2", "match", 90)))

	got1, err := store.ReadLatest(ctx, "s1")
	require.NoError(t, err)
	got2, err := store.ReadLatest(ctx, "s2")
	require.NoError(t, err)

	assert.Equal(t, "scan", got1.Stage)
	assert.Equal(t, 10, got1.Percent(0))
	assert.Equal(t, "match", got2.Stage)
	assert.Equal(t, 90, got2.Percent(0))
}

func TestSnapshotStoreInvalidate(t *testing.T) {
	store, _ := newTestSnapshotStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteLatest(ctx, progressEvent("s1", "scan", 10)))
	require.NoError(t, store.Invalidate(ctx, "s1"))

	got, err := store.ReadLatest(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	history, err := store.History(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestNewProgressSnapshotStoreValidation(t *testing.T) {
	_, client := testutil.SetupMiniRedis(t)
	cache := data.NewRedisCacheRepo(client)

	_, err := data.NewProgressSnapshotStore(data.ProgressSnapshotStoreOptions{TTL: time.Minute, HistoryLimit: 5})
	require.Error(t, err)

	_, err = data.NewProgressSnapshotStore(data.ProgressSnapshotStoreOptions{Cache: cache, HistoryLimit: 5})
	require.Error(t, err)

	_, err = data.NewProgressSnapshotStore(data.ProgressSnapshotStoreOptions{Cache: cache, TTL: time.Minute})
	require.Error(t, err)
}
