package job

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJobs() []Job {
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	finished := created.Add(time.Minute)
	return []Job{
		{ID: "a", State: StateDownloading, Progress: 40, CreatedAt: created, Request: Request{SourceURL: testURL, Directory: "/music", Quality: "high"}},
		{ID: "b", State: StateCompleted, Progress: 100, ResultPath: "/music", CreatedAt: created.Add(time.Second), FinishedAt: &finished},
	}
}

func testStoreRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for _, j := range sampleJobs() {
		require.NoError(t, s.Save(ctx, j))
	}
	// upsert
	updated := sampleJobs()[0]
	updated.Progress = 55
	require.NoError(t, s.Save(ctx, updated))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	byID := map[string]Job{}
	for _, j := range loaded {
		byID[j.ID] = j
	}
	assert.InDelta(t, 55, byID["a"].Progress, 0)
	assert.Equal(t, testURL, byID["a"].Request.SourceURL)
	assert.Equal(t, StateCompleted, byID["b"].State)
	require.NotNil(t, byID["b"].FinishedAt)

	require.NoError(t, s.Delete(ctx, "a"))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "b", loaded[0].ID)
}

func TestFileStoreRoundTrip(t *testing.T) {
	testStoreRoundTrip(t, NewFileStore(filepath.Join(t.TempDir(), "jobs")))
}

func TestFileStoreLoadMissingRoot(t *testing.T) {
	jobs, err := NewFileStore(filepath.Join(t.TempDir(), "absent")).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "data", "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	testStoreRoundTrip(t, s)
}

func TestLoadFromStoreMarksUnfinishedInterrupted(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for _, j := range sampleJobs() {
		require.NoError(t, store.Save(context.Background(), j))
	}

	m := NewManager(Options{DefaultDir: t.TempDir(), Store: store, Runner: &fakeRunner{script: emit()}})
	require.NoError(t, m.LoadFromStore(context.Background()))

	a, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, StateFailed, a.State)
	assert.Equal(t, ReasonInterrupted, a.Reason)
	assert.NotNil(t, a.FinishedAt)

	b, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, StateCompleted, b.State)

	// the correction is written back
	reloaded, err := store.Load(context.Background())
	require.NoError(t, err)
	for _, j := range reloaded {
		assert.True(t, j.State.Terminal(), j.ID)
	}

	ch, err := m.Observe(context.Background(), "a")
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Status())
	assert.ErrorIs(t, m.Cancel("a"), ErrJobFinished)
}

func TestPruneRemovesExpiredFinishedJobs(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for _, j := range sampleJobs() {
		require.NoError(t, store.Save(context.Background(), j))
	}
	m := NewManager(Options{DefaultDir: t.TempDir(), Store: store, Retention: time.Hour, Runner: &fakeRunner{script: emit()}})
	require.NoError(t, m.LoadFromStore(context.Background()))

	// "b" finished years ago; "a" was just marked interrupted
	removed := m.Prune(time.Now())
	assert.Equal(t, 1, removed)
	_, ok := m.Get("b")
	assert.False(t, ok)
	_, ok = m.Get("a")
	assert.True(t, ok)

	left, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "a", left[0].ID)
}

func TestPruneDisabledWithoutRetention(t *testing.T) {
	m := NewManager(Options{Runner: &fakeRunner{script: emit()}})
	assert.Zero(t, m.Prune(time.Now().Add(24*time.Hour)))
}
