package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRunLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	run := &PipelineRun{
		ID:       uuid.NewString(),
		DateFrom: started.AddDate(0, 0, -1),
		DateTo:   started,
		Started:  started,
	}
	require.NoError(t, s.InsertPipelineRun(ctx, run))

	got, err := s.PipelineRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Nil(t, got.Finished)

	finished := started.Add(20 * time.Minute)
	require.NoError(t, s.FinishPipelineRun(ctx, run.ID, RunStatusCompleted, finished,
		`[{"step":"gap_detection","status":"completed"}]`,
		`{"gap_detection":12}`, `{"positions":4400}`, `[]`))

	got, err = s.PipelineRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	require.NotNil(t, got.Finished)
	assert.Equal(t, finished, *got.Finished)
	require.NotNil(t, got.DetectorCountsJSON)
}

func TestRecentCompletedRunsOrderAndFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var last string
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		started := base.AddDate(0, 0, i)
		require.NoError(t, s.InsertPipelineRun(ctx, &PipelineRun{
			ID: id, DateFrom: started.AddDate(0, 0, -1), DateTo: started, Started: started,
		}))
		require.NoError(t, s.FinishPipelineRun(ctx, id, RunStatusCompleted,
			started.Add(time.Hour), `[]`, `{}`, `{}`, `[]`))
		last = id
	}
	// A still-running run must not appear.
	require.NoError(t, s.InsertPipelineRun(ctx, &PipelineRun{
		ID: uuid.NewString(), DateFrom: base, DateTo: base.AddDate(0, 0, 1),
		Started: base.AddDate(0, 0, 10),
	}))

	runs, err := s.RecentCompletedRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, last, runs[0].ID)
}

func TestWatchlistReplaceAndMatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	name := "DARK STAR"
	mmsi := "273800001"
	imo := "9123456"
	require.NoError(t, s.ReplaceWatchlist(ctx, "ofac", []*WatchlistEntry{
		{Name: &name, MMSI: &mmsi, IMO: &imo},
	}))

	got, err := s.WatchlistMatches(ctx, mmsi, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ofac", got[0].Source)

	other := "000000000"
	got, err = s.WatchlistMatches(ctx, other, &imo)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Reload replaces, never appends.
	require.NoError(t, s.ReplaceWatchlist(ctx, "ofac", []*WatchlistEntry{
		{Name: &name, MMSI: &other},
	}))
	got, err = s.WatchlistMatches(ctx, mmsi, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	counts, err := s.CountWatchlistEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["ofac"])
}

func TestWatchlistByNameCaseInsensitive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	name := "Volga Shipping LLC"
	require.NoError(t, s.ReplaceWatchlist(ctx, "opensanctions", []*WatchlistEntry{
		{Name: &name},
	}))

	got, err := s.WatchlistByName(ctx, "VOLGA SHIPPING LLC")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
