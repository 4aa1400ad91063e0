package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/db"
)

// mkDailyLoop writes a week of half-hourly positions whose location depends
// only on the hour of day, starting at base. reversed flips the profile.
func mkDailyLoop(t *testing.T, store *db.Store, vesselID int64, base time.Time, reversed bool) {
	t.Helper()

	for i := 0; i < 336; i++ {
		ts := base.Add(time.Duration(i) * 30 * time.Minute)
		h := float64(ts.UTC().Hour())
		if reversed {
			h = 23 - h
		}
		mkPos(t, store, vesselID, ts, 50.0+h*0.02, 10.0+h*0.03, 8.0)
	}
}

func TestDetectTrackReplay(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	ctx := context.Background()
	v := mkVessel(t, store, "273000110")

	// The recent week repeats the same daily loop recorded 45 days ago.
	mkDailyLoop(t, store, v.ID, day(24, 0, 0), false)
	mkDailyLoop(t, store, v.ID, day(24, 0, 0).AddDate(0, 0, -45), false)

	stats, err := DetectTrackReplay(ctx, store, rangeDays(1, 31), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	found := anomaliesOfType(t, store, v.ID, rangeDays(1, 31), db.SpoofTrackReplay)
	require.Len(t, found, 1)
	assert.Equal(t, 35, found[0].ScoreComponent)
	require.NotNil(t, found[0].DetailsJSON)
	assert.Contains(t, *found[0].DetailsJSON, "correlation")
}

func TestDetectTrackReplayUncorrelatedClean(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000110")

	mkDailyLoop(t, store, v.ID, day(24, 0, 0), false)
	mkDailyLoop(t, store, v.ID, day(24, 0, 0).AddDate(0, 0, -45), true)

	stats, err := DetectTrackReplay(context.Background(), store, rangeDays(1, 31), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Found)
}

func TestDetectTrackReplayAnchoredSkipped(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000111")

	// Anchored vessels correlate with their own past trivially.
	base := day(24, 0, 0)
	for i := 0; i < 336; i++ {
		mkPos(t, store, v.ID, base.Add(time.Duration(i)*30*time.Minute), 50.0, 10.0, 0.1)
		mkPos(t, store, v.ID, base.AddDate(0, 0, -45).Add(time.Duration(i)*30*time.Minute), 50.0, 10.0, 0.1)
	}

	stats, err := DetectTrackReplay(context.Background(), store, rangeDays(1, 31), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Found)
}

func TestDetectTrackReplaySparseRecentSkipped(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000111")

	for i := 0; i < 50; i++ {
		mkPos(t, store, v.ID, day(24, 0, 0).Add(time.Duration(i)*time.Hour), 50.0+float64(i)*0.05, 10.0, 8.0)
	}

	stats, err := DetectTrackReplay(context.Background(), store, rangeDays(1, 31), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Found)
}
