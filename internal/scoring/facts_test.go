package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/db"
)

func mkScoringVessel(t *testing.T, s *db.Store, mmsi string) *db.Vessel {
	t.Helper()

	ctx := context.Background()
	tx, err := s.BeginTx(ctx, nil)
	require.NoError(t, err)

	v, err := db.UpsertVessel(ctx, tx, db.NewVessel{MMSI: mmsi, FirstSeen: day(1, 0, 0)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return v
}

func storeSourcedPos(t *testing.T, s *db.Store, vesselID int64, ts time.Time, source string) int64 {
	t.Helper()

	ctx := context.Background()
	_, err := db.InsertPosition(ctx, s.DB, &db.Position{
		VesselID: vesselID, Timestamp: ts, Lat: 59.0, Lon: 24.0, Source: strp(source),
	})
	require.NoError(t, err)

	p, err := s.LastPositionBefore(ctx, vesselID, ts.Add(time.Second))
	require.NoError(t, err)
	return p.ID
}

// One other dark vessel from the same receiver is still treated as
// selective evasion; the same-source deduction needs two corroborating
// neighbours before it reads as a feed problem.
func TestDarkZoneSightSingleSameSourceStaysSelective(t *testing.T) {
	store := setupScoring(t)
	ctx := context.Background()

	target := mkScoringVessel(t, store, "273900001")
	other := mkScoringVessel(t, store, "273900002")

	start := day(10, 12, 0)
	otherPosID := storeSourcedPos(t, store, other.ID, start.Add(20*time.Minute), "terrestrial-1")

	gap := &db.GapEvent{
		VesselID: target.ID, Start: start, End: start.Add(8 * time.Hour),
		DurationH: 8, InDarkZone: true,
	}
	_, created, err := store.InsertGapEvent(ctx, gap)
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = store.InsertGapEvent(ctx, &db.GapEvent{
		VesselID: other.ID, Start: start.Add(20 * time.Minute),
		End: start.Add(6 * time.Hour), DurationH: 5.7,
		InDarkZone: true, StartPointID: &otherPosID,
	})
	require.NoError(t, err)
	require.True(t, created)

	sight, err := darkZoneSight(ctx, store, gap)
	require.NoError(t, err)
	assert.Equal(t, 1, sight.OthersDark)
	assert.False(t, sight.AllSameSource)

	scored := Compute(&Facts{
		Gap:      gap,
		Vessel:   &db.Vessel{MMSI: "273900001"},
		DarkZone: sight,
	}, scoringCfg(), day(20, 0, 0))
	assert.Equal(t, 20, scored.Signals["selective_dark_zone_evasion"])
	assert.NotContains(t, scored.Signals, "dark_zone_deduction")
}

// Two same-source neighbours flip the reading to ambient jamming.
func TestDarkZoneSightTwoSameSourceReadsAsOutage(t *testing.T) {
	store := setupScoring(t)
	ctx := context.Background()

	target := mkScoringVessel(t, store, "273900003")
	start := day(10, 12, 0)

	gap := &db.GapEvent{
		VesselID: target.ID, Start: start, End: start.Add(8 * time.Hour),
		DurationH: 8, InDarkZone: true,
	}
	_, created, err := store.InsertGapEvent(ctx, gap)
	require.NoError(t, err)
	require.True(t, created)

	for i, mmsi := range []string{"273900004", "273900005"} {
		v := mkScoringVessel(t, store, mmsi)
		ts := start.Add(time.Duration(10+i*10) * time.Minute)
		posID := storeSourcedPos(t, store, v.ID, ts, "terrestrial-1")
		_, created, err := store.InsertGapEvent(ctx, &db.GapEvent{
			VesselID: v.ID, Start: ts, End: start.Add(6 * time.Hour),
			DurationH: 5.5, InDarkZone: true, StartPointID: &posID,
		})
		require.NoError(t, err)
		require.True(t, created)
	}

	sight, err := darkZoneSight(ctx, store, gap)
	require.NoError(t, err)
	assert.Equal(t, 2, sight.OthersDark)
	assert.True(t, sight.AllSameSource)
}
