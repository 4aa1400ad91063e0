package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/db"
)

func track(start time.Time, n int, sog float64) []*db.Position {
	positions := make([]*db.Position, 0, n)
	for i := 0; i < n; i++ {
		s := sog
		cog := 45.0
		positions = append(positions, &db.Position{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			Lat:       55.0 + float64(i)*0.02,
			Lon:       24.0 + float64(i)*0.01,
			SOG:       &s,
			COG:       &cog,
		})
	}
	return positions
}

func TestComputeFeatures(t *testing.T) {
	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	f, ok := ComputeFeatures(track(start, 24, 11.5))
	require.True(t, ok)
	assert.InDelta(t, 11.5, f.MedianSOG, 1e-9)
	assert.InDelta(t, 0, f.SOGStdev, 1e-9)
	assert.Greater(t, f.MeanLegDistance, 0.0)

	_, ok = ComputeFeatures(track(start, 5, 11.5))
	assert.False(t, ok)
}

func TestUpdateFingerprints(t *testing.T) {
	store := setupIdentity(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	busy := mkVessel(t, store, "273840001", start)
	quiet := mkVessel(t, store, "273840002", start)
	for _, p := range track(start, 24, 11.5) {
		p.VesselID = busy.ID
		_, err := db.InsertPosition(ctx, store.DB, p)
		require.NoError(t, err)
	}
	for _, p := range track(start, 3, 9) {
		p.VesselID = quiet.ID
		_, err := db.InsertPosition(ctx, store.DB, p)
		require.NoError(t, err)
	}

	r := db.DateRange{From: start, To: start.AddDate(0, 0, 1)}
	updated, err := UpdateFingerprints(ctx, store, r, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	raw, err := store.Fingerprint(ctx, busy.ID)
	require.NoError(t, err)
	f, err := parseFeatures(raw)
	require.NoError(t, err)
	assert.InDelta(t, 11.5, f.MedianSOG, 1e-9)

	_, err = store.Fingerprint(ctx, quiet.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestFingerprintBonusQuartiles(t *testing.T) {
	all := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	assert.Equal(t, 15, fingerprintBonus(1, all))
	assert.Equal(t, 15, fingerprintBonus(2, all))
	assert.Equal(t, 10, fingerprintBonus(3, all))
	assert.Equal(t, 10, fingerprintBonus(4, all))
	assert.Equal(t, 0, fingerprintBonus(5, all))
	assert.Equal(t, 0, fingerprintBonus(6, all))
	assert.Equal(t, -5, fingerprintBonus(7, all))
	assert.Equal(t, -5, fingerprintBonus(8, all))

	assert.Equal(t, 0, fingerprintBonus(3, nil))
}

func TestMahalanobisDistance(t *testing.T) {
	// Too few samples to estimate a 5-dim covariance.
	assert.Nil(t, newMahalanobis([]Features{{}, {}, {}}))

	samples := []Features{
		{MedianSOG: 10.2, SOGStdev: 1.1, MedianTurnRate: 3.0, NightFraction: 0.4, MeanLegDistance: 2.1},
		{MedianSOG: 11.8, SOGStdev: 0.7, MedianTurnRate: 5.5, NightFraction: 0.6, MeanLegDistance: 2.9},
		{MedianSOG: 9.1, SOGStdev: 2.4, MedianTurnRate: 1.2, NightFraction: 0.3, MeanLegDistance: 1.4},
		{MedianSOG: 13.5, SOGStdev: 0.9, MedianTurnRate: 7.8, NightFraction: 0.7, MeanLegDistance: 3.6},
		{MedianSOG: 8.4, SOGStdev: 1.8, MedianTurnRate: 2.6, NightFraction: 0.2, MeanLegDistance: 1.9},
		{MedianSOG: 12.2, SOGStdev: 1.3, MedianTurnRate: 4.1, NightFraction: 0.5, MeanLegDistance: 2.5},
		{MedianSOG: 10.9, SOGStdev: 2.0, MedianTurnRate: 6.3, NightFraction: 0.8, MeanLegDistance: 3.1},
		{MedianSOG: 14.0, SOGStdev: 0.5, MedianTurnRate: 0.9, NightFraction: 0.1, MeanLegDistance: 1.2},
	}
	m := newMahalanobis(samples)
	require.NotNil(t, m)

	assert.InDelta(t, 0, m.distance(samples[0], samples[0]), 1e-9)

	d01 := m.distance(samples[0], samples[1])
	assert.Greater(t, d01, 0.0)
	assert.InDelta(t, d01, m.distance(samples[1], samples[0]), 1e-9)
}
