package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/db"
)

func anomaliesOfType(t *testing.T, store *db.Store, vesselID int64, r db.DateRange, typ db.SpoofingType) []*db.SpoofingAnomaly {
	t.Helper()

	all, err := store.SpoofingForVessel(context.Background(), vesselID, r)
	require.NoError(t, err)
	var out []*db.SpoofingAnomaly
	for _, a := range all {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestCircleSpoof(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000010")

	// Twelve reports in a tight cluster, all claiming 8 kn.
	for i := 0; i < 12; i++ {
		mkPos(t, store, v.ID, day(10, 6, i*5), 59.001+float64(i%3)*0.001, 24.001, 8.0)
	}

	stats, err := DetectSpoofing(context.Background(), store, rangeDays(10, 11), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	found := anomaliesOfType(t, store, v.ID, rangeDays(10, 11), db.SpoofCircle)
	require.Len(t, found, 1)
	assert.Equal(t, 30, found[0].ScoreComponent)
}

func TestCircleSpoofNotFiredForRealDrift(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000010")

	// Genuinely drifting: tight cluster but SOG near zero.
	for i := 0; i < 12; i++ {
		mkPos(t, store, v.ID, day(10, 6, i*5), 59.001, 24.001, 0.2)
	}

	_, err := DetectSpoofing(context.Background(), store, rangeDays(10, 11), cfg)
	require.NoError(t, err)
	assert.Empty(t, anomaliesOfType(t, store, v.ID, rangeDays(10, 11), db.SpoofCircle))
}

func TestAnchorSpoofOutsideAnchorage(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000011")

	anchor := int64(1)
	for h := 0; h < 80; h++ {
		sog := 0.05
		p := &db.Position{
			VesselID:  v.ID,
			Timestamp: day(10, 0, 0).Add(time.Duration(h) * time.Hour),
			Lat:       54.0, Lon: 19.0,
			SOG: &sog, NavStatus: &anchor,
		}
		storePos(t, store, p)
	}

	r := db.DateRange{From: day(10, 0, 0), To: day(14, 0, 0)}
	_, err := DetectSpoofing(context.Background(), store, r, cfg)
	require.NoError(t, err)

	found := anomaliesOfType(t, store, v.ID, r, db.SpoofAnchor)
	require.Len(t, found, 1)
}

func TestAnchorSpoofSuppressedInsideAnchorage(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000011")

	anchor := int64(1)
	for h := 0; h < 80; h++ {
		sog := 0.05
		p := &db.Position{
			VesselID:  v.ID,
			Timestamp: day(10, 0, 0).Add(time.Duration(h) * time.Hour),
			Lat:       57.5, Lon: 10.5, // Skaw Anchorage
			SOG: &sog, NavStatus: &anchor,
		}
		storePos(t, store, p)
	}

	r := db.DateRange{From: day(10, 0, 0), To: day(14, 0, 0)}
	_, err := DetectSpoofing(context.Background(), store, r, cfg)
	require.NoError(t, err)
	assert.Empty(t, anomaliesOfType(t, store, v.ID, r, db.SpoofAnchor))
}

func TestNavStatusMismatch(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000012")

	anchor := int64(1)
	underway := int64(0)
	for i, tc := range []struct {
		nav int64
		sog float64
	}{
		{underway, 10}, {anchor, 8.5}, {anchor, 9.0}, {underway, 10},
	} {
		sog := tc.sog
		nav := tc.nav
		p := &db.Position{
			VesselID:  v.ID,
			Timestamp: day(10, 6, i*10),
			Lat:       59.0, Lon: 24.0,
			SOG: &sog, NavStatus: &nav,
		}
		storePos(t, store, p)
	}

	_, err := DetectSpoofing(context.Background(), store, rangeDays(10, 11), cfg)
	require.NoError(t, err)

	// The two consecutive mismatching reports collapse to one anomaly.
	found := anomaliesOfType(t, store, v.ID, rangeDays(10, 11), db.SpoofNavStatusMismatch)
	require.Len(t, found, 1)
	assert.Equal(t, 15, found[0].ScoreComponent)
	assert.Equal(t, day(10, 6, 10), found[0].Start)
	assert.Equal(t, day(10, 6, 20), found[0].End)
}

func TestErraticNavStatus(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000013")

	// Four status flips inside 40 minutes.
	statuses := []int64{0, 1, 0, 5, 0}
	for i, nav := range statuses {
		n := nav
		sog := 5.0
		p := &db.Position{
			VesselID:  v.ID,
			Timestamp: day(10, 6, i*10),
			Lat:       59.0, Lon: 24.0,
			SOG: &sog, NavStatus: &n,
		}
		storePos(t, store, p)
	}

	_, err := DetectSpoofing(context.Background(), store, rangeDays(10, 11), cfg)
	require.NoError(t, err)

	found := anomaliesOfType(t, store, v.ID, rangeDays(10, 11), db.SpoofErraticNavStatus)
	require.Len(t, found, 1)
}

func TestErraticNavStatusStableTrackClean(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000013")

	for i := 0; i < 10; i++ {
		nav := int64(0)
		sog := 10.0
		p := &db.Position{
			VesselID:  v.ID,
			Timestamp: day(10, 6, i*10),
			Lat:       59.0 + float64(i)*0.02, Lon: 24.0,
			SOG: &sog, NavStatus: &nav,
		}
		storePos(t, store, p)
	}

	_, err := DetectSpoofing(context.Background(), store, rangeDays(10, 11), cfg)
	require.NoError(t, err)
	assert.Empty(t, anomaliesOfType(t, store, v.ID, rangeDays(10, 11), db.SpoofErraticNavStatus))
}
