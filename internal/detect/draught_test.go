package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/db"
)

func mkDraughtPos(t *testing.T, store *db.Store, vesselID int64, ts time.Time, lat, lon, draught float64) {
	t.Helper()

	sog := 2.0
	storePos(t, store, &db.Position{
		VesselID:  vesselID,
		Timestamp: ts,
		Lat:       lat, Lon: lon,
		SOG: &sog, Draught: &draught,
	})
}

func TestDetectDraughtChangeOffshore(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	ctx := context.Background()
	v := mkVessel(t, store, "273000060")

	// Laden to ballast in open water, confirmed by the following reading.
	mkDraughtPos(t, store, v.ID, day(10, 6, 0), 55.0, 18.0, 12.0)
	mkDraughtPos(t, store, v.ID, day(10, 8, 0), 55.1, 18.1, 10.0)
	mkDraughtPos(t, store, v.ID, day(10, 10, 0), 55.2, 18.2, 10.2)

	stats, err := DetectDraughtChanges(ctx, store, rangeDays(10, 11), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	events, err := store.DraughtChangesForVessel(ctx, v.ID, rangeDays(10, 11))
	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, 12.0, e.Before)
	assert.Equal(t, 10.0, e.After)
	assert.InDelta(t, 2.0, e.Delta, 0.001)
	assert.Equal(t, 1.0, e.ClassThreshold)
	assert.True(t, e.Offshore)
	assert.False(t, e.NearSTS)
	assert.False(t, e.StraddlesGap)
	// Delta at twice the class threshold plus offshore.
	assert.Equal(t, 45, e.ScoreComponent)
}

func TestDetectDraughtChangeUnconfirmedIgnored(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	v := mkVessel(t, store, "273000060")

	// The reading snaps back: sensor noise, not a cargo operation.
	mkDraughtPos(t, store, v.ID, day(10, 6, 0), 55.0, 18.0, 12.0)
	mkDraughtPos(t, store, v.ID, day(10, 8, 0), 55.1, 18.1, 10.0)
	mkDraughtPos(t, store, v.ID, day(10, 10, 0), 55.2, 18.2, 12.0)

	stats, err := DetectDraughtChanges(context.Background(), store, rangeDays(10, 11), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
}

func TestDetectDraughtChangeNearPortSuppressed(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	ctx := context.Background()
	v := mkVessel(t, store, "273000060")

	lat, lon := 55.1, 18.1
	_, err := store.InsertPort(ctx, &db.Port{
		Name: "Gdansk", GeometryWKT: "POINT(18.1 55.1)", Lat: &lat, Lon: &lon,
	})
	require.NoError(t, err)

	mkDraughtPos(t, store, v.ID, day(10, 6, 0), 55.0, 18.0, 12.0)
	mkDraughtPos(t, store, v.ID, day(10, 8, 0), 55.1, 18.1, 10.0)
	mkDraughtPos(t, store, v.ID, day(10, 10, 0), 55.1, 18.1, 10.2)

	stats, err := DetectDraughtChanges(ctx, store, rangeDays(10, 11), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
}

func TestDetectDraughtChangeNearSTSAndGap(t *testing.T) {
	store := setupDetect(t)
	cfg := testConfig()
	ctx := context.Background()
	v := mkVessel(t, store, "273000061")
	other := mkVessel(t, store, "273000062")

	_, err := store.InsertSTSEvent(ctx, &db.STSEvent{
		Vessel1ID: v.ID, Vessel2ID: other.ID,
		Start: day(10, 7, 0), End: day(10, 9, 0),
		MeanLat: 55.1, MeanLon: 18.1,
		DetectionType: db.STSVisibleVisible, ScoreComponent: 25,
	})
	require.NoError(t, err)
	mkGap(t, store, v.ID, day(10, 6, 30), day(10, 7, 30), "")

	mkDraughtPos(t, store, v.ID, day(10, 6, 0), 55.0, 18.0, 12.0)
	mkDraughtPos(t, store, v.ID, day(10, 8, 0), 55.1, 18.1, 10.0)
	mkDraughtPos(t, store, v.ID, day(10, 10, 0), 55.2, 18.2, 10.2)

	_, err = DetectDraughtChanges(ctx, store, rangeDays(10, 11), cfg)
	require.NoError(t, err)

	events, err := store.DraughtChangesForVessel(ctx, v.ID, rangeDays(10, 11))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].NearSTS)
	assert.True(t, events[0].StraddlesGap)
	assert.Equal(t, 80, events[0].ScoreComponent)
}

func TestDraughtThresholdByClass(t *testing.T) {
	dwt := func(v float64) *float64 { return &v }

	assert.Equal(t, 1.0, draughtThreshold(nil))
	assert.Equal(t, 1.0, draughtThreshold(dwt(30000)))
	assert.Equal(t, 1.0, draughtThreshold(dwt(60000)))
	assert.Equal(t, 1.5, draughtThreshold(dwt(95000)))
	assert.Equal(t, 2.0, draughtThreshold(dwt(150000)))
	assert.Equal(t, 3.0, draughtThreshold(dwt(300000)))
}
