package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

func setupDetect(t *testing.T) *db.Store {
	t.Helper()

	s, err := db.Open(":memory:")
	require.NoError(t, err)
	// A pooled second connection would get its own empty in-memory DB.
	s.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.MigrateUp())
	return s
}

func rect(minLat, minLon, maxLat, maxLon float64) geo.Polygon {
	return geo.NewPolygon(
		[]float64{minLat, minLat, maxLat, maxLat},
		[]float64{minLon, maxLon, maxLon, minLon})
}

// testConfig builds a configuration with a handful of corridors around the
// Baltic and Black Sea theatres and every detector flag on.
func testConfig() *config.Config {
	return &config.Config{
		Corridors: &config.CorridorSet{Corridors: []config.Corridor{
			{
				Name: "Baltic Export Route", CorridorType: config.CorridorExportRoute,
				RiskWeight: 1.5, Polygon: rect(58, 22, 61, 27),
			},
			{
				Name: "Gulf STS Zone", CorridorType: config.CorridorSTSZone,
				RiskWeight: 1.8, Polygon: rect(36, 22, 37, 23),
			},
			{
				Name: "Kerch Dark Zone", CorridorType: config.CorridorDarkZone,
				IsJammingZone: true, RiskWeight: 2.0, Polygon: rect(44, 36, 46, 38),
			},
			{
				Name: "Skaw Anchorage", CorridorType: config.CorridorAnchorageHolding,
				RiskWeight: 1.0, Polygon: rect(57, 10, 58, 11),
			},
			{
				Name: "Arctic Passage", CorridorType: config.CorridorExportRoute,
				RiskWeight: 1.2, Tags: []string{"arctic"}, Polygon: rect(68, 30, 75, 45),
			},
		}},
		Scrapped: config.NewScrappedVessels([]config.ScrappedVessel{
			{IMO: "9123456", Name: "DEMOLITION STAR", ScrappedYear: 2022},
		}),
		Flags: config.NewFlagsForTest(map[string]bool{
			"TRACK_NATURALNESS_DETECTION_ENABLED": true,
			"DESTINATION_DETECTION_ENABLED":       true,
			"DARK_STS_DETECTION_ENABLED":          true,
		}),
	}
}

func mkVessel(t *testing.T, s *db.Store, mmsi string) *db.Vessel {
	t.Helper()

	ctx := context.Background()
	tx, err := s.BeginTx(ctx, nil)
	require.NoError(t, err)

	v, err := db.UpsertVessel(ctx, tx, db.NewVessel{
		MMSI:      mmsi,
		FirstSeen: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return v
}

func mkPos(t *testing.T, s *db.Store, vesselID int64, ts time.Time, lat, lon, sog float64) *db.Position {
	t.Helper()

	p := &db.Position{VesselID: vesselID, Timestamp: ts, Lat: lat, Lon: lon, SOG: &sog}
	storePos(t, s, p)
	return p
}

// storePos inserts a fully built position and backfills its row ID.
func storePos(t *testing.T, s *db.Store, p *db.Position) {
	t.Helper()

	ctx := context.Background()
	stored, err := db.InsertPosition(ctx, s.DB, p)
	require.NoError(t, err)
	require.True(t, stored)

	got, err := s.LastPositionBefore(ctx, p.VesselID, p.Timestamp)
	require.NoError(t, err)
	p.ID = got.ID
}

func day(d int, hour, minute int) time.Time {
	return time.Date(2024, 5, d, hour, minute, 0, 0, time.UTC)
}

func rangeDays(fromDay, toDay int) db.DateRange {
	return db.DateRange{From: day(fromDay, 0, 0), To: day(toDay, 0, 0)}
}
