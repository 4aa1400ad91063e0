package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

func setupPipeline(t *testing.T) *db.Store {
	t.Helper()

	s, err := db.Open(":memory:")
	require.NoError(t, err)
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

func pipelineCfg(overrides map[string]bool) *config.Config {
	return &config.Config{
		Scoring: &config.ScoringConfig{
			LastUpdated: "2026-08-01",
			Sections: map[string]map[string]int{
				"gap_duration": {
					"gap_duration_2h_4h":    10,
					"gap_duration_4h_8h":    15,
					"gap_duration_8h_12h":   20,
					"gap_duration_12h_24h":  25,
					"gap_duration_24h_plus": 35,
				},
				"corridor": {
					"corridor_export_route": 10,
				},
				"behavioral": {
					"gap_frequency_3_in_7d": 25,
				},
				"watchlist": {
					"watchlist_match": 60,
				},
			},
		},
		PIClubs: &config.PIClubs{
			LegitimateClubs: []config.PIClub{{Name: "Gard", Short: "GARD"}},
		},
		Registries: &config.FraudulentRegistries{},
		Scrapped:   config.NewScrappedVessels(nil),
		Corridors: &config.CorridorSet{Corridors: []config.Corridor{
			{
				Name: "Baltic Export Route", CorridorType: config.CorridorExportRoute,
				RiskWeight: 1.5, Polygon: rect(58, 22, 61, 27),
			},
		}},
		Flags: config.NewFlagsForTest(overrides),
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

func storePos(t *testing.T, s *db.Store, vesselID int64, ts time.Time, lat, lon float64) int64 {
	t.Helper()
	ctx := context.Background()

	sog := 11.0
	_, err := db.InsertPosition(ctx, s.DB, &db.Position{
		VesselID: vesselID, Timestamp: ts, Lat: lat, Lon: lon, SOG: &sog,
	})
	require.NoError(t, err)

	p, err := s.LastPositionBefore(ctx, vesselID, ts.Add(time.Second))
	require.NoError(t, err)
	return p.ID
}

var window = db.DateRange{
	From: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC),
}

func TestRunHappyPath(t *testing.T) {
	store := setupPipeline(t)
	ctx := context.Background()

	v := mkVessel(t, store, "273700001")
	start := window.From.Add(6 * time.Hour)
	storePos(t, store, v.ID, start, 59.0, 24.0)
	storePos(t, store, v.ID, start.Add(26*time.Hour), 59.3, 24.4)

	p := New(store, pipelineCfg(nil))
	p.Now = func() time.Time { return window.To }

	sum, err := p.Run(ctx, window)
	require.NoError(t, err)
	require.NotNil(t, sum)

	assert.Equal(t, db.RunStatusCompleted, sum.Status)
	assert.Equal(t, StepOK, sum.Steps["gap_detection"].Status)
	assert.Equal(t, StepOK, sum.Steps["risk_scoring"].Status)
	assert.Equal(t, StepOK, sum.Steps["summary"].Status)

	// Experimental detectors stay off by default.
	assert.Equal(t, StepSkipped, sum.Steps["destination"].Status)
	assert.Equal(t, StepSkipped, sum.Steps["track_naturalness"].Status)

	assert.Equal(t, 1, sum.DetectorCounts["gap"])

	require.Len(t, sum.TopAlerts, 1)
	alert := sum.TopAlerts[0]
	assert.Equal(t, "273700001", alert.MMSI)
	assert.Equal(t, 26.0, alert.DurationH)
	assert.Greater(t, alert.RiskScore, 0.0)

	run, err := store.PipelineRunByID(ctx, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusCompleted, run.Status)
	require.NotNil(t, run.Finished)
	require.NotNil(t, run.DetectorCountsJSON)
	assert.Contains(t, *run.DetectorCountsJSON, `"gap":1`)
	require.NotNil(t, run.DriftDisabledJSON)
	assert.Equal(t, "[]", *run.DriftDisabledJSON)
	require.NotNil(t, run.DataVolumeJSON)
	assert.Contains(t, *run.DataVolumeJSON, `"positions":2`)
}

func TestRunSoftFailureMarksPartial(t *testing.T) {
	store := setupPipeline(t)
	ctx := context.Background()

	p := New(store, pipelineCfg(nil))
	p.Fetchers = []Fetcher{{
		Name:  "gfw",
		Fetch: func(context.Context, *db.Store, db.DateRange) error { return errors.New("503") },
	}}

	sum, err := p.Run(ctx, window)
	require.NoError(t, err)

	assert.Equal(t, db.RunStatusPartial, sum.Status)
	assert.Equal(t, StepFailed, sum.Steps["external_fetch"].Status)
	// Detection still ran.
	assert.Equal(t, StepOK, sum.Steps["gap_detection"].Status)

	run, err := store.PipelineRunByID(ctx, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusPartial, run.Status)
}

func TestRunPartialExternalFetchDoesNotFailStep(t *testing.T) {
	store := setupPipeline(t)

	calls := 0
	p := New(store, pipelineCfg(nil))
	p.Fetchers = []Fetcher{
		{Name: "gfw", Fetch: func(context.Context, *db.Store, db.DateRange) error {
			calls++
			return nil
		}},
		{Name: "sar", Fetch: func(context.Context, *db.Store, db.DateRange) error {
			calls++
			return errors.New("timeout")
		}},
	}

	sum, err := p.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StepOK, sum.Steps["external_fetch"].Status)
	assert.Contains(t, sum.Steps["external_fetch"].Detail, "fetched 1/2")
	assert.Equal(t, db.RunStatusCompleted, sum.Status)
}

func TestRunHardFailureAbortsAndPersistsFailed(t *testing.T) {
	store := setupPipeline(t)
	ctx := context.Background()

	v := mkVessel(t, store, "273700002")
	start := window.From.Add(6 * time.Hour)
	storePos(t, store, v.ID, start, 59.0, 24.0)
	storePos(t, store, v.ID, start.Add(26*time.Hour), 59.3, 24.4)

	// Gap detection cannot write its events.
	_, err := store.ExecContext(ctx, "DROP TABLE ais_gap_events")
	require.NoError(t, err)

	p := New(store, pipelineCfg(nil))
	sum, err := p.Run(ctx, window)
	require.Error(t, err)
	require.NotNil(t, sum)

	assert.Equal(t, db.RunStatusFailed, sum.Status)
	assert.Equal(t, StepFailed, sum.Steps["gap_detection"].Status)

	// Nothing after the hard step ran; the summary step still reported.
	_, ranScoring := sum.Steps["risk_scoring"]
	assert.False(t, ranScoring)
	assert.Contains(t, sum.Steps, "summary")

	run, err := store.PipelineRunByID(ctx, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, run.Status)
}

func TestRunSkipsDisabledSteps(t *testing.T) {
	store := setupPipeline(t)

	p := New(store, pipelineCfg(map[string]bool{
		"GAP_DETECTION_ENABLED":                 false,
		"IDENTITY_RESOLUTION_DETECTION_ENABLED": false,
	}))

	sum, err := p.Run(context.Background(), window)
	require.NoError(t, err)

	assert.Equal(t, StepSkipped, sum.Steps["gap_detection"].Status)
	assert.Equal(t, StepSkipped, sum.Steps["identity_resolution"].Status)
	assert.Equal(t, db.RunStatusCompleted, sum.Status)
}

// seedRun writes one finished historical run.
func seedRun(t *testing.T, s *db.Store, id string, finished time.Time, countsJSON, driftJSON string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.InsertPipelineRun(ctx, &db.PipelineRun{
		ID: id, DateFrom: window.From, DateTo: window.To, Started: finished.Add(-time.Hour),
	}))
	require.NoError(t, s.FinishPipelineRun(ctx, id, db.RunStatusCompleted, finished,
		"{}", countsJSON, "{}", driftJSON))
}

func TestDetectDriftWarmup(t *testing.T) {
	store := setupPipeline(t)
	p := New(store, pipelineCfg(nil))

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedRun(t, store, "run-1", base, `{"spoofing":4}`, "[]")
	seedRun(t, store, "run-2", base.Add(24*time.Hour), `{"spoofing":5}`, "[]")

	// Two historical runs: still warming up.
	disabled, err := p.detectDrift(context.Background(), map[string]int{"spoofing": 500})
	require.NoError(t, err)
	assert.Nil(t, disabled)
}

func TestDetectDriftDisablesSpikedDetector(t *testing.T) {
	store := setupPipeline(t)
	p := New(store, pipelineCfg(nil))

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedRun(t, store, "run-1", base, `{"spoofing":3}`, "[]")
	seedRun(t, store, "run-2", base.Add(24*time.Hour), `{"spoofing":3}`, "[]")
	seedRun(t, store, "run-3", base.Add(48*time.Hour), `{"spoofing":4,"gap":10}`, `["sts"]`)

	disabled, err := p.detectDrift(context.Background(), map[string]int{
		"spoofing": 60, // 15x the previous run, above the floor
		"gap":      30, // below the absolute floor
		"loiter":   55, // no baseline: treated as a jump from zero
	})
	require.NoError(t, err)

	// The carried-forward detector stays disabled.
	if diff := cmp.Diff([]string{"loiter", "spoofing", "sts"}, disabled); diff != "" {
		t.Errorf("disabled detectors mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectDriftQuietRun(t *testing.T) {
	store := setupPipeline(t)
	p := New(store, pipelineCfg(nil))

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedRun(t, store, "run-1", base, `{"gap":10}`, "[]")
	seedRun(t, store, "run-2", base.Add(24*time.Hour), `{"gap":12}`, "[]")
	seedRun(t, store, "run-3", base.Add(48*time.Hour), `{"gap":11}`, "[]")

	disabled, err := p.detectDrift(context.Background(), map[string]int{"gap": 14})
	require.NoError(t, err)
	assert.Nil(t, disabled)
}

func TestFleetRollups(t *testing.T) {
	store := setupPipeline(t)
	ctx := context.Background()
	p := New(store, pipelineCfg(nil))

	// Three impossible jumps on one MMSI.
	cloned := mkVessel(t, store, "273700010")
	ts := window.From.Add(time.Hour)
	for i := 0; i < 3; i++ {
		a := storePos(t, store, cloned.ID, ts.Add(time.Duration(i)*10*time.Minute), 59.0, 24.0)
		b := storePos(t, store, cloned.ID, ts.Add(time.Duration(i)*10*time.Minute+time.Minute), 30.0, -10.0+float64(i))
		created, err := store.InsertCloningEvent(ctx, &db.CloningEvent{
			VesselID: cloned.ID, PosAID: a, PosBID: b,
			DistanceNM: 2000, ImpliedSpeedKn: 900, ScoreComponent: 40,
		})
		require.NoError(t, err)
		require.True(t, created)
	}

	// Three vessels dropping dark within the same half hour.
	darkStart := window.From.Add(12 * time.Hour)
	for i, mmsi := range []string{"273700011", "273700012", "273700013"} {
		v := mkVessel(t, store, mmsi)
		_, created, err := store.InsertGapEvent(ctx, &db.GapEvent{
			VesselID:  v.ID,
			Start:     darkStart.Add(time.Duration(i) * 10 * time.Minute),
			End:       darkStart.Add(20 * time.Hour),
			DurationH: 20,
		})
		require.NoError(t, err)
		require.True(t, created)
	}

	detail, err := p.fleetRollups(ctx, window, nil)
	require.NoError(t, err)
	assert.Equal(t, "cloning_clusters=1 coordinated_darkness=1", detail)

	var clones, coordinated int
	require.NoError(t, store.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fleet_alerts WHERE alert_type = 'mmsi_cloning_cluster'").Scan(&clones))
	require.NoError(t, store.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fleet_alerts WHERE alert_type = 'coordinated_darkness'").Scan(&coordinated))
	assert.Equal(t, 1, clones)
	assert.Equal(t, 1, coordinated)
}
