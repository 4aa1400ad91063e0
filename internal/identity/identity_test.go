package identity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
)

func setupIdentity(t *testing.T) *db.Store {
	t.Helper()

	s, err := db.Open(":memory:")
	require.NoError(t, err)
	s.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.MigrateUp())
	return s
}

func identityCfg() *config.Config {
	return &config.Config{Flags: config.NewFlagsForTest(nil)}
}

func mkVessel(t *testing.T, s *db.Store, mmsi string, firstSeen time.Time) *db.Vessel {
	t.Helper()

	ctx := context.Background()
	tx, err := s.BeginTx(ctx, nil)
	require.NoError(t, err)

	v, err := db.UpsertVessel(ctx, tx, db.NewVessel{MMSI: mmsi, FirstSeen: firstSeen})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return v
}

func setHullAttrs(t *testing.T, s *db.Store, id int64, imo, vtype, class string, dwt float64, year int64, ism, pi string) {
	t.Helper()

	_, err := s.ExecContext(context.Background(), `
		UPDATE vessels SET imo = NULLIF(?, ''), vessel_type = NULLIF(?, ''),
			ais_class = ?, deadweight = NULLIF(?, 0), year_built = NULLIF(?, 0),
			ism_manager = NULLIF(?, ''), pi_club = NULLIF(?, '')
		WHERE id = ?`,
		imo, vtype, class, dwt, year, ism, pi, id)
	require.NoError(t, err)
}

func storePos(t *testing.T, s *db.Store, vesselID int64, ts time.Time, lat, lon, sog float64) {
	t.Helper()

	_, err := db.InsertPosition(context.Background(), s.DB, &db.Position{
		VesselID: vesselID, Timestamp: ts, Lat: lat, Lon: lon, SOG: &sog,
	})
	require.NoError(t, err)
}

func reload(t *testing.T, s *db.Store, id int64) *db.Vessel {
	t.Helper()

	v, err := s.VesselByID(context.Background(), id)
	require.NoError(t, err)
	return v
}

var asOf = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func TestPrefilter(t *testing.T) {
	tanker, cargo := "tanker", "cargo"
	dwt80, dwt82, dwt200 := 80000.0, 82000.0, 200000.0

	assert.True(t, Prefilter(
		&db.Vessel{VesselType: &tanker, AISClass: db.AISClassA, Deadweight: &dwt80},
		&db.Vessel{VesselType: &tanker, AISClass: db.AISClassA, Deadweight: &dwt82}))

	assert.False(t, Prefilter(
		&db.Vessel{VesselType: &tanker},
		&db.Vessel{VesselType: &cargo}))

	assert.False(t, Prefilter(
		&db.Vessel{AISClass: db.AISClassA},
		&db.Vessel{AISClass: db.AISClassB}))

	assert.False(t, Prefilter(
		&db.Vessel{Deadweight: &dwt80},
		&db.Vessel{Deadweight: &dwt200}))

	// Unknown attributes never reject.
	assert.True(t, Prefilter(&db.Vessel{}, &db.Vessel{VesselType: &tanker, Deadweight: &dwt80}))
}

func TestProximityPoints(t *testing.T) {
	last := &db.Position{Timestamp: asOf.AddDate(0, 0, -10), Lat: 55, Lon: 24}

	near := &db.Position{Timestamp: asOf, Lat: 55.1, Lon: 24}
	assert.Equal(t, 20, proximityPoints(last, near))

	// ~600 nm in 240 h is about 2.5 kn implied.
	drifted := &db.Position{Timestamp: asOf, Lat: 65, Lon: 24}
	assert.Equal(t, 10, proximityPoints(last, drifted))

	across := &db.Position{Timestamp: last.Timestamp.Add(time.Hour), Lat: 45, Lon: 0}
	assert.Equal(t, 0, proximityPoints(last, across))
}

func TestResolveAutoMergesStrongMatch(t *testing.T) {
	store := setupIdentity(t)
	cfg := identityCfg()
	ctx := context.Background()

	dark := mkVessel(t, store, "273800001", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fresh := mkVessel(t, store, "511800002", asOf.AddDate(0, 0, -5))
	setHullAttrs(t, store, dark.ID, "9074729", "tanker", "A", 80000, 2004, "Global ISM", "Gard")
	setHullAttrs(t, store, fresh.ID, "9074729", "tanker", "A", 81000, 2004, "Global ISM", "Gard")

	storePos(t, store, dark.ID, asOf.AddDate(0, 0, -41), 55.0, 24.0, 11)
	storePos(t, store, fresh.ID, asOf.AddDate(0, 0, -5), 55.05, 24.02, 10)

	gapID, created, err := store.InsertGapEvent(ctx, &db.GapEvent{
		VesselID:  dark.ID,
		Start:     asOf.AddDate(0, 0, -45),
		End:       asOf.AddDate(0, 0, -44),
		DurationH: 24,
	})
	require.NoError(t, err)
	require.True(t, created)

	stats, err := Resolve(ctx, store, cfg, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DarkVessels)
	assert.Equal(t, 1, stats.NewVessels)
	assert.Equal(t, 1, stats.PairsConsidered)
	assert.Equal(t, 1, stats.AutoMerged)
	assert.Equal(t, 0, stats.Candidates)

	canon, err := store.ResolveCanonical(ctx, dark.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, canon.ID)

	merged, err := store.MergeCandidatesByStatus(ctx, db.MergeAutoMerged)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, dark.ID, merged[0].DarkVesselID)
	assert.Equal(t, fresh.ID, merged[0].NewVesselID)
	assert.GreaterOrEqual(t, merged[0].Confidence, 85.0)

	var factors Factors
	require.NoError(t, json.Unmarshal([]byte(merged[0].FactorsJSON), &factors))
	assert.Equal(t, 50, factors.IMOMatch)
	assert.Equal(t, 10, factors.NoOverlap)
	assert.Equal(t, 20, factors.Proximity)

	// History is readable from both hulls.
	for _, id := range []int64{dark.ID, fresh.ID} {
		ops, err := store.MergeOperationsForVessel(ctx, id)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "auto", ops[0].Operator)
	}

	// Derived rows follow the canonical hull.
	g, err := store.GapByID(ctx, gapID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, g.VesselID)
}

func TestResolveQueuesMediumMatch(t *testing.T) {
	store := setupIdentity(t)
	cfg := identityCfg()
	ctx := context.Background()

	dark := mkVessel(t, store, "273800003", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fresh := mkVessel(t, store, "511800004", asOf.AddDate(0, 0, -5))
	// No IMO on either side: 10+10+20+10+20+10 = 80.
	setHullAttrs(t, store, dark.ID, "", "tanker", "A", 80000, 2004, "", "")
	setHullAttrs(t, store, fresh.ID, "", "tanker", "A", 81000, 2004, "", "")

	storePos(t, store, dark.ID, asOf.AddDate(0, 0, -41), 55.0, 24.0, 11)
	storePos(t, store, fresh.ID, asOf.AddDate(0, 0, -5), 55.05, 24.02, 10)

	stats, err := Resolve(ctx, store, cfg, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 0, stats.AutoMerged)

	pending, err := store.MergeCandidatesByStatus(ctx, db.MergePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 80.0, pending[0].Confidence)

	assert.Nil(t, reload(t, store, dark.ID).MergedIntoVessel)
}

func TestResolveAutoMergesSharedManagerWithoutIMO(t *testing.T) {
	store := setupIdentity(t)
	cfg := identityCfg()
	ctx := context.Background()

	// IMO-scrubbed sister identities: same type, near-identical tonnage,
	// same ISM manager, reappearing a short drift away.
	dark := mkVessel(t, store, "273800009", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fresh := mkVessel(t, store, "511800010", asOf.AddDate(0, 0, -5))
	setHullAttrs(t, store, dark.ID, "", "tanker", "unknown", 100000, 0, "Global ISM", "")
	setHullAttrs(t, store, fresh.ID, "", "tanker", "unknown", 105000, 0, "Global ISM", "")

	storePos(t, store, dark.ID, asOf.AddDate(0, 0, -41), 36.0, 22.0, 9)
	storePos(t, store, fresh.ID, asOf.AddDate(0, 0, -5), 36.1, 22.1, 8)

	stats, err := Resolve(ctx, store, cfg, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PairsConsidered)
	assert.Equal(t, 1, stats.AutoMerged)
	assert.Equal(t, 0, stats.Candidates)

	assert.NotNil(t, reload(t, store, dark.ID).MergedIntoVessel)

	merged, err := store.MergeCandidatesByStatus(ctx, db.MergeAutoMerged)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, 85.0, merged[0].Confidence)

	var factors Factors
	require.NoError(t, json.Unmarshal([]byte(merged[0].FactorsJSON), &factors))
	assert.Zero(t, factors.IMOMatch)
	assert.Equal(t, 25, factors.ISMManager)
	assert.Equal(t, 20, factors.Deadweight)

	ops, err := store.MergeOperationsForVessel(ctx, dark.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "auto", ops[0].Operator)
}

func TestResolveDiscardsWeakMatch(t *testing.T) {
	store := setupIdentity(t)
	cfg := identityCfg()
	ctx := context.Background()

	dark := mkVessel(t, store, "273800005", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fresh := mkVessel(t, store, "511800006", asOf.AddDate(0, 0, -5))
	setHullAttrs(t, store, dark.ID, "", "tanker", "unknown", 0, 0, "", "")
	setHullAttrs(t, store, fresh.ID, "", "tanker", "unknown", 0, 0, "", "")

	// Reappears an ocean away: proximity scores zero.
	storePos(t, store, dark.ID, asOf.AddDate(0, 0, -41), 55.0, 24.0, 11)
	storePos(t, store, fresh.ID, asOf.AddDate(0, 0, -5), 1.0, -40.0, 10)

	stats, err := Resolve(ctx, store, cfg, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PairsConsidered)
	assert.Equal(t, 0, stats.Candidates)
	assert.Equal(t, 0, stats.AutoMerged)
}

func TestScorePairsRejectsOverlappingTrack(t *testing.T) {
	store := setupIdentity(t)
	ctx := context.Background()

	dark := mkVessel(t, store, "273800007", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fresh := mkVessel(t, store, "511800008", asOf.AddDate(0, 0, -5))

	storePos(t, store, dark.ID, asOf.AddDate(0, 0, -41), 55.0, 24.0, 11)
	// The dark hull kept transmitting after the chosen dark point.
	storePos(t, store, dark.ID, asOf.AddDate(0, 0, -20), 56.0, 25.0, 11)
	storePos(t, store, fresh.ID, asOf.AddDate(0, 0, -5), 55.05, 24.02, 10)

	last, err := store.LastPositionBefore(ctx, dark.ID, asOf.AddDate(0, 0, -40))
	require.NoError(t, err)
	first, err := store.FirstPositionAfter(ctx, fresh.ID, time.Unix(0, 0))
	require.NoError(t, err)

	pairs, err := scorePairs(ctx, store,
		[]darkVessel{{vessel: reload(t, store, dark.ID), last: last}},
		[]newVessel{{vessel: reload(t, store, fresh.ID), first: first}})
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestResolveDisabledByFlag(t *testing.T) {
	store := setupIdentity(t)
	cfg := &config.Config{Flags: config.NewFlagsForTest(map[string]bool{
		"IDENTITY_RESOLUTION_DETECTION_ENABLED": false,
	})}

	stats, err := Resolve(context.Background(), store, cfg, asOf)
	require.NoError(t, err)
	assert.Zero(t, stats)
}
