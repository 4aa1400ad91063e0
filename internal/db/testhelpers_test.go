package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setupTestStore opens an in-memory database with the full schema applied.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	require.NoError(t, err)
	// A pooled second connection would get its own empty in-memory DB.
	s.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.MigrateUp())
	return s
}

// mkVessel creates a vessel through the upsert path and returns it.
func mkVessel(t *testing.T, s *Store, mmsi string) *Vessel {
	t.Helper()

	ctx := context.Background()
	tx, err := s.BeginTx(ctx, nil)
	require.NoError(t, err)

	v, err := UpsertVessel(ctx, tx, NewVessel{
		MMSI:      mmsi,
		FirstSeen: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return v
}

// mkPosition inserts one position and returns its row.
func mkPosition(t *testing.T, s *Store, vesselID int64, ts time.Time, lat, lon, sog float64) *Position {
	t.Helper()

	ctx := context.Background()
	p := &Position{
		VesselID:  vesselID,
		Timestamp: ts,
		Lat:       lat,
		Lon:       lon,
		SOG:       &sog,
	}
	stored, err := InsertPosition(ctx, s.DB, p)
	require.NoError(t, err)
	require.True(t, stored)

	got, err := s.LastPositionBefore(ctx, vesselID, ts)
	require.NoError(t, err)
	return got
}
