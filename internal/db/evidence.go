package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertEvidenceCard stores an exported evidence snapshot.
func (s *Store) InsertEvidenceCard(ctx context.Context, gapEventID, vesselID int64, snapshotJSON string, exported time.Time) (int64, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO evidence_cards (gap_event_id, vessel_id, snapshot_json, exported_unix)
		VALUES (?, ?, ?, ?)`,
		gapEventID, vesselID, snapshotJSON, exported.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestEvidenceCard returns the most recent snapshot for a gap.
func (s *Store) LatestEvidenceCard(ctx context.Context, gapEventID int64) (snapshotJSON string, exported time.Time, err error) {
	var ts int64
	err = s.QueryRowContext(ctx, `
		SELECT snapshot_json, exported_unix FROM evidence_cards
		WHERE gap_event_id = ? ORDER BY exported_unix DESC, id DESC LIMIT 1`,
		gapEventID).Scan(&snapshotJSON, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return snapshotJSON, time.Unix(ts, 0).UTC(), nil
}
