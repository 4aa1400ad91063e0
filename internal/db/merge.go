package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertMergeCandidate stores a proposed identity match, keeping the higher
// confidence when the pair already exists.
func (s *Store) UpsertMergeCandidate(ctx context.Context, c *MergeCandidate) (int64, error) {
	_, err := s.ExecContext(ctx, `
		INSERT INTO merge_candidates (dark_vessel_id, new_vessel_id, confidence,
			factors_json, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dark_vessel_id, new_vessel_id) DO UPDATE SET
			confidence = MAX(confidence, excluded.confidence),
			factors_json = excluded.factors_json`,
		c.DarkVesselID, c.NewVesselID, c.Confidence, c.FactorsJSON, string(MergePending))
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.QueryRowContext(ctx,
		"SELECT id FROM merge_candidates WHERE dark_vessel_id = ? AND new_vessel_id = ?",
		c.DarkVesselID, c.NewVesselID).Scan(&id)
	return id, err
}

const mergeCandidateColumns = "id, dark_vessel_id, new_vessel_id, confidence, factors_json, status"

func scanMergeCandidate(row interface{ Scan(...any) error }) (*MergeCandidate, error) {
	var c MergeCandidate
	var factors sql.NullString
	var status string
	err := row.Scan(&c.ID, &c.DarkVesselID, &c.NewVesselID, &c.Confidence, &factors, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if factors.Valid {
		c.FactorsJSON = factors.String
	}
	c.Status = MergeCandidateStatus(status)
	return &c, nil
}

// MergeCandidateByID fetches one candidate.
func (s *Store) MergeCandidateByID(ctx context.Context, id int64) (*MergeCandidate, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+mergeCandidateColumns+" FROM merge_candidates WHERE id = ?", id)
	return scanMergeCandidate(row)
}

// MergeCandidatesByStatus lists candidates in one lifecycle state.
func (s *Store) MergeCandidatesByStatus(ctx context.Context, status MergeCandidateStatus) ([]*MergeCandidate, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+mergeCandidateColumns+` FROM merge_candidates
		 WHERE status = ? ORDER BY confidence DESC, id`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MergeCandidate
	for rows.Next() {
		c, err := scanMergeCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MergeCandidatesForVessel lists candidates touching the vessel on either
// side, any status.
func (s *Store) MergeCandidatesForVessel(ctx context.Context, vesselID int64) ([]*MergeCandidate, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+mergeCandidateColumns+` FROM merge_candidates
		 WHERE dark_vessel_id = ? OR new_vessel_id = ? ORDER BY id`,
		vesselID, vesselID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MergeCandidate
	for rows.Next() {
		c, err := scanMergeCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetMergeCandidateStatus moves a candidate through its lifecycle.
func SetMergeCandidateStatus(ctx context.Context, tx DBTX, id int64, status MergeCandidateStatus) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE merge_candidates SET status = ? WHERE id = ?", string(status), id)
	return err
}

// RecordMergeOperation logs an executed merge inside the caller's
// transaction.
func RecordMergeOperation(ctx context.Context, tx DBTX, candidateID *int64, darkID, newID int64, when time.Time, operator string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO merge_operations (candidate_id, dark_vessel_id, new_vessel_id,
			merged_unix, operator)
		VALUES (?, ?, ?, ?, ?)`,
		nullI(candidateID), darkID, newID, when.Unix(), operator)
	return err
}

// ReassignDerivedRows moves a merged vessel's event rows onto its canonical
// successor. Rows whose natural key already exists on the successor stay
// behind on the absorbed vessel.
func ReassignDerivedRows(ctx context.Context, tx DBTX, fromID, toID int64) error {
	stmts := []string{
		"UPDATE OR IGNORE ais_gap_events SET vessel_id = ? WHERE vessel_id = ?",
		"UPDATE OR IGNORE spoofing_anomalies SET vessel_id = ? WHERE vessel_id = ?",
		"UPDATE OR IGNORE sts_transfer_events SET vessel1_id = ? WHERE vessel1_id = ?",
		"UPDATE OR IGNORE sts_transfer_events SET vessel2_id = ? WHERE vessel2_id = ?",
		"UPDATE OR IGNORE loitering_events SET vessel_id = ? WHERE vessel_id = ?",
		"UPDATE OR IGNORE convoy_events SET vessel_a_id = ? WHERE vessel_a_id = ?",
		"UPDATE OR IGNORE convoy_events SET vessel_b_id = ? WHERE vessel_b_id = ?",
		"UPDATE OR IGNORE draught_change_events SET vessel_id = ? WHERE vessel_id = ?",
		"UPDATE OR IGNORE mmsi_cloning_events SET vessel_id = ? WHERE vessel_id = ?",
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, toID, fromID); err != nil {
			return err
		}
	}
	return nil
}

// MergeOperationsForVessel lists executed merges touching the vessel on
// either side, oldest first.
func (s *Store) MergeOperationsForVessel(ctx context.Context, vesselID int64) ([]*MergeOperation, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, candidate_id, dark_vessel_id, new_vessel_id, merged_unix, operator
		FROM merge_operations
		WHERE dark_vessel_id = ? OR new_vessel_id = ?
		ORDER BY merged_unix, id`,
		vesselID, vesselID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MergeOperation
	for rows.Next() {
		var op MergeOperation
		var candidate sql.NullInt64
		var ts int64
		if err := rows.Scan(&op.ID, &candidate, &op.DarkVesselID, &op.NewVesselID, &ts, &op.Operator); err != nil {
			return nil, err
		}
		if candidate.Valid {
			op.CandidateID = &candidate.Int64
		}
		op.Merged = time.Unix(ts, 0).UTC()
		out = append(out, &op)
	}
	return out, rows.Err()
}

// ReplaceMergeChain rewrites the stored chain for a root vessel.
func (s *Store) ReplaceMergeChain(ctx context.Context, rootVesselID int64, linksJSON string, computed time.Time) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM merge_chains WHERE root_vessel_id = ?", rootVesselID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO merge_chains (root_vessel_id, links_json, computed_unix)
		VALUES (?, ?, ?)`,
		rootVesselID, linksJSON, computed.Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// MergeChain returns the stored chain for a root vessel.
func (s *Store) MergeChain(ctx context.Context, rootVesselID int64) (linksJSON string, computed time.Time, err error) {
	var ts int64
	err = s.QueryRowContext(ctx,
		"SELECT links_json, computed_unix FROM merge_chains WHERE root_vessel_id = ?",
		rootVesselID).Scan(&linksJSON, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return linksJSON, time.Unix(ts, 0).UTC(), nil
}

// DeleteMergeChainsTouching drops stored chains whose root is any of the
// given vessels. Chain invalidation after a candidate status change.
func (s *Store) DeleteMergeChainsTouching(ctx context.Context, vesselIDs []int64) error {
	for _, id := range vesselIDs {
		if _, err := s.ExecContext(ctx,
			"DELETE FROM merge_chains WHERE root_vessel_id = ?", id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMergeChainsContaining drops stored chains whose serialized links
// reference the candidate. Matches the `"candidate_id":N` fragment the
// chain builder writes, with both the mid-list and end-of-object suffix.
func (s *Store) DeleteMergeChainsContaining(ctx context.Context, candidateID int64) error {
	for _, suffix := range []string{",", "}"} {
		pattern := fmt.Sprintf(`%%"candidate_id":%d%s%%`, candidateID, suffix)
		if _, err := s.ExecContext(ctx,
			"DELETE FROM merge_chains WHERE links_json LIKE ?", pattern); err != nil {
			return err
		}
	}
	return nil
}

// UpsertFingerprint stores a vessel's behavioral feature vector.
func (s *Store) UpsertFingerprint(ctx context.Context, vesselID int64, featuresJSON string, when time.Time) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO vessel_fingerprints (vessel_id, features_json, updated_unix)
		VALUES (?, ?, ?)
		ON CONFLICT(vessel_id) DO UPDATE SET
			features_json = excluded.features_json,
			updated_unix = excluded.updated_unix`,
		vesselID, featuresJSON, when.Unix())
	return err
}

// Fingerprint returns a vessel's stored feature vector.
func (s *Store) Fingerprint(ctx context.Context, vesselID int64) (string, error) {
	var features string
	err := s.QueryRowContext(ctx,
		"SELECT features_json FROM vessel_fingerprints WHERE vessel_id = ?",
		vesselID).Scan(&features)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return features, err
}

// AllFingerprints returns every stored fingerprint keyed by vessel ID.
func (s *Store) AllFingerprints(ctx context.Context) (map[int64]string, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT vessel_id, features_json FROM vessel_fingerprints")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]string{}
	for rows.Next() {
		var id int64
		var features string
		if err := rows.Scan(&id, &features); err != nil {
			return nil, err
		}
		out[id] = features
	}
	return out, rows.Err()
}

// LogVerification records an external registry lookup and its cost.
func (s *Store) LogVerification(ctx context.Context, vesselID int64, provider string, requestJSON, responseJSON *string, costCents int) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO verification_logs (vessel_id, provider, request_json, response_json, cost_cents)
		VALUES (?, ?, ?, ?, ?)`,
		vesselID, provider, nullS(requestJSON), nullS(responseJSON), costCents)
	return err
}
