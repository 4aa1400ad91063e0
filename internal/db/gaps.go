package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertGapEvent stores a gap, deduplicating on (vessel, start). Returns the
// row ID of the new or pre-existing event.
func (s *Store) InsertGapEvent(ctx context.Context, g *GapEvent) (int64, bool, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO ais_gap_events (vessel_id, start_unix, end_unix, duration_h,
			pre_gap_sog_kn, actual_gap_distance_nm, max_plausible_distance_nm,
			velocity_plausibility_ratio, impossible_speed, corridor_name,
			in_dark_zone, is_feed_outage, coverage_quality,
			start_point_id, end_point_id, analyst_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vessel_id, start_unix) DO NOTHING`,
		g.VesselID, g.Start.Unix(), g.End.Unix(), g.DurationH,
		nullF(g.PreGapSOG), nullF(g.ActualDistanceNM), nullF(g.MaxPlausibleNM),
		nullF(g.VelocityRatio), boolToInt(g.ImpossibleSpeed), nullS(g.CorridorName),
		boolToInt(g.InDarkZone), boolToInt(g.IsFeedOutage), nullS(g.CoverageQuality),
		nullI(g.StartPointID), nullI(g.EndPointID), string(StatusNew))
	if err != nil {
		return 0, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n > 0 {
		id, err := res.LastInsertId()
		return id, true, err
	}

	var id int64
	err = s.QueryRowContext(ctx,
		"SELECT id FROM ais_gap_events WHERE vessel_id = ? AND start_unix = ?",
		g.VesselID, g.Start.Unix()).Scan(&id)
	return id, false, err
}

const gapColumns = `id, vessel_id, start_unix, end_unix, duration_h, pre_gap_sog_kn,
	actual_gap_distance_nm, max_plausible_distance_nm, velocity_plausibility_ratio,
	impossible_speed, corridor_name, in_dark_zone, is_feed_outage, coverage_quality,
	start_point_id, end_point_id, risk_score, risk_breakdown_json, confidence,
	analyst_status`

func scanGap(row interface{ Scan(...any) error }) (*GapEvent, error) {
	var g GapEvent
	var start, end int64
	var preSOG, actual, plausible, ratio, score sql.NullFloat64
	var corridor, coverage, breakdown, confidence sql.NullString
	var startPt, endPt sql.NullInt64
	var impossible, darkZone, outage int
	var status string

	err := row.Scan(&g.ID, &g.VesselID, &start, &end, &g.DurationH, &preSOG,
		&actual, &plausible, &ratio, &impossible, &corridor, &darkZone,
		&outage, &coverage, &startPt, &endPt, &score, &breakdown, &confidence,
		&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	g.Start = time.Unix(start, 0).UTC()
	g.End = time.Unix(end, 0).UTC()
	g.PreGapSOG = floatOrNil(preSOG)
	g.ActualDistanceNM = floatOrNil(actual)
	g.MaxPlausibleNM = floatOrNil(plausible)
	g.VelocityRatio = floatOrNil(ratio)
	g.ImpossibleSpeed = impossible != 0
	g.CorridorName = stringOrNil(corridor)
	g.InDarkZone = darkZone != 0
	g.IsFeedOutage = outage != 0
	g.CoverageQuality = stringOrNil(coverage)
	g.StartPointID = intOrNil(startPt)
	g.EndPointID = intOrNil(endPt)
	g.RiskScore = floatOrNil(score)
	g.RiskBreakdownJSON = stringOrNil(breakdown)
	g.Confidence = stringOrNil(confidence)
	g.AnalystStatus = AnalystStatus(status)
	return &g, nil
}

func collectGaps(rows *sql.Rows) ([]*GapEvent, error) {
	defer rows.Close()
	var out []*GapEvent
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GapByID fetches one gap event.
func (s *Store) GapByID(ctx context.Context, id int64) (*GapEvent, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+gapColumns+" FROM ais_gap_events WHERE id = ?", id)
	return scanGap(row)
}

// GapsInRange returns gaps starting inside [from, to) ordered by start time.
func (s *Store) GapsInRange(ctx context.Context, r DateRange) ([]*GapEvent, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+gapColumns+` FROM ais_gap_events
		 WHERE start_unix >= ? AND start_unix < ?
		 ORDER BY start_unix, vessel_id`,
		r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	return collectGaps(rows)
}

// GapsForVessel returns a vessel's gaps starting inside [from, to).
func (s *Store) GapsForVessel(ctx context.Context, vesselID int64, r DateRange) ([]*GapEvent, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+gapColumns+` FROM ais_gap_events
		 WHERE vessel_id = ? AND start_unix >= ? AND start_unix < ?
		 ORDER BY start_unix`,
		vesselID, r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	return collectGaps(rows)
}

// CountGapsForVessel counts a vessel's non-outage gaps starting inside
// [from, to), for the gap-frequency signals.
func (s *Store) CountGapsForVessel(ctx context.Context, vesselID int64, from, to time.Time) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ais_gap_events
		WHERE vessel_id = ? AND start_unix >= ? AND start_unix < ?
		  AND is_feed_outage = 0`,
		vesselID, from.Unix(), to.Unix()).Scan(&n)
	return n, err
}

// CountGapsStartingNear counts distinct vessels with gap starts inside the
// window, excluding one vessel. The feed-outage detector uses it to find
// simultaneous silence.
func (s *Store) CountGapsStartingNear(ctx context.Context, exceptVesselID int64, from, to time.Time) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT vessel_id) FROM ais_gap_events
		WHERE vessel_id != ? AND start_unix >= ? AND start_unix < ?`,
		exceptVesselID, from.Unix(), to.Unix()).Scan(&n)
	return n, err
}

// DailyGapStartCounts returns gap starts per UTC day inside [from, to), for
// the adaptive feed-outage baseline.
func (s *Store) DailyGapStartCounts(ctx context.Context, r DateRange) (map[string]int, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT DATE(start_unix, 'unixepoch') AS day, COUNT(*)
		FROM ais_gap_events
		WHERE start_unix >= ? AND start_unix < ?
		GROUP BY day`,
		r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		out[day] = n
	}
	return out, rows.Err()
}

// MarkFeedOutage flags a gap as infrastructure silence rather than vessel
// behavior.
func (s *Store) MarkFeedOutage(ctx context.Context, gapID int64, outage bool) error {
	_, err := s.ExecContext(ctx,
		"UPDATE ais_gap_events SET is_feed_outage = ? WHERE id = ?",
		boolToInt(outage), gapID)
	return err
}

// SetGapCoverageQuality tags a gap with the receiver coverage label for its
// corridor region.
func (s *Store) SetGapCoverageQuality(ctx context.Context, gapID int64, quality string) error {
	_, err := s.ExecContext(ctx,
		"UPDATE ais_gap_events SET coverage_quality = ? WHERE id = ?",
		quality, gapID)
	return err
}

// UpdateGapScore writes the scoring result back onto the gap.
func (s *Store) UpdateGapScore(ctx context.Context, gapID int64, score float64, breakdownJSON string) error {
	_, err := s.ExecContext(ctx,
		"UPDATE ais_gap_events SET risk_score = ?, risk_breakdown_json = ? WHERE id = ?",
		score, breakdownJSON, gapID)
	return err
}

// SetGapConfidence writes the classifier's band onto the gap.
func (s *Store) SetGapConfidence(ctx context.Context, gapID int64, confidence string) error {
	_, err := s.ExecContext(ctx,
		"UPDATE ais_gap_events SET confidence = ? WHERE id = ?",
		confidence, gapID)
	return err
}

// SetGapAnalystStatus moves a gap through the review workflow.
func (s *Store) SetGapAnalystStatus(ctx context.Context, gapID int64, status AnalystStatus) error {
	_, err := s.ExecContext(ctx,
		"UPDATE ais_gap_events SET analyst_status = ? WHERE id = ?",
		string(status), gapID)
	return err
}

// GapEndingBefore returns a vessel's most recent gap whose end falls inside
// [t-window, t], used to tie reactivations and loitering to prior silence.
func (s *Store) GapEndingBefore(ctx context.Context, vesselID int64, t time.Time, window time.Duration) (*GapEvent, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+gapColumns+` FROM ais_gap_events
		 WHERE vessel_id = ? AND end_unix <= ? AND end_unix >= ?
		 ORDER BY end_unix DESC LIMIT 1`,
		vesselID, t.Unix(), t.Add(-window).Unix())
	return scanGap(row)
}

// GapStartingAfter returns a vessel's earliest gap starting inside
// [t, t+window].
func (s *Store) GapStartingAfter(ctx context.Context, vesselID int64, t time.Time, window time.Duration) (*GapEvent, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+gapColumns+` FROM ais_gap_events
		 WHERE vessel_id = ? AND start_unix >= ? AND start_unix <= ?
		 ORDER BY start_unix LIMIT 1`,
		vesselID, t.Unix(), t.Add(window).Unix())
	return scanGap(row)
}
