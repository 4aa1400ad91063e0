package db

import (
	"context"
	"database/sql"
	"time"
)

// InsertSpoofingAnomaly stores a spoofing detection, deduplicating on
// (vessel, type, start).
func (s *Store) InsertSpoofingAnomaly(ctx context.Context, a *SpoofingAnomaly) (bool, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO spoofing_anomalies (vessel_id, spoof_type, start_unix, end_unix,
			details_json, score_component)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(vessel_id, spoof_type, start_unix) DO NOTHING`,
		a.VesselID, string(a.Type), a.Start.Unix(), a.End.Unix(),
		nullS(a.DetailsJSON), a.ScoreComponent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SpoofingForVessel returns a vessel's anomalies overlapping [from, to).
func (s *Store) SpoofingForVessel(ctx context.Context, vesselID int64, r DateRange) ([]*SpoofingAnomaly, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, vessel_id, spoof_type, start_unix, end_unix, details_json, score_component
		FROM spoofing_anomalies
		WHERE vessel_id = ? AND end_unix >= ? AND start_unix < ?
		ORDER BY start_unix`,
		vesselID, r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SpoofingAnomaly
	for rows.Next() {
		var a SpoofingAnomaly
		var typ string
		var start, end int64
		var details sql.NullString
		if err := rows.Scan(&a.ID, &a.VesselID, &typ, &start, &end, &details, &a.ScoreComponent); err != nil {
			return nil, err
		}
		a.Type = SpoofingType(typ)
		a.Start = time.Unix(start, 0).UTC()
		a.End = time.Unix(end, 0).UTC()
		a.DetailsJSON = stringOrNil(details)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// InsertSTSEvent stores an STS pairing. Vessel IDs must already be ordered
// (vessel1 < vessel2) by the detector so the natural key is stable.
func (s *Store) InsertSTSEvent(ctx context.Context, e *STSEvent) (bool, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO sts_transfer_events (vessel1_id, vessel2_id, start_unix, end_unix,
			mean_lat, mean_lon, detection_type, score_component)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vessel1_id, vessel2_id, start_unix) DO NOTHING`,
		e.Vessel1ID, e.Vessel2ID, e.Start.Unix(), e.End.Unix(),
		e.MeanLat, e.MeanLon, string(e.DetectionType), e.ScoreComponent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// STSForVessel returns STS events involving the vessel on either side,
// overlapping [from, to).
func (s *Store) STSForVessel(ctx context.Context, vesselID int64, r DateRange) ([]*STSEvent, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, vessel1_id, vessel2_id, start_unix, end_unix, mean_lat, mean_lon,
			detection_type, score_component
		FROM sts_transfer_events
		WHERE (vessel1_id = ? OR vessel2_id = ?) AND end_unix >= ? AND start_unix < ?
		ORDER BY start_unix`,
		vesselID, vesselID, r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*STSEvent
	for rows.Next() {
		var e STSEvent
		var start, end int64
		var dtype string
		if err := rows.Scan(&e.ID, &e.Vessel1ID, &e.Vessel2ID, &start, &end,
			&e.MeanLat, &e.MeanLon, &dtype, &e.ScoreComponent); err != nil {
			return nil, err
		}
		e.Start = time.Unix(start, 0).UTC()
		e.End = time.Unix(end, 0).UTC()
		e.DetectionType = STSDetectionType(dtype)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// InsertLoiteringEvent stores a dwell, deduplicating on (vessel, start).
func (s *Store) InsertLoiteringEvent(ctx context.Context, e *LoiteringEvent) (bool, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO loitering_events (vessel_id, start_unix, end_unix, median_sog_kn,
			mean_lat, mean_lon, corridor_name, preceding_gap_id, following_gap_id,
			score_component)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vessel_id, start_unix) DO NOTHING`,
		e.VesselID, e.Start.Unix(), e.End.Unix(), e.MedianSOG,
		e.MeanLat, e.MeanLon, nullS(e.CorridorName),
		nullI(e.PrecedingGapID), nullI(e.FollowingGapID), e.ScoreComponent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// LoiteringForVessel returns dwells overlapping [from, to).
func (s *Store) LoiteringForVessel(ctx context.Context, vesselID int64, r DateRange) ([]*LoiteringEvent, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, vessel_id, start_unix, end_unix, median_sog_kn, mean_lat, mean_lon,
			corridor_name, preceding_gap_id, following_gap_id, score_component
		FROM loitering_events
		WHERE vessel_id = ? AND end_unix >= ? AND start_unix < ?
		ORDER BY start_unix`,
		vesselID, r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LoiteringEvent
	for rows.Next() {
		var e LoiteringEvent
		var start, end int64
		var corridor sql.NullString
		var preceding, following sql.NullInt64
		if err := rows.Scan(&e.ID, &e.VesselID, &start, &end, &e.MedianSOG,
			&e.MeanLat, &e.MeanLon, &corridor, &preceding, &following,
			&e.ScoreComponent); err != nil {
			return nil, err
		}
		e.Start = time.Unix(start, 0).UTC()
		e.End = time.Unix(end, 0).UTC()
		e.CorridorName = stringOrNil(corridor)
		e.PrecedingGapID = intOrNil(preceding)
		e.FollowingGapID = intOrNil(following)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// InsertConvoyEvent stores a formation pairing or self-referential flag row.
func (s *Store) InsertConvoyEvent(ctx context.Context, e *ConvoyEvent) (bool, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO convoy_events (vessel_a_id, vessel_b_id, convoy_type, start_unix,
			end_unix, duration_h, score_component)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vessel_a_id, vessel_b_id, convoy_type, start_unix) DO NOTHING`,
		e.VesselAID, e.VesselBID, e.ConvoyType, e.Start.Unix(), e.End.Unix(),
		e.DurationH, e.ScoreComponent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ConvoysForVessel returns convoy rows involving the vessel, overlapping
// [from, to).
func (s *Store) ConvoysForVessel(ctx context.Context, vesselID int64, r DateRange) ([]*ConvoyEvent, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, vessel_a_id, vessel_b_id, convoy_type, start_unix, end_unix,
			duration_h, score_component
		FROM convoy_events
		WHERE (vessel_a_id = ? OR vessel_b_id = ?) AND end_unix >= ? AND start_unix < ?
		ORDER BY start_unix`,
		vesselID, vesselID, r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ConvoyEvent
	for rows.Next() {
		var e ConvoyEvent
		var start, end int64
		if err := rows.Scan(&e.ID, &e.VesselAID, &e.VesselBID, &e.ConvoyType,
			&start, &end, &e.DurationH, &e.ScoreComponent); err != nil {
			return nil, err
		}
		e.Start = time.Unix(start, 0).UTC()
		e.End = time.Unix(end, 0).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// InsertDraughtChange stores a confirmed draught change.
func (s *Store) InsertDraughtChange(ctx context.Context, e *DraughtChangeEvent) (bool, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO draught_change_events (vessel_id, change_unix, draught_before_m,
			draught_after_m, delta_m, class_threshold_m, offshore, near_sts,
			straddles_gap, score_component)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vessel_id, change_unix) DO NOTHING`,
		e.VesselID, e.ChangeTime.Unix(), e.Before, e.After, e.Delta,
		e.ClassThreshold, boolToInt(e.Offshore), boolToInt(e.NearSTS),
		boolToInt(e.StraddlesGap), e.ScoreComponent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DraughtChangesForVessel returns draught changes inside [from, to).
func (s *Store) DraughtChangesForVessel(ctx context.Context, vesselID int64, r DateRange) ([]*DraughtChangeEvent, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, vessel_id, change_unix, draught_before_m, draught_after_m, delta_m,
			class_threshold_m, offshore, near_sts, straddles_gap, score_component
		FROM draught_change_events
		WHERE vessel_id = ? AND change_unix >= ? AND change_unix < ?
		ORDER BY change_unix`,
		vesselID, r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DraughtChangeEvent
	for rows.Next() {
		var e DraughtChangeEvent
		var ts int64
		var offshore, nearSTS, straddles int
		if err := rows.Scan(&e.ID, &e.VesselID, &ts, &e.Before, &e.After, &e.Delta,
			&e.ClassThreshold, &offshore, &nearSTS, &straddles, &e.ScoreComponent); err != nil {
			return nil, err
		}
		e.ChangeTime = time.Unix(ts, 0).UTC()
		e.Offshore = offshore != 0
		e.NearSTS = nearSTS != 0
		e.StraddlesGap = straddles != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

// InsertCloningEvent stores an impossible-jump detection.
func (s *Store) InsertCloningEvent(ctx context.Context, e *CloningEvent) (bool, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO mmsi_cloning_events (vessel_id, pos_a_id, pos_b_id, distance_nm,
			implied_speed_kn, score_component)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(vessel_id, pos_a_id, pos_b_id) DO NOTHING`,
		e.VesselID, e.PosAID, e.PosBID, e.DistanceNM, e.ImpliedSpeedKn, e.ScoreComponent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CloningEventsForVessel returns cloning detections for a vessel.
func (s *Store) CloningEventsForVessel(ctx context.Context, vesselID int64) ([]*CloningEvent, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, vessel_id, pos_a_id, pos_b_id, distance_nm, implied_speed_kn,
			score_component
		FROM mmsi_cloning_events WHERE vessel_id = ? ORDER BY id`,
		vesselID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CloningEvent
	for rows.Next() {
		var e CloningEvent
		if err := rows.Scan(&e.ID, &e.VesselID, &e.PosAID, &e.PosBID,
			&e.DistanceNM, &e.ImpliedSpeedKn, &e.ScoreComponent); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// InsertFleetAlert stores a fleet-level alert (coordinated darkness and the
// like). Alerts are append-only.
func (s *Store) InsertFleetAlert(ctx context.Context, alertType, vesselIDsJSON string, detailsJSON *string) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO fleet_alerts (alert_type, vessel_ids_json, details_json)
		VALUES (?, ?, ?)`,
		alertType, vesselIDsJSON, nullS(detailsJSON))
	return err
}

// InsertDarkDetection stores a non-AIS contact.
func (s *Store) InsertDarkDetection(ctx context.Context, d *DarkDetection) error {
	_, err := s.ExecContext(ctx,
		"INSERT INTO dark_detections (lat, lon, ts_unix, source) VALUES (?, ?, ?, ?)",
		d.Lat, d.Lon, d.Timestamp.Unix(), d.Source)
	return err
}

// DarkDetectionsInRange returns all non-AIS contacts inside [from, to).
func (s *Store) DarkDetectionsInRange(ctx context.Context, r DateRange) ([]*DarkDetection, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, lat, lon, ts_unix, source FROM dark_detections
		WHERE ts_unix >= ? AND ts_unix < ? ORDER BY ts_unix`,
		r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DarkDetection
	for rows.Next() {
		var d DarkDetection
		var ts int64
		if err := rows.Scan(&d.ID, &d.Lat, &d.Lon, &ts, &d.Source); err != nil {
			return nil, err
		}
		d.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, &d)
	}
	return out, rows.Err()
}

// DarkDetectionsNear returns non-AIS contacts inside the time window whose
// position falls within the lat/lon box. Callers refine by exact distance.
func (s *Store) DarkDetectionsNear(ctx context.Context, lat, lon, boxDeg float64, from, to time.Time) ([]*DarkDetection, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, lat, lon, ts_unix, source FROM dark_detections
		WHERE ts_unix >= ? AND ts_unix < ?
		  AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		ORDER BY ts_unix`,
		from.Unix(), to.Unix(), lat-boxDeg, lat+boxDeg, lon-boxDeg, lon+boxDeg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DarkDetection
	for rows.Next() {
		var d DarkDetection
		var ts int64
		if err := rows.Scan(&d.ID, &d.Lat, &d.Lon, &ts, &d.Source); err != nil {
			return nil, err
		}
		d.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, &d)
	}
	return out, rows.Err()
}
