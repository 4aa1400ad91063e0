package db

import (
	"context"
	"time"
)

// InsertObservation stores a raw per-source echo. Duplicate
// (mmsi, timestamp, source) rows are dropped.
func InsertObservation(ctx context.Context, tx DBTX, o *Observation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ais_observations (mmsi, ts_unix, source, lat, lon, sog_kn, received_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mmsi, ts_unix, source) DO NOTHING`,
		o.MMSI, o.Timestamp.Unix(), o.Source, o.Lat, o.Lon, nullF(o.SOG), o.Received.Unix())
	return err
}

// PurgeObservations deletes echoes received before the cutoff. It runs
// inside the caller's transaction and never commits; retention policy is
// received_utc < now - 72h but the caller passes the cutoff explicitly.
func PurgeObservations(ctx context.Context, tx DBTX, before time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"DELETE FROM ais_observations WHERE received_unix < ?", before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ObservationsForMMSI returns a vessel's echoes inside [from, to) in time
// order across all sources.
func (s *Store) ObservationsForMMSI(ctx context.Context, mmsi string, r DateRange) ([]*Observation, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT mmsi, ts_unix, source, lat, lon, sog_kn, received_unix
		FROM ais_observations
		WHERE mmsi = ? AND ts_unix >= ? AND ts_unix < ?
		ORDER BY ts_unix, source`,
		mmsi, r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		var o Observation
		var ts, received int64
		var sog = nullF(nil)
		if err := rows.Scan(&o.MMSI, &ts, &o.Source, &o.Lat, &o.Lon, &sog, &received); err != nil {
			return nil, err
		}
		o.Timestamp = time.Unix(ts, 0).UTC()
		o.Received = time.Unix(received, 0).UTC()
		o.SOG = floatOrNil(sog)
		out = append(out, &o)
	}
	return out, rows.Err()
}

// MMSIsWithObservations lists MMSIs that have echoes from more than one
// source in the range; only those can disagree across receivers.
func (s *Store) MMSIsWithObservations(ctx context.Context, r DateRange) ([]string, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT mmsi FROM ais_observations
		WHERE ts_unix >= ? AND ts_unix < ?
		GROUP BY mmsi HAVING COUNT(DISTINCT source) > 1
		ORDER BY mmsi`,
		r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
