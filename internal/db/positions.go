package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertPosition stores one canonical position inside the caller's
// transaction. Duplicates on (vessel, timestamp) are dropped; the return
// value reports whether a row was actually written.
func InsertPosition(ctx context.Context, tx DBTX, p *Position) (stored bool, err error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ais_positions (vessel_id, ts_unix, lat, lon, sog_kn, cog_deg,
			heading_deg, nav_status, draught_m, destination, ais_class, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vessel_id, ts_unix) DO NOTHING`,
		p.VesselID, p.Timestamp.Unix(), p.Lat, p.Lon, nullF(p.SOG), nullF(p.COG),
		nullF(p.Heading), nullI(p.NavStatus), nullF(p.Draught),
		nullS(p.Destination), nullS(p.AISClass), nullS(p.Source))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const positionColumns = `id, vessel_id, ts_unix, lat, lon, sog_kn, cog_deg,
	heading_deg, nav_status, draught_m, destination, ais_class, source`

func scanPosition(rows interface{ Scan(...any) error }) (*Position, error) {
	var p Position
	var ts int64
	var sog, cog, heading, draught sql.NullFloat64
	var navStatus sql.NullInt64
	var destination, aisClass, source sql.NullString

	err := rows.Scan(&p.ID, &p.VesselID, &ts, &p.Lat, &p.Lon, &sog, &cog,
		&heading, &navStatus, &draught, &destination, &aisClass, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Timestamp = time.Unix(ts, 0).UTC()
	p.SOG = floatOrNil(sog)
	p.COG = floatOrNil(cog)
	p.Heading = floatOrNil(heading)
	p.NavStatus = intOrNil(navStatus)
	p.Draught = floatOrNil(draught)
	p.Destination = stringOrNil(destination)
	p.AISClass = stringOrNil(aisClass)
	p.Source = stringOrNil(source)
	return &p, nil
}

func collectPositions(rows *sql.Rows) ([]*Position, error) {
	defer rows.Close()
	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PositionsForVessel returns a vessel's positions inside [from, to) in
// timestamp order. Every detector walks positions through this query, so
// per-vessel ordering is guaranteed in one place.
func (s *Store) PositionsForVessel(ctx context.Context, vesselID int64, r DateRange) ([]*Position, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+positionColumns+` FROM ais_positions
		 WHERE vessel_id = ? AND ts_unix >= ? AND ts_unix < ?
		 ORDER BY ts_unix`,
		vesselID, r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	return collectPositions(rows)
}

// PositionsInRange returns all positions inside [from, to) ordered by
// vessel then time. The pair detectors index these into buckets.
func (s *Store) PositionsInRange(ctx context.Context, r DateRange) ([]*Position, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+positionColumns+` FROM ais_positions
		 WHERE ts_unix >= ? AND ts_unix < ?
		 ORDER BY vessel_id, ts_unix`,
		r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	return collectPositions(rows)
}

// VesselsWithPositions returns the IDs of vessels that reported inside the
// range.
func (s *Store) VesselsWithPositions(ctx context.Context, r DateRange) ([]int64, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT DISTINCT vessel_id FROM ais_positions
		WHERE ts_unix >= ? AND ts_unix < ? ORDER BY vessel_id`,
		r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastPositionBefore returns the newest position at or before t.
func (s *Store) LastPositionBefore(ctx context.Context, vesselID int64, t time.Time) (*Position, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+positionColumns+` FROM ais_positions
		 WHERE vessel_id = ? AND ts_unix <= ?
		 ORDER BY ts_unix DESC LIMIT 1`,
		vesselID, t.Unix())
	return scanPosition(row)
}

// FirstPositionAfter returns the oldest position at or after t.
func (s *Store) FirstPositionAfter(ctx context.Context, vesselID int64, t time.Time) (*Position, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+positionColumns+` FROM ais_positions
		 WHERE vessel_id = ? AND ts_unix >= ?
		 ORDER BY ts_unix LIMIT 1`,
		vesselID, t.Unix())
	return scanPosition(row)
}

// PositionByID fetches one position row.
func (s *Store) PositionByID(ctx context.Context, id int64) (*Position, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+positionColumns+" FROM ais_positions WHERE id = ?", id)
	return scanPosition(row)
}

// CountPositions returns the number of positions in the range, for the
// pipeline data-volume snapshot.
func (s *Store) CountPositions(ctx context.Context, r DateRange) (int64, error) {
	var n int64
	err := s.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ais_positions WHERE ts_unix >= ? AND ts_unix < ?",
		r.From.Unix(), r.To.Unix()).Scan(&n)
	return n, err
}

// HasPositionsBetween reports whether the vessel reported anything inside
// (from, to), used by identity resolution's no-overlap check.
func (s *Store) HasPositionsBetween(ctx context.Context, vesselID int64, from, to time.Time) (bool, error) {
	var n int64
	err := s.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ais_positions
		WHERE vessel_id = ? AND ts_unix > ? AND ts_unix < ?`,
		vesselID, from.Unix(), to.Unix()).Scan(&n)
	return n > 0, err
}
