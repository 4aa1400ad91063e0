package db

import (
	"context"
	"database/sql"
	"time"
)

// RecordNameChange appends a rename event inside the caller's transaction.
func RecordNameChange(ctx context.Context, tx DBTX, vesselID int64, oldName, newName *string, when time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO name_change_events (vessel_id, old_name, new_name, changed_unix)
		VALUES (?, ?, ?, ?)`,
		vesselID, nullS(oldName), nullS(newName), when.Unix())
	return err
}

// RecordFlagChange appends a reflagging event inside the caller's
// transaction.
func RecordFlagChange(ctx context.Context, tx DBTX, vesselID int64, oldFlag, newFlag *string, when time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO flag_change_events (vessel_id, old_flag, new_flag, changed_unix)
		VALUES (?, ?, ?, ?)`,
		vesselID, nullS(oldFlag), nullS(newFlag), when.Unix())
	return err
}

// CountNameChanges counts renames for a vessel inside [from, to).
func (s *Store) CountNameChanges(ctx context.Context, vesselID int64, from, to time.Time) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM name_change_events
		WHERE vessel_id = ? AND changed_unix >= ? AND changed_unix < ?`,
		vesselID, from.Unix(), to.Unix()).Scan(&n)
	return n, err
}

// CountFlagChanges counts reflaggings for a vessel inside [from, to).
func (s *Store) CountFlagChanges(ctx context.Context, vesselID int64, from, to time.Time) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM flag_change_events
		WHERE vessel_id = ? AND changed_unix >= ? AND changed_unix < ?`,
		vesselID, from.Unix(), to.Unix()).Scan(&n)
	return n, err
}

// NameChangesForVessel returns renames newest first.
func (s *Store) NameChangesForVessel(ctx context.Context, vesselID int64) ([]*NameChange, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, vessel_id, old_name, new_name, changed_unix
		FROM name_change_events WHERE vessel_id = ? ORDER BY changed_unix DESC`,
		vesselID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NameChange
	for rows.Next() {
		var c NameChange
		var oldName, newName sql.NullString
		var ts int64
		if err := rows.Scan(&c.ID, &c.VesselID, &oldName, &newName, &ts); err != nil {
			return nil, err
		}
		c.OldName = stringOrNil(oldName)
		c.NewName = stringOrNil(newName)
		c.Changed = time.Unix(ts, 0).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// FlagChangesForVessel returns reflaggings newest first.
func (s *Store) FlagChangesForVessel(ctx context.Context, vesselID int64) ([]*FlagChange, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, vessel_id, old_flag, new_flag, changed_unix
		FROM flag_change_events WHERE vessel_id = ? ORDER BY changed_unix DESC`,
		vesselID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FlagChange
	for rows.Next() {
		var c FlagChange
		var oldFlag, newFlag sql.NullString
		var ts int64
		if err := rows.Scan(&c.ID, &c.VesselID, &oldFlag, &newFlag, &ts); err != nil {
			return nil, err
		}
		c.OldFlag = stringOrNil(oldFlag)
		c.NewFlag = stringOrNil(newFlag)
		c.Changed = time.Unix(ts, 0).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// InsertPort stores a known port or offshore terminal.
func (s *Store) InsertPort(ctx context.Context, p *Port) (int64, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO ports (name, country, geometry_wkt, lat, lon, is_offshore_terminal)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, nullS(p.Country), p.GeometryWKT, nullF(p.Lat), nullF(p.Lon),
		boolToInt(p.IsOffshoreTerminal))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PortByID fetches one port.
func (s *Store) PortByID(ctx context.Context, id int64) (*Port, error) {
	var p Port
	var country sql.NullString
	var lat, lon sql.NullFloat64
	var offshore int
	err := s.QueryRowContext(ctx, `
		SELECT id, name, country, geometry_wkt, lat, lon, is_offshore_terminal
		FROM ports WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &country, &p.GeometryWKT, &lat, &lon, &offshore)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Country = stringOrNil(country)
	p.Lat = floatOrNil(lat)
	p.Lon = floatOrNil(lon)
	p.IsOffshoreTerminal = offshore != 0
	return &p, nil
}

// AllPorts returns every known port.
func (s *Store) AllPorts(ctx context.Context) ([]*Port, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, name, country, geometry_wkt, lat, lon, is_offshore_terminal
		FROM ports ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Port
	for rows.Next() {
		var p Port
		var country sql.NullString
		var lat, lon sql.NullFloat64
		var offshore int
		if err := rows.Scan(&p.ID, &p.Name, &country, &p.GeometryWKT, &lat, &lon, &offshore); err != nil {
			return nil, err
		}
		p.Country = stringOrNil(country)
		p.Lat = floatOrNil(lat)
		p.Lon = floatOrNil(lon)
		p.IsOffshoreTerminal = offshore != 0
		out = append(out, &p)
	}
	return out, rows.Err()
}

// RecordPortCall appends a visit.
func (s *Store) RecordPortCall(ctx context.Context, vesselID, portID int64, arrived time.Time, departed *time.Time) error {
	var dep any
	if departed != nil {
		dep = departed.Unix()
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO port_calls (vessel_id, port_id, arrived_unix, departed_unix)
		VALUES (?, ?, ?, ?)`,
		vesselID, portID, arrived.Unix(), dep)
	return err
}

// LastPortCall returns the vessel's most recent arrival, or ErrNotFound if
// it has never called at a known port.
func (s *Store) LastPortCall(ctx context.Context, vesselID int64) (portID int64, arrived time.Time, err error) {
	var ts int64
	err = s.QueryRowContext(ctx, `
		SELECT port_id, arrived_unix FROM port_calls
		WHERE vessel_id = ? ORDER BY arrived_unix DESC LIMIT 1`,
		vesselID).Scan(&portID, &ts)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, ErrNotFound
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	return portID, time.Unix(ts, 0).UTC(), nil
}

// PortCallsForVessel counts visits inside [from, to).
func (s *Store) PortCallsForVessel(ctx context.Context, vesselID int64, from, to time.Time) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM port_calls
		WHERE vessel_id = ? AND arrived_unix >= ? AND arrived_unix < ?`,
		vesselID, from.Unix(), to.Unix()).Scan(&n)
	return n, err
}
