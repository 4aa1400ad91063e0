package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const ownerColumns = "id, name, normalized_name, country, address, parent_owner_id, is_sanctioned, cluster_id"

func scanOwner(row interface{ Scan(...any) error }) (*Owner, error) {
	var o Owner
	var country, address sql.NullString
	var parent, cluster sql.NullInt64
	var sanctioned int

	err := row.Scan(&o.ID, &o.Name, &o.NormalizedName, &country, &address,
		&parent, &sanctioned, &cluster)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Country = stringOrNil(country)
	o.Address = stringOrNil(address)
	o.ParentOwnerID = intOrNil(parent)
	o.IsSanctioned = sanctioned != 0
	o.ClusterID = intOrNil(cluster)
	return &o, nil
}

// InsertOwner stores an ownership-graph node.
func (s *Store) InsertOwner(ctx context.Context, o *Owner) (int64, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO owners (name, normalized_name, country, address, parent_owner_id,
			is_sanctioned, cluster_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Name, o.NormalizedName, nullS(o.Country), nullS(o.Address),
		nullI(o.ParentOwnerID), boolToInt(o.IsSanctioned), nullI(o.ClusterID))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// OwnerByID fetches one owner node.
func (s *Store) OwnerByID(ctx context.Context, id int64) (*Owner, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+ownerColumns+" FROM owners WHERE id = ?", id)
	return scanOwner(row)
}

// OwnersByNormalizedName returns every node sharing a normalized name.
func (s *Store) OwnersByNormalizedName(ctx context.Context, normalized string) ([]*Owner, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+ownerColumns+" FROM owners WHERE normalized_name = ? ORDER BY id",
		normalized)
	if err != nil {
		return nil, err
	}
	return collectOwners(rows)
}

// AllOwners returns the full ownership graph.
func (s *Store) AllOwners(ctx context.Context) ([]*Owner, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+ownerColumns+" FROM owners ORDER BY id")
	if err != nil {
		return nil, err
	}
	return collectOwners(rows)
}

func collectOwners(rows *sql.Rows) ([]*Owner, error) {
	defer rows.Close()
	var out []*Owner
	for rows.Next() {
		o, err := scanOwner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SetOwnerCluster assigns a node to a cluster.
func (s *Store) SetOwnerCluster(ctx context.Context, ownerID, clusterID int64) error {
	_, err := s.ExecContext(ctx,
		"UPDATE owners SET cluster_id = ? WHERE id = ?", clusterID, ownerID)
	return err
}

// SetOwnerSanctioned updates the sanctions flag on a node.
func (s *Store) SetOwnerSanctioned(ctx context.Context, ownerID int64, sanctioned bool) error {
	_, err := s.ExecContext(ctx,
		"UPDATE owners SET is_sanctioned = ? WHERE id = ?",
		boolToInt(sanctioned), ownerID)
	return err
}

// UpsertOwnerCluster creates or finds a cluster keyed by normalized name and
// returns its ID.
func (s *Store) UpsertOwnerCluster(ctx context.Context, normalized string) (int64, error) {
	_, err := s.ExecContext(ctx, `
		INSERT INTO owner_clusters (normalized_name) VALUES (?)
		ON CONFLICT(normalized_name) DO NOTHING`, normalized)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.QueryRowContext(ctx,
		"SELECT id FROM owner_clusters WHERE normalized_name = ?", normalized).Scan(&id)
	return id, err
}

// SetClusterSanctioned marks a whole cluster sanctioned.
func (s *Store) SetClusterSanctioned(ctx context.Context, clusterID int64, sanctioned bool) error {
	_, err := s.ExecContext(ctx,
		"UPDATE owner_clusters SET is_sanctioned = ? WHERE id = ?",
		boolToInt(sanctioned), clusterID)
	return err
}

// ClusterSanctioned reports a cluster's sanctions flag.
func (s *Store) ClusterSanctioned(ctx context.Context, clusterID int64) (bool, error) {
	var v int
	err := s.QueryRowContext(ctx,
		"SELECT is_sanctioned FROM owner_clusters WHERE id = ?", clusterID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return v != 0, err
}

// RecordOwnerChange appends an ownership transfer for a vessel.
func (s *Store) RecordOwnerChange(ctx context.Context, vesselID, ownerID int64, when time.Time) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO vessel_owner_changes (vessel_id, owner_id, changed_unix)
		VALUES (?, ?, ?)`,
		vesselID, ownerID, when.Unix())
	return err
}

// OwnerChangesForVessel returns a vessel's ownership history newest first,
// as (ownerID, changed) pairs.
func (s *Store) OwnerChangesForVessel(ctx context.Context, vesselID int64) ([]struct {
	OwnerID int64
	Changed time.Time
}, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT owner_id, changed_unix FROM vessel_owner_changes
		WHERE vessel_id = ? ORDER BY changed_unix DESC`,
		vesselID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []struct {
		OwnerID int64
		Changed time.Time
	}
	for rows.Next() {
		var ownerID, ts int64
		if err := rows.Scan(&ownerID, &ts); err != nil {
			return nil, err
		}
		out = append(out, struct {
			OwnerID int64
			Changed time.Time
		}{ownerID, time.Unix(ts, 0).UTC()})
	}
	return out, rows.Err()
}

// CountOwnerChanges counts ownership transfers for a vessel inside
// [from, to), for the reshuffling signal.
func (s *Store) CountOwnerChanges(ctx context.Context, vesselID int64, from, to time.Time) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vessel_owner_changes
		WHERE vessel_id = ? AND changed_unix >= ? AND changed_unix < ?`,
		vesselID, from.Unix(), to.Unix()).Scan(&n)
	return n, err
}

// CurrentOwner returns the vessel's most recent owner.
func (s *Store) CurrentOwner(ctx context.Context, vesselID int64) (*Owner, error) {
	var ownerID int64
	err := s.QueryRowContext(ctx, `
		SELECT owner_id FROM vessel_owner_changes
		WHERE vessel_id = ? ORDER BY changed_unix DESC LIMIT 1`,
		vesselID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.OwnerByID(ctx, ownerID)
}
