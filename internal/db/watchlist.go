package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReplaceWatchlist swaps in a freshly downloaded feed for one source. The
// delete and reload happen in a single transaction so lookups never see a
// half-loaded feed.
func (s *Store) ReplaceWatchlist(ctx context.Context, source string, entries []*WatchlistEntry) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM watchlist_entries WHERE source = ?", source); err != nil {
		return fmt.Errorf("clear watchlist %s: %w", source, err)
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO watchlist_entries (source, name, mmsi, imo, flag, entry_type, listed_unix)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			source, nullS(e.Name), nullS(e.MMSI), nullS(e.IMO), nullS(e.Flag),
			nullS(e.Type), time.Now().Unix()); err != nil {
			return fmt.Errorf("insert watchlist entry: %w", err)
		}
	}
	return tx.Commit()
}

func collectWatchlist(rows *sql.Rows) ([]*WatchlistEntry, error) {
	defer rows.Close()
	var out []*WatchlistEntry
	for rows.Next() {
		var e WatchlistEntry
		var name, mmsi, imo, flag, etype sql.NullString
		var listed sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Source, &name, &mmsi, &imo, &flag, &etype, &listed); err != nil {
			return nil, err
		}
		e.Name = stringOrNil(name)
		e.MMSI = stringOrNil(mmsi)
		e.IMO = stringOrNil(imo)
		e.Flag = stringOrNil(flag)
		e.Type = stringOrNil(etype)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// WatchlistMatches returns entries matching the vessel's MMSI or IMO across
// every loaded source.
func (s *Store) WatchlistMatches(ctx context.Context, mmsi string, imo *string) ([]*WatchlistEntry, error) {
	query := `SELECT id, source, name, mmsi, imo, flag, entry_type, listed_unix
		FROM watchlist_entries WHERE mmsi = ?`
	args := []any{mmsi}
	if imo != nil {
		query += " OR imo = ?"
		args = append(args, *imo)
	}
	rows, err := s.QueryContext(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	return collectWatchlist(rows)
}

// WatchlistByName returns entries whose name matches exactly, for owner-name
// screening.
func (s *Store) WatchlistByName(ctx context.Context, name string) ([]*WatchlistEntry, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, source, name, mmsi, imo, flag, entry_type, listed_unix
		FROM watchlist_entries WHERE name = ? COLLATE NOCASE ORDER BY id`,
		name)
	if err != nil {
		return nil, err
	}
	return collectWatchlist(rows)
}

// CountWatchlistEntries returns per-source entry counts, for ingest
// reporting.
func (s *Store) CountWatchlistEntries(ctx context.Context) (map[string]int, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT source, COUNT(*) FROM watchlist_entries GROUP BY source")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		out[source] = n
	}
	return out, rows.Err()
}
