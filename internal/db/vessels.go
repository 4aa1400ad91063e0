package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxMergeHops bounds canonical-vessel chain resolution.
const MaxMergeHops = 10

// ErrMergeCycle is returned when a merged_into chain does not resolve to a
// canonical vessel within MaxMergeHops.
var ErrMergeCycle = errors.New("db: merge chain cycle or too deep")

// NewVessel carries the fields the ingest path knows when it first sees an
// MMSI.
type NewVessel struct {
	MMSI      string
	Flag      *string
	FlagRisk  FlagRisk
	FirstSeen time.Time
}

// UpsertVessel resolves a vessel by MMSI inside the caller's transaction,
// creating it when absent. Concurrent workers racing on the same new MMSI
// are handled with a savepoint: on a uniqueness violation the savepoint is
// rolled back and the row re-queried. The outer transaction is never
// aborted; the caller owns the commit.
func UpsertVessel(ctx context.Context, tx DBTX, nv NewVessel) (*Vessel, error) {
	v, err := vesselByMMSI(ctx, tx, nv.MMSI)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT vessel_insert"); err != nil {
		return nil, fmt.Errorf("savepoint: %w", err)
	}

	fr := nv.FlagRisk
	if fr == "" {
		fr = FlagRiskUnknown
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vessels (mmsi, flag, flag_risk, mmsi_first_seen_unix)
		VALUES (?, ?, ?, ?)`,
		nv.MMSI, nullS(nv.Flag), string(fr), nv.FirstSeen.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			// Another worker created it between our query and insert.
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT vessel_insert"); rbErr != nil {
				return nil, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			if _, relErr := tx.ExecContext(ctx, "RELEASE SAVEPOINT vessel_insert"); relErr != nil {
				return nil, fmt.Errorf("release savepoint: %w", relErr)
			}
			return vesselByMMSI(ctx, tx, nv.MMSI)
		}
		return nil, fmt.Errorf("insert vessel %s: %w", nv.MMSI, err)
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT vessel_insert"); err != nil {
		return nil, fmt.Errorf("release savepoint: %w", err)
	}
	return vesselByMMSI(ctx, tx, nv.MMSI)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

const vesselColumns = `id, mmsi, imo, name, callsign, flag, flag_risk, vessel_type,
	deadweight, year_built, ais_class, length_m, width_m, mmsi_first_seen_unix,
	laid_up_30d, laid_up_60d, laid_up_in_sts_zone, pi_club, pi_status,
	ism_manager, is_high_risk, merged_into_vessel_id`

func scanVessel(row interface{ Scan(...any) error }) (*Vessel, error) {
	var v Vessel
	var imo, name, callsign, flag, vtype, piClub, piStatus, ism sql.NullString
	var dwt, length, width sql.NullFloat64
	var yearBuilt, firstSeen, mergedInto sql.NullInt64
	var flagRisk, aisClass string
	var laidUp30, laidUp60, laidUpSTS, highRisk int

	err := row.Scan(&v.ID, &v.MMSI, &imo, &name, &callsign, &flag, &flagRisk,
		&vtype, &dwt, &yearBuilt, &aisClass, &length, &width, &firstSeen,
		&laidUp30, &laidUp60, &laidUpSTS, &piClub, &piStatus, &ism,
		&highRisk, &mergedInto)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.IMO = stringOrNil(imo)
	v.Name = stringOrNil(name)
	v.Callsign = stringOrNil(callsign)
	v.Flag = stringOrNil(flag)
	v.FlagRisk = FlagRisk(flagRisk)
	v.VesselType = stringOrNil(vtype)
	v.Deadweight = floatOrNil(dwt)
	v.YearBuilt = intOrNil(yearBuilt)
	v.AISClass = AISClass(aisClass)
	v.LengthM = floatOrNil(length)
	v.WidthM = floatOrNil(width)
	if firstSeen.Valid {
		t := time.Unix(firstSeen.Int64, 0).UTC()
		v.MMSIFirstSeen = &t
	}
	v.LaidUp30d = laidUp30 != 0
	v.LaidUp60d = laidUp60 != 0
	v.LaidUpInSTSZone = laidUpSTS != 0
	v.PIClub = stringOrNil(piClub)
	v.PIStatus = stringOrNil(piStatus)
	v.ISMManager = stringOrNil(ism)
	v.IsHighRisk = highRisk != 0
	v.MergedIntoVessel = intOrNil(mergedInto)
	return &v, nil
}

func vesselByMMSI(ctx context.Context, tx DBTX, mmsi string) (*Vessel, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+vesselColumns+" FROM vessels WHERE mmsi = ?", mmsi)
	return scanVessel(row)
}

// VesselByMMSI looks a vessel up by MMSI outside any transaction.
func (s *Store) VesselByMMSI(ctx context.Context, mmsi string) (*Vessel, error) {
	return vesselByMMSI(ctx, s.DB, mmsi)
}

// VesselByID looks a vessel up by row ID.
func (s *Store) VesselByID(ctx context.Context, id int64) (*Vessel, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+vesselColumns+" FROM vessels WHERE id = ?", id)
	return scanVessel(row)
}

// ResolveCanonical follows merged_into_vessel_id until it reaches a
// non-absorbed vessel, failing if the chain exceeds MaxMergeHops.
func (s *Store) ResolveCanonical(ctx context.Context, id int64) (*Vessel, error) {
	seen := map[int64]bool{}
	current := id
	for hop := 0; hop <= MaxMergeHops; hop++ {
		if seen[current] {
			return nil, ErrMergeCycle
		}
		seen[current] = true

		v, err := s.VesselByID(ctx, current)
		if err != nil {
			return nil, err
		}
		if v.MergedIntoVessel == nil {
			return v, nil
		}
		current = *v.MergedIntoVessel
	}
	return nil, ErrMergeCycle
}

// UpdateVesselStatic applies static-data fields reported on the stream.
// Only non-nil fields overwrite.
func (s *Store) UpdateVesselStatic(ctx context.Context, tx DBTX, vesselID int64, name, callsign, imo, vesselType *string, lengthM, widthM *float64) error {
	sets := []string{"updated_unix = UNIXEPOCH()"}
	args := []any{}
	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if name != nil {
		add("name", *name)
	}
	if callsign != nil {
		add("callsign", *callsign)
	}
	if imo != nil {
		add("imo", *imo)
	}
	if vesselType != nil {
		add("vessel_type", *vesselType)
	}
	if lengthM != nil {
		add("length_m", *lengthM)
	}
	if widthM != nil {
		add("width_m", *widthM)
	}
	args = append(args, vesselID)

	_, err := tx.ExecContext(ctx,
		"UPDATE vessels SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// UpdateVesselParticulars applies registry-sourced particulars. Only
// non-nil fields overwrite.
func (s *Store) UpdateVesselParticulars(ctx context.Context, vesselID int64, deadweight *float64, yearBuilt *int64, piClub, piStatus, ismManager *string) error {
	sets := []string{"updated_unix = UNIXEPOCH()"}
	args := []any{}
	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if deadweight != nil {
		add("deadweight", *deadweight)
	}
	if yearBuilt != nil {
		add("year_built", *yearBuilt)
	}
	if piClub != nil {
		add("pi_club", *piClub)
	}
	if piStatus != nil {
		add("pi_status", *piStatus)
	}
	if ismManager != nil {
		add("ism_manager", *ismManager)
	}
	args = append(args, vesselID)

	_, err := s.ExecContext(ctx,
		"UPDATE vessels SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// SetLaidUpFlags persists the loitering detector's laid-up findings.
func (s *Store) SetLaidUpFlags(ctx context.Context, vesselID int64, d30, d60, inSTS bool) error {
	_, err := s.ExecContext(ctx, `
		UPDATE vessels SET laid_up_30d = ?, laid_up_60d = ?, laid_up_in_sts_zone = ?,
			updated_unix = UNIXEPOCH()
		WHERE id = ?`,
		boolToInt(d30), boolToInt(d60), boolToInt(inSTS), vesselID)
	return err
}

// SetHighRisk marks a vessel as known high-risk (used by the feed-outage
// anti-decoy guard).
func (s *Store) SetHighRisk(ctx context.Context, vesselID int64, highRisk bool) error {
	_, err := s.ExecContext(ctx,
		"UPDATE vessels SET is_high_risk = ?, updated_unix = UNIXEPOCH() WHERE id = ?",
		boolToInt(highRisk), vesselID)
	return err
}

// SetMergedInto points an absorbed vessel at its canonical successor.
func SetMergedInto(ctx context.Context, tx DBTX, absorbedID, canonicalID int64) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE vessels SET merged_into_vessel_id = ?, updated_unix = UNIXEPOCH() WHERE id = ?",
		canonicalID, absorbedID)
	return err
}

// AllVesselIDs returns every non-absorbed vessel ID.
func (s *Store) AllVesselIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT id FROM vessels WHERE merged_into_vessel_id IS NULL ORDER BY id")
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
