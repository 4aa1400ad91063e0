// Package identity proposes and executes merges between vessels that went
// silent and vessels that newly appeared, when the physical and registry
// evidence says they are the same hull under a new identity.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
	"github.com/radiance-data/radiancefleet/internal/monitoring"
)

const (
	// A vessel counts as dark after this long without a report, and a
	// vessel counts as new for this long after its MMSI first appears.
	darkAfterDays = 30
	newWithinDays = 14

	autoMergeThreshold = 85
	candidateThreshold = 50

	// Prefilter DWT tolerance. Registry deadweights for one hull differ
	// across sources by a few percent; 30% rejects different ship sizes
	// without rejecting sloppy data.
	prefilterDWTRatio = 0.30
)

// Factors itemizes the confidence score for the analyst view.
type Factors struct {
	IMOMatch    int `json:"imo_match,omitempty"`
	TypeMatch   int `json:"type_match,omitempty"`
	ClassMatch  int `json:"class_match,omitempty"`
	Deadweight  int `json:"deadweight,omitempty"`
	YearBuilt   int `json:"year_built,omitempty"`
	Proximity   int `json:"proximity,omitempty"`
	ISMManager  int `json:"ism_manager,omitempty"`
	PIClub      int `json:"pi_club,omitempty"`
	Fingerprint int `json:"fingerprint,omitempty"`
	NoOverlap   int `json:"no_overlap,omitempty"`
}

// Total is the candidate confidence.
func (f Factors) Total() int {
	return f.IMOMatch + f.TypeMatch + f.ClassMatch + f.Deadweight +
		f.YearBuilt + f.Proximity + f.ISMManager + f.PIClub +
		f.Fingerprint + f.NoOverlap
}

// Stats summarizes one resolution pass.
type Stats struct {
	DarkVessels     int
	NewVessels      int
	PairsConsidered int
	Candidates      int
	AutoMerged      int
}

type pair struct {
	dark     *db.Vessel
	fresh    *db.Vessel
	lastDark *db.Position
	firstNew *db.Position

	factors  Factors
	distance *float64
}

// Prefilter cheaply rejects pairs that cannot be the same hull. Unknown
// attributes never reject.
func Prefilter(dark, fresh *db.Vessel) bool {
	if dark.VesselType != nil && fresh.VesselType != nil && *dark.VesselType != *fresh.VesselType {
		return false
	}
	if dark.AISClass != db.AISClassUnknown && fresh.AISClass != db.AISClassUnknown &&
		dark.AISClass != fresh.AISClass {
		return false
	}
	if dark.Deadweight != nil && fresh.Deadweight != nil {
		if dwtRatio(*dark.Deadweight, *fresh.Deadweight) > prefilterDWTRatio {
			return false
		}
	}
	return true
}

func dwtRatio(a, b float64) float64 {
	larger := math.Max(a, b)
	if larger == 0 {
		return 0
	}
	return math.Abs(a-b) / larger
}

// Resolve runs one identity-resolution pass as of the given time: find
// dark/new vessel pairs, score them, auto-merge above threshold, queue the
// rest for analyst review.
func Resolve(ctx context.Context, store *db.Store, cfg *config.Config, asOf time.Time) (Stats, error) {
	var stats Stats
	if !cfg.Flags.DetectionEnabled(config.FeatureIdentityResolution) {
		return stats, nil
	}

	dark, fresh, err := collectPools(ctx, store, asOf)
	if err != nil {
		return stats, err
	}
	stats.DarkVessels = len(dark)
	stats.NewVessels = len(fresh)

	pairs, err := scorePairs(ctx, store, dark, fresh)
	if err != nil {
		return stats, err
	}
	stats.PairsConsidered = len(pairs)

	applyFingerprints(ctx, store, cfg, pairs)

	for _, p := range pairs {
		confidence := p.factors.Total()
		switch {
		case confidence >= autoMergeThreshold:
			if err := autoMerge(ctx, store, p, confidence, asOf); err != nil {
				return stats, err
			}
			stats.AutoMerged++
		case confidence >= candidateThreshold:
			raw, err := json.Marshal(p.factors)
			if err != nil {
				return stats, err
			}
			if _, err := store.UpsertMergeCandidate(ctx, &db.MergeCandidate{
				DarkVesselID: p.dark.ID,
				NewVesselID:  p.fresh.ID,
				Confidence:   float64(confidence),
				FactorsJSON:  string(raw),
			}); err != nil {
				return stats, err
			}
			stats.Candidates++
		}
	}
	return stats, nil
}

type darkVessel struct {
	vessel *db.Vessel
	last   *db.Position
}

type newVessel struct {
	vessel *db.Vessel
	first  *db.Position
}

func collectPools(ctx context.Context, store *db.Store, asOf time.Time) ([]darkVessel, []newVessel, error) {
	ids, err := store.AllVesselIDs(ctx)
	if err != nil {
		return nil, nil, err
	}

	var dark []darkVessel
	var fresh []newVessel
	for _, id := range ids {
		v, err := store.VesselByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if v.MergedIntoVessel != nil {
			continue
		}

		last, err := store.LastPositionBefore(ctx, v.ID, asOf)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		if asOf.Sub(last.Timestamp) > darkAfterDays*24*time.Hour {
			dark = append(dark, darkVessel{vessel: v, last: last})
			continue
		}
		if v.MMSIFirstSeen != nil && asOf.Sub(*v.MMSIFirstSeen) <= newWithinDays*24*time.Hour {
			first, err := store.FirstPositionAfter(ctx, v.ID, time.Unix(0, 0))
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			fresh = append(fresh, newVessel{vessel: v, first: first})
		}
	}
	return dark, fresh, nil
}

func scorePairs(ctx context.Context, store *db.Store, dark []darkVessel, fresh []newVessel) ([]*pair, error) {
	var pairs []*pair
	for _, d := range dark {
		for _, n := range fresh {
			if d.vessel.ID == n.vessel.ID || !n.first.Timestamp.After(d.last.Timestamp) {
				continue
			}
			if !Prefilter(d.vessel, n.vessel) {
				continue
			}

			// The no-overlap condition is required, not just scored: AIS
			// from the dark hull after the new identity appeared proves
			// they are two ships.
			overlap, err := store.HasPositionsBetween(ctx, d.vessel.ID,
				d.last.Timestamp.Add(time.Second), n.first.Timestamp)
			if err != nil {
				return nil, err
			}
			if overlap {
				continue
			}

			p := &pair{dark: d.vessel, fresh: n.vessel, lastDark: d.last, firstNew: n.first}
			p.factors = scoreFactors(p)
			p.factors.NoOverlap = 10
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

func scoreFactors(p *pair) Factors {
	var f Factors
	d, n := p.dark, p.fresh

	if d.IMO != nil && n.IMO != nil && *d.IMO == *n.IMO {
		f.IMOMatch = 50
	}
	if d.VesselType != nil && n.VesselType != nil && *d.VesselType == *n.VesselType {
		f.TypeMatch = 10
	}
	if d.AISClass != db.AISClassUnknown && d.AISClass == n.AISClass {
		f.ClassMatch = 10
	}
	if d.Deadweight != nil && n.Deadweight != nil {
		switch ratio := dwtRatio(*d.Deadweight, *n.Deadweight); {
		case ratio <= 0.05:
			f.Deadweight = 20
		case ratio <= 0.15:
			f.Deadweight = 10
		}
	}
	if d.YearBuilt != nil && n.YearBuilt != nil {
		if delta := *d.YearBuilt - *n.YearBuilt; delta >= -2 && delta <= 2 {
			f.YearBuilt = 10
		}
	}
	// Shared management is the strongest registry signal an IMO-scrubbed
	// hull leaves behind; it outweighs the physical attributes.
	if d.ISMManager != nil && n.ISMManager != nil && *d.ISMManager == *n.ISMManager {
		f.ISMManager = 25
	}
	if d.PIClub != nil && n.PIClub != nil && *d.PIClub == *n.PIClub {
		f.PIClub = 10
	}
	f.Proximity = proximityPoints(p.lastDark, p.firstNew)
	return f
}

// proximityPoints scores how consistent the reappearance position is with a
// hull drifting or steaming slowly from where it went dark.
func proximityPoints(last, first *db.Position) int {
	hours := first.Timestamp.Sub(last.Timestamp).Hours()
	if hours <= 0 {
		return 0
	}
	implied := geo.HaversineNM(last.Lat, last.Lon, first.Lat, first.Lon) / hours
	switch {
	case implied <= 2:
		return 20
	case implied <= 5:
		return 10
	case implied <= 12:
		return 5
	}
	return 0
}

// applyFingerprints attaches the Mahalanobis-quartile bonus. Best effort:
// pairs without stored fingerprints, or a fleet too small to estimate a
// covariance, score zero on this factor.
func applyFingerprints(ctx context.Context, store *db.Store, cfg *config.Config, pairs []*pair) {
	if !cfg.Flags.DetectionEnabled(config.FeatureFingerprint) || len(pairs) == 0 {
		return
	}

	raw, err := store.AllFingerprints(ctx)
	if err != nil {
		monitoring.Logf("identity: fingerprints unavailable: %v", err)
		return
	}

	features := map[int64]Features{}
	var samples []Features
	for id, js := range raw {
		f, err := parseFeatures(js)
		if err != nil {
			continue
		}
		features[id] = f
		samples = append(samples, f)
	}

	m := newMahalanobis(samples)
	var distances []float64
	for _, p := range pairs {
		df, okD := features[p.dark.ID]
		nf, okN := features[p.fresh.ID]
		if !okD || !okN {
			continue
		}
		var dist float64
		if m != nil {
			dist = m.distance(df, nf)
		} else {
			dist = euclidean(df, nf)
		}
		p.distance = &dist
		distances = append(distances, dist)
	}

	for _, p := range pairs {
		if p.distance != nil {
			p.factors.Fingerprint = fingerprintBonus(*p.distance, distances)
		}
	}
}

// autoMerge executes a high-confidence merge in one transaction: candidate
// record, vessel pointer, derived-row reassignment, and the operation log
// readable from both sides.
func autoMerge(ctx context.Context, store *db.Store, p *pair, confidence int, asOf time.Time) error {
	raw, err := json.Marshal(p.factors)
	if err != nil {
		return err
	}
	candidateID, err := store.UpsertMergeCandidate(ctx, &db.MergeCandidate{
		DarkVesselID: p.dark.ID,
		NewVesselID:  p.fresh.ID,
		Confidence:   float64(confidence),
		FactorsJSON:  string(raw),
	})
	if err != nil {
		return err
	}

	tx, err := store.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := db.SetMergeCandidateStatus(ctx, tx, candidateID, db.MergeAutoMerged); err != nil {
		return err
	}
	if err := db.SetMergedInto(ctx, tx, p.dark.ID, p.fresh.ID); err != nil {
		return err
	}
	if err := db.ReassignDerivedRows(ctx, tx, p.dark.ID, p.fresh.ID); err != nil {
		return err
	}
	if err := db.RecordMergeOperation(ctx, tx, &candidateID, p.dark.ID, p.fresh.ID, asOf, "auto"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	monitoring.Logf("identity: auto-merged vessel %d into %d (confidence %d)",
		p.dark.ID, p.fresh.ID, confidence)
	return nil
}

// ApproveCandidate executes a pending candidate as an analyst merge.
func ApproveCandidate(ctx context.Context, store *db.Store, candidateID int64, operator string, when time.Time) error {
	c, err := store.MergeCandidateByID(ctx, candidateID)
	if err != nil {
		return err
	}
	if c.Status != db.MergePending {
		return fmt.Errorf("identity: candidate %d is %s, not PENDING", candidateID, c.Status)
	}

	tx, err := store.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := db.SetMergeCandidateStatus(ctx, tx, candidateID, db.MergeAnalystMerged); err != nil {
		return err
	}
	if err := db.SetMergedInto(ctx, tx, c.DarkVesselID, c.NewVesselID); err != nil {
		return err
	}
	if err := db.ReassignDerivedRows(ctx, tx, c.DarkVesselID, c.NewVesselID); err != nil {
		return err
	}
	if err := db.RecordMergeOperation(ctx, tx, &candidateID, c.DarkVesselID, c.NewVesselID, when, operator); err != nil {
		return err
	}
	return tx.Commit()
}

// RejectCandidate marks a candidate rejected and invalidates every stored
// chain that references it.
func RejectCandidate(ctx context.Context, store *db.Store, candidateID int64) error {
	c, err := store.MergeCandidateByID(ctx, candidateID)
	if err != nil {
		return err
	}
	if err := db.SetMergeCandidateStatus(ctx, store.DB, candidateID, db.MergeRejected); err != nil {
		return err
	}
	if err := store.DeleteMergeChainsContaining(ctx, candidateID); err != nil {
		return err
	}
	return store.DeleteMergeChainsTouching(ctx, []int64{c.DarkVesselID, c.NewVesselID})
}
