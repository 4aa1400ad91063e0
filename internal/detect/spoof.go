package detect

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
)

const (
	circleSpoofStdevDeg = 0.05
	circleSpoofMinSOG   = 3.0
	circleSpoofMinCount = 10

	anchorSpoofMaxSOG   = 0.1
	anchorSpoofDuration = 72 * time.Hour

	navMismatchMinSOG = 2.0

	erraticWindow         = time.Hour
	erraticMinTransitions = 3
)

// Detection-time score components for the spoofing sub-detectors.
const (
	scoreCircleSpoof = 30
	scoreAnchorSpoof = 25
	scoreNavMismatch = 15
	scoreErraticNav  = 15
)

// navStatusAtAnchor is AIS navigational status 1.
const navStatusAtAnchor = 1

// DetectSpoofing runs the positional spoofing sub-detectors over each
// vessel: circle spoof, anchor spoof, nav-status mismatch, and erratic
// nav-status churn.
func DetectSpoofing(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "spoofing"}
	if !cfg.Flags.DetectionEnabled(config.FeatureSpoofing) {
		return stats, nil
	}

	vessels, err := store.VesselsWithPositions(ctx, r)
	if err != nil {
		return stats, err
	}

	for _, vesselID := range vessels {
		positions, err := store.PositionsForVessel(ctx, vesselID, r)
		if err != nil {
			return stats, err
		}
		stats.Examined += len(positions)

		var found []*db.SpoofingAnomaly
		found = append(found, detectCircleSpoof(positions)...)
		found = append(found, detectAnchorSpoof(cfg, positions)...)
		found = append(found, detectNavMismatch(positions)...)
		found = append(found, detectErraticNav(positions)...)

		for _, a := range found {
			stats.Found++
			created, err := store.InsertSpoofingAnomaly(ctx, a)
			if err != nil {
				return stats, err
			}
			if created {
				stats.Created++
			}
		}
	}
	return stats, nil
}

// detectCircleSpoof flags a track that barely moves geographically while the
// transponder reports sailing speed. Longitude spread is scaled by
// cos(mean lat) so high-latitude tracks are not over-tight.
func detectCircleSpoof(positions []*db.Position) []*db.SpoofingAnomaly {
	if len(positions) < circleSpoofMinCount {
		return nil
	}

	lats := make([]float64, len(positions))
	lons := make([]float64, len(positions))
	var sogs []float64
	for i, p := range positions {
		lats[i] = p.Lat
		lons[i] = p.Lon
		if p.SOG != nil {
			sogs = append(sogs, *p.SOG)
		}
	}
	if len(sogs) == 0 {
		return nil
	}

	meanLat := mean(lats)
	latSpread := stddev(lats)
	lonSpread := stddev(lons) * math.Cos(meanLat*math.Pi/180)
	medSOG := median(sogs)
	if latSpread >= circleSpoofStdevDeg || lonSpread >= circleSpoofStdevDeg ||
		medSOG <= circleSpoofMinSOG {
		return nil
	}

	details, _ := json.Marshal(map[string]float64{
		"stdev_lat": latSpread, "stdev_lon_corrected": lonSpread, "median_sog": medSOG,
	})
	detailsJSON := string(details)
	return []*db.SpoofingAnomaly{{
		VesselID:       positions[0].VesselID,
		Type:           db.SpoofCircle,
		Start:          positions[0].Timestamp,
		End:            positions[len(positions)-1].Timestamp,
		DetailsJSON:    &detailsJSON,
		ScoreComponent: scoreCircleSpoof,
	}}
}

// detectAnchorSpoof flags a ≥ 72h run of at-anchor reports outside any
// anchorage-holding corridor.
func detectAnchorSpoof(cfg *config.Config, positions []*db.Position) []*db.SpoofingAnomaly {
	var out []*db.SpoofingAnomaly
	runStart := -1

	flush := func(end int) {
		if runStart < 0 {
			return
		}
		first, last := positions[runStart], positions[end]
		runStart = -1
		if last.Timestamp.Sub(first.Timestamp) < anchorSpoofDuration {
			return
		}
		if c := corridorAt(cfg, first.Lat, first.Lon); c != nil && c.CorridorType == config.CorridorAnchorageHolding {
			return
		}
		out = append(out, &db.SpoofingAnomaly{
			VesselID:       first.VesselID,
			Type:           db.SpoofAnchor,
			Start:          first.Timestamp,
			End:            last.Timestamp,
			ScoreComponent: scoreAnchorSpoof,
		})
	}

	for i, p := range positions {
		anchored := p.NavStatus != nil && *p.NavStatus == navStatusAtAnchor &&
			p.SOG != nil && *p.SOG < anchorSpoofMaxSOG
		if anchored {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i - 1)
	}
	flush(len(positions) - 1)
	return out
}

// detectNavMismatch flags at-anchor reports moving above 2 kn. Consecutive
// matching positions collapse into one anomaly.
func detectNavMismatch(positions []*db.Position) []*db.SpoofingAnomaly {
	var out []*db.SpoofingAnomaly
	runStart := -1

	flush := func(end int) {
		if runStart < 0 {
			return
		}
		out = append(out, &db.SpoofingAnomaly{
			VesselID:       positions[runStart].VesselID,
			Type:           db.SpoofNavStatusMismatch,
			Start:          positions[runStart].Timestamp,
			End:            positions[end].Timestamp,
			ScoreComponent: scoreNavMismatch,
		})
		runStart = -1
	}

	for i, p := range positions {
		mismatch := p.NavStatus != nil && *p.NavStatus == navStatusAtAnchor &&
			p.SOG != nil && *p.SOG > navMismatchMinSOG
		if mismatch {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i - 1)
	}
	flush(len(positions) - 1)
	return out
}

// detectErraticNav flags episodes with ≥ 3 nav-status transitions inside a
// 60-minute window. Episodes extend greedily while successive transitions
// stay within the window of the previous one, and the scan never re-enters
// a consumed episode.
func detectErraticNav(positions []*db.Position) []*db.SpoofingAnomaly {
	var transitions []time.Time
	var prev *int64
	for _, p := range positions {
		if p.NavStatus == nil {
			continue
		}
		if prev != nil && *p.NavStatus != *prev {
			transitions = append(transitions, p.Timestamp)
		}
		prev = p.NavStatus
	}

	var out []*db.SpoofingAnomaly
	i := 0
	for i < len(transitions) {
		j := i
		for j+1 < len(transitions) && transitions[j+1].Sub(transitions[i]) <= erraticWindow {
			j++
		}
		if j-i+1 < erraticMinTransitions {
			i++
			continue
		}
		end := j
		for end+1 < len(transitions) && transitions[end+1].Sub(transitions[end]) <= erraticWindow {
			end++
		}
		out = append(out, &db.SpoofingAnomaly{
			VesselID:       positions[0].VesselID,
			Type:           db.SpoofErraticNavStatus,
			Start:          transitions[i],
			End:            transitions[end],
			ScoreComponent: scoreErraticNav,
		})
		i = end + 1
	}
	return out
}
