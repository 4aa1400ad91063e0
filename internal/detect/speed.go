package detect

import (
	"context"
	"encoding/json"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	mmsiReuseSpeedKn     = 30.0
	mmsiReuseExtremeKn   = 100.0
	fakePositionSpeedKn  = 25.0
	fakePositionMinGap   = 36 * time.Second
	fakePositionMinDist  = 1.0
	staleAISMinRun       = 10
	staleAISMinSpan      = 2 * time.Hour
	staleAISMinMedianSOG = 0.5
)

const (
	scoreMMSIReuse        = 40
	scoreMMSIReuseExtreme = 55
	scoreFakePosition     = 25
	scoreStaleAIS         = 20
)

// DetectMMSIReuse flags consecutive position pairs whose implied speed
// exceeds 30 kn, the signature of two hulls sharing one MMSI.
func DetectMMSIReuse(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "mmsi_reuse"}
	if !cfg.Flags.DetectionEnabled(config.FeatureSpoofing) {
		return stats, nil
	}

	return eachVesselTrack(ctx, store, r, stats, func(positions []*db.Position) []*db.SpoofingAnomaly {
		var out []*db.SpoofingAnomaly
		for i := 1; i < len(positions); i++ {
			a, b := positions[i-1], positions[i]
			implied := geo.ImpliedSpeedKn(a.Lat, a.Lon, b.Lat, b.Lon,
				b.Timestamp.Sub(a.Timestamp).Seconds())
			if implied <= mmsiReuseSpeedKn {
				continue
			}
			score := scoreMMSIReuse
			if implied > mmsiReuseExtremeKn {
				score = scoreMMSIReuseExtreme
			}
			details, _ := json.Marshal(map[string]float64{"implied_speed_kn": implied})
			detailsJSON := string(details)
			out = append(out, &db.SpoofingAnomaly{
				VesselID:       a.VesselID,
				Type:           db.SpoofMMSIReuse,
				Start:          a.Timestamp,
				End:            b.Timestamp,
				DetailsJSON:    &detailsJSON,
				ScoreComponent: score,
			})
		}
		return out
	})
}

// DetectFakePositions flags transits above 25 kn after rejecting data races
// (interval < 36 s) and GPS jitter (distance < 1 nm).
func DetectFakePositions(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "fake_position"}
	if !cfg.Flags.DetectionEnabled(config.FeatureFakePosition) {
		return stats, nil
	}

	return eachVesselTrack(ctx, store, r, stats, func(positions []*db.Position) []*db.SpoofingAnomaly {
		var out []*db.SpoofingAnomaly
		for i := 1; i < len(positions); i++ {
			a, b := positions[i-1], positions[i]
			elapsed := b.Timestamp.Sub(a.Timestamp)
			if elapsed < fakePositionMinGap {
				continue
			}
			dist := geo.HaversineNM(a.Lat, a.Lon, b.Lat, b.Lon)
			if dist < fakePositionMinDist {
				continue
			}
			implied := dist / elapsed.Hours()
			if implied <= fakePositionSpeedKn {
				continue
			}
			details, _ := json.Marshal(map[string]float64{
				"implied_speed_kn": implied, "distance_nm": dist,
			})
			detailsJSON := string(details)
			out = append(out, &db.SpoofingAnomaly{
				VesselID:       a.VesselID,
				Type:           db.SpoofFakePosition,
				Start:          a.Timestamp,
				End:            b.Timestamp,
				DetailsJSON:    &detailsJSON,
				ScoreComponent: scoreFakePosition,
			})
		}
		return out
	})
}

// DetectStaleAIS flags runs of frozen kinematics: heading, SOG, and COG all
// identical across ≥ 10 consecutive positions spanning ≥ 2h while the track
// claims to be moving. Anchored vessels are excluded via the median-SOG
// floor.
func DetectStaleAIS(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "stale_ais"}
	if !cfg.Flags.DetectionEnabled(config.FeatureStaleAIS) {
		return stats, nil
	}

	return eachVesselTrack(ctx, store, r, stats, detectStaleRuns)
}

func detectStaleRuns(positions []*db.Position) []*db.SpoofingAnomaly {
	var out []*db.SpoofingAnomaly
	runStart := 0

	sameKinematics := func(a, b *db.Position) bool {
		return floatPtrEq(a.Heading, b.Heading) &&
			floatPtrEq(a.SOG, b.SOG) &&
			floatPtrEq(a.COG, b.COG) &&
			a.Heading != nil && a.SOG != nil && a.COG != nil
	}

	flush := func(end int) {
		n := end - runStart + 1
		if n < staleAISMinRun {
			return
		}
		first, last := positions[runStart], positions[end]
		if last.Timestamp.Sub(first.Timestamp) < staleAISMinSpan {
			return
		}
		sogs := make([]float64, 0, n)
		for _, p := range positions[runStart : end+1] {
			sogs = append(sogs, sogOrZero(p))
		}
		if median(sogs) < staleAISMinMedianSOG {
			return
		}
		out = append(out, &db.SpoofingAnomaly{
			VesselID:       first.VesselID,
			Type:           db.SpoofStaleAIS,
			Start:          first.Timestamp,
			End:            last.Timestamp,
			ScoreComponent: scoreStaleAIS,
		})
	}

	for i := 1; i < len(positions); i++ {
		if sameKinematics(positions[i-1], positions[i]) {
			continue
		}
		flush(i - 1)
		runStart = i
	}
	if len(positions) > 0 {
		flush(len(positions) - 1)
	}
	return out
}

// eachVesselTrack runs a per-track anomaly function over every vessel in
// the range and persists what it finds.
func eachVesselTrack(ctx context.Context, store *db.Store, r db.DateRange, stats Stats,
	fn func([]*db.Position) []*db.SpoofingAnomaly) (Stats, error) {

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

		for _, a := range fn(positions) {
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

func floatPtrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
