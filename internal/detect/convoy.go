package detect

import (
	"context"
	"strings"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	convoyMaxDistanceNM   = 5.0
	convoyMinSOG          = 3.0
	convoyMaxHeadingDelta = 15.0
	convoyMinRunBuckets   = 16 // 4 hours

	floatingStorageMinLoiterH = 720
	floatingStorageMinSTS     = 2
	scoreFloatingStorage      = 25
	scoreArcticNoIceClass     = 25
	arcticLatitude            = 66.5
)

// convoyScore tiers by formation duration.
func convoyScore(durationH float64) int {
	switch {
	case durationH >= 24:
		return 35
	case durationH >= 8:
		return 25
	default:
		return 15
	}
}

// DetectConvoys finds pairs of vessels underway in formation: under 5 nm
// apart, both making way, near-parallel courses, across at least 16
// consecutive 15-minute buckets.
func DetectConvoys(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "convoy"}
	if !cfg.Flags.DetectionEnabled(config.FeatureConvoy) {
		return stats, nil
	}

	positions, err := store.PositionsInRange(ctx, r)
	if err != nil {
		return stats, err
	}
	stats.Examined = len(positions)

	idx := buildPairIndex(positions)
	pairs := idx.matchPairs(func(a, b *db.Position) bool {
		if sogOrZero(a) < convoyMinSOG || sogOrZero(b) < convoyMinSOG {
			return false
		}
		if !headingsCompatible(a, b, convoyMaxHeadingDelta) {
			return false
		}
		return geo.HaversineNM(a.Lat, a.Lon, b.Lat, b.Lon) < convoyMaxDistanceNM
	})

	for pair, matches := range pairs {
		if pair.A < 0 {
			continue // dark pseudo-tracks never form convoys
		}
		for _, run := range consecutiveRuns(matches, convoyMinRunBuckets) {
			stats.Found++
			start := geo.BucketStart(run[0].Bucket)
			end := geo.BucketStart(run[len(run)-1].Bucket).Add(geo.BucketDuration)
			durationH := end.Sub(start).Hours()

			created, err := store.InsertConvoyEvent(ctx, &db.ConvoyEvent{
				VesselAID:      pair.A,
				VesselBID:      pair.B,
				ConvoyType:     db.ConvoyTypePair,
				Start:          start,
				End:            end,
				DurationH:      durationH,
				ScoreComponent: convoyScore(durationH),
			})
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

// DetectFloatingStorage reuses the convoy table (self-referential rows) to
// flag vessels parked as floating storage: a loitering event of at least
// 720 hours plus at least two STS transfers in the range.
func DetectFloatingStorage(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "floating_storage"}
	if !cfg.Flags.DetectionEnabled(config.FeatureConvoy) {
		return stats, nil
	}

	vessels, err := store.VesselsWithPositions(ctx, r)
	if err != nil {
		return stats, err
	}
	for _, vesselID := range vessels {
		stats.Examined++
		loiters, err := store.LoiteringForVessel(ctx, vesselID, r)
		if err != nil {
			return stats, err
		}
		var longest *db.LoiteringEvent
		for _, l := range loiters {
			if l.End.Sub(l.Start).Hours() >= floatingStorageMinLoiterH {
				if longest == nil || l.End.Sub(l.Start) > longest.End.Sub(longest.Start) {
					longest = l
				}
			}
		}
		if longest == nil {
			continue
		}
		sts, err := store.STSForVessel(ctx, vesselID, r)
		if err != nil {
			return stats, err
		}
		if len(sts) < floatingStorageMinSTS {
			continue
		}
		stats.Found++

		created, err := store.InsertConvoyEvent(ctx, &db.ConvoyEvent{
			VesselAID:      vesselID,
			VesselBID:      vesselID,
			ConvoyType:     db.ConvoyTypeFloatingStorage,
			Start:          longest.Start,
			End:            longest.End,
			DurationH:      longest.End.Sub(longest.Start).Hours(),
			ScoreComponent: scoreFloatingStorage,
		})
		if err != nil {
			return stats, err
		}
		if created {
			stats.Created++
		}
	}
	return stats, nil
}

var iceClassKeywords = []string{"ice class", "ice-class", "arc4", "arc5", "arc6", "arc7", "1a super", "1as", "1a", "1b", "1c"}

func hasIceClass(vesselType string) bool {
	lower := strings.ToLower(vesselType)
	for _, kw := range iceClassKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isTankerType(vesselType string) bool {
	lower := strings.ToLower(vesselType)
	return strings.Contains(lower, "tanker") || strings.Contains(lower, "crude") ||
		strings.Contains(lower, "oil") || strings.Contains(lower, "lng")
}

// DetectArcticNoIceClass flags tankers operating above 66.5°N, or inside an
// Arctic-tagged corridor, without any ice-class notation in their type.
func DetectArcticNoIceClass(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "arctic_no_ice_class"}
	if !cfg.Flags.DetectionEnabled(config.FeatureConvoy) {
		return stats, nil
	}

	vessels, err := store.VesselsWithPositions(ctx, r)
	if err != nil {
		return stats, err
	}
	for _, vesselID := range vessels {
		stats.Examined++
		v, err := store.VesselByID(ctx, vesselID)
		if err != nil {
			return stats, err
		}
		if v.VesselType == nil || !isTankerType(*v.VesselType) || hasIceClass(*v.VesselType) {
			continue
		}

		positions, err := store.PositionsForVessel(ctx, vesselID, r)
		if err != nil {
			return stats, err
		}
		var first, last *db.Position
		for _, p := range positions {
			arctic := p.Lat > arcticLatitude
			if !arctic {
				if c := corridorAt(cfg, p.Lat, p.Lon); c != nil && c.HasTag("arctic") {
					arctic = true
				}
			}
			if arctic {
				if first == nil {
					first = p
				}
				last = p
			}
		}
		if first == nil {
			continue
		}
		stats.Found++

		created, err := store.InsertConvoyEvent(ctx, &db.ConvoyEvent{
			VesselAID:      vesselID,
			VesselBID:      vesselID,
			ConvoyType:     db.ConvoyTypeArcticNoIce,
			Start:          first.Timestamp,
			End:            last.Timestamp,
			DurationH:      last.Timestamp.Sub(first.Timestamp).Hours(),
			ScoreComponent: scoreArcticNoIceClass,
		})
		if err != nil {
			return stats, err
		}
		if created {
			stats.Created++
		}
	}
	return stats, nil
}
