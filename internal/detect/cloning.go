package detect

import (
	"context"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const cloningMinSpeedKn = 30.0

// cloningScore tiers by how physically absurd the jump is.
func cloningScore(impliedKn float64) int {
	switch {
	case impliedKn > 100:
		return 55
	case impliedKn > 50:
		return 40
	default:
		return 25
	}
}

// DetectMMSICloning walks each vessel's positions and records every
// consecutive pair whose implied speed exceeds 30 kn: two transponders
// sharing one MMSI produce an interleaved track that teleports.
func DetectMMSICloning(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "mmsi_cloning"}
	if !cfg.Flags.DetectionEnabled(config.FeatureMMSICloning) {
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

		for i := 1; i < len(positions); i++ {
			a, b := positions[i-1], positions[i]
			dist := geo.HaversineNM(a.Lat, a.Lon, b.Lat, b.Lon)
			implied := geo.ImpliedSpeedKn(a.Lat, a.Lon, b.Lat, b.Lon,
				b.Timestamp.Sub(a.Timestamp).Seconds())
			if implied <= cloningMinSpeedKn {
				continue
			}
			stats.Found++

			created, err := store.InsertCloningEvent(ctx, &db.CloningEvent{
				VesselID:       vesselID,
				PosAID:         a.ID,
				PosBID:         b.ID,
				DistanceNM:     dist,
				ImpliedSpeedKn: implied,
				ScoreComponent: cloningScore(implied),
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
