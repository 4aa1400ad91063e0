package detect

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	crossReceiverWindow  = 10 * time.Minute
	crossReceiverMinDist = 5.0
	scoreCrossReceiver   = 25
)

// DetectCrossReceiver flags an MMSI reported by two different sources at
// nearly the same time but more than 5 nm apart. One receiver is hearing
// the real vessel and the other a fabricated track.
func DetectCrossReceiver(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "cross_receiver"}
	if !cfg.Flags.DetectionEnabled(config.FeatureCrossReceiver) {
		return stats, nil
	}

	mmsis, err := store.MMSIsWithObservations(ctx, r)
	if err != nil {
		return stats, err
	}

	for _, mmsi := range mmsis {
		vessel, err := store.VesselByMMSI(ctx, mmsi)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return stats, err
		}

		obs, err := store.ObservationsForMMSI(ctx, mmsi, r)
		if err != nil {
			return stats, err
		}
		stats.Examined += len(obs)

		for i, a := range obs {
			for j := i + 1; j < len(obs); j++ {
				b := obs[j]
				if b.Timestamp.Sub(a.Timestamp) > crossReceiverWindow {
					break
				}
				if a.Source == b.Source {
					continue
				}
				dist := geo.HaversineNM(a.Lat, a.Lon, b.Lat, b.Lon)
				if dist <= crossReceiverMinDist {
					continue
				}
				stats.Found++

				details, _ := json.Marshal(map[string]any{
					"source_a": a.Source, "source_b": b.Source, "distance_nm": dist,
				})
				detailsJSON := string(details)
				created, err := store.InsertSpoofingAnomaly(ctx, &db.SpoofingAnomaly{
					VesselID:       vessel.ID,
					Type:           db.SpoofCrossReceiver,
					Start:          a.Timestamp,
					End:            b.Timestamp,
					DetailsJSON:    &detailsJSON,
					ScoreComponent: scoreCrossReceiver,
				})
				if err != nil {
					return stats, err
				}
				if created {
					stats.Created++
				}
			}
		}
	}
	return stats, nil
}
