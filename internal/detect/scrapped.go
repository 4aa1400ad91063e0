package detect

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
)

const scoreScrappedIMO = 40

// DetectScrappedIMOReuse flags vessels broadcasting an IMO that belongs to
// a hull already reported scrapped. The anomaly spans the vessel's activity
// in the range.
func DetectScrappedIMOReuse(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "scrapped_registry"}
	if !cfg.Flags.DetectionEnabled(config.FeatureScrappedRegistry) {
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
		if v.IMO == nil {
			continue
		}
		entry, ok := cfg.Scrapped.Lookup(*v.IMO)
		if !ok {
			continue
		}

		first, err := store.FirstPositionAfter(ctx, vesselID, r.From)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return stats, err
		}
		last, err := store.LastPositionBefore(ctx, vesselID, r.To)
		if err != nil {
			return stats, err
		}
		stats.Found++

		details, _ := json.Marshal(map[string]any{
			"imo": *v.IMO, "scrapped_year": entry.ScrappedYear,
		})
		detailsJSON := string(details)
		created, err := store.InsertSpoofingAnomaly(ctx, &db.SpoofingAnomaly{
			VesselID:       vesselID,
			Type:           db.SpoofScrappedIMOReuse,
			Start:          first.Timestamp,
			End:            last.Timestamp,
			DetailsJSON:    &detailsJSON,
			ScoreComponent: scoreScrappedIMO,
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
