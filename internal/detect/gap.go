package detect

import (
	"context"
	"errors"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

// MinGapDuration is the silence threshold below which consecutive positions
// are considered a continuous track.
const MinGapDuration = 2 * time.Hour

// impossibleSpeedKn is the sustained-speed ceiling for a commercial vessel.
const impossibleSpeedKn = 30.0

// DetectGaps scans every vessel's positions in time order and records a gap
// event for each silence longer than MinGapDuration. The position
// immediately before the range is included so a gap straddling the range
// start is still seen.
func DetectGaps(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "gap"}
	if !cfg.Flags.DetectionEnabled(config.FeatureGap) {
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
		if prev, err := store.LastPositionBefore(ctx, vesselID, r.From.Add(-time.Second)); err == nil {
			positions = append([]*db.Position{prev}, positions...)
		} else if !errors.Is(err, db.ErrNotFound) {
			return stats, err
		}
		stats.Examined += len(positions)

		for i := 1; i < len(positions); i++ {
			a, b := positions[i-1], positions[i]
			if b.Timestamp.Sub(a.Timestamp) < MinGapDuration {
				continue
			}
			stats.Found++

			gap := buildGap(cfg, a, b)
			_, created, err := store.InsertGapEvent(ctx, gap)
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

func buildGap(cfg *config.Config, a, b *db.Position) *db.GapEvent {
	durationH := b.Timestamp.Sub(a.Timestamp).Hours()
	actual := geo.HaversineNM(a.Lat, a.Lon, b.Lat, b.Lon)
	preSOG := sogOrZero(a)
	// 25% margin over the pre-gap speed.
	plausible := preSOG * durationH * 1.25

	g := &db.GapEvent{
		VesselID:         a.VesselID,
		Start:            a.Timestamp,
		End:              b.Timestamp,
		DurationH:        durationH,
		ActualDistanceNM: &actual,
		MaxPlausibleNM:   &plausible,
		ImpossibleSpeed:  actual/durationH > impossibleSpeedKn,
		StartPointID:     &a.ID,
		EndPointID:       &b.ID,
	}
	if a.SOG != nil {
		g.PreGapSOG = a.SOG
	}
	if plausible > 0 {
		ratio := actual / plausible
		g.VelocityRatio = &ratio
	}

	corridor, darkZone := corridorForSegment(cfg, a.Lat, a.Lon, b.Lat, b.Lon)
	if corridor != nil {
		g.CorridorName = &corridor.Name
	}
	g.InDarkZone = darkZone
	return g
}
