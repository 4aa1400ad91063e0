package detect

import (
	"context"
	"encoding/json"

	"gonum.org/v1/gonum/stat"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
)

const (
	replayRecentDays   = 7
	replayPriorMinDays = 30
	replayPriorMaxDays = 90
	replayMinPositions = 200
	replayCorrelation  = 0.9
	scoreTrackReplay   = 35
)

// DetectTrackReplay flags vessels whose recent week of movement is a
// near-copy of their own track from 30-90 days earlier: a transponder
// looping a recorded file. Tracks are binned by hour of day and the two
// mean-position profiles correlated. Anchored vessels correlate trivially
// and are skipped.
func DetectTrackReplay(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "track_replay"}
	if !cfg.Flags.DetectionEnabled(config.FeatureTrackReplay) {
		return stats, nil
	}

	recent := db.DateRange{From: r.To.AddDate(0, 0, -replayRecentDays), To: r.To}
	prior := db.DateRange{
		From: r.To.AddDate(0, 0, -replayPriorMaxDays),
		To:   r.To.AddDate(0, 0, -replayPriorMinDays),
	}

	vessels, err := store.VesselsWithPositions(ctx, recent)
	if err != nil {
		return stats, err
	}

	for _, vesselID := range vessels {
		stats.Examined++
		recentPos, err := store.PositionsForVessel(ctx, vesselID, recent)
		if err != nil {
			return stats, err
		}
		if len(recentPos) < replayMinPositions {
			continue
		}
		if anchored(recentPos) {
			continue
		}
		priorPos, err := store.PositionsForVessel(ctx, vesselID, prior)
		if err != nil {
			return stats, err
		}
		if len(priorPos) == 0 {
			continue
		}

		corr := trackCorrelation(recentPos, priorPos)
		if corr < replayCorrelation {
			continue
		}
		stats.Found++

		details, _ := json.Marshal(map[string]float64{"correlation": corr})
		detailsJSON := string(details)
		created, err := store.InsertSpoofingAnomaly(ctx, &db.SpoofingAnomaly{
			VesselID:       vesselID,
			Type:           db.SpoofTrackReplay,
			Start:          recent.From,
			End:            recent.To,
			DetailsJSON:    &detailsJSON,
			ScoreComponent: scoreTrackReplay,
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

func anchored(positions []*db.Position) bool {
	var sogs []float64
	for _, p := range positions {
		if p.SOG != nil {
			sogs = append(sogs, *p.SOG)
		}
	}
	return len(sogs) == 0 || median(sogs) < 0.5
}

// hourProfile is the mean position per hour of day.
type hourProfile struct {
	lat [24]float64
	lon [24]float64
	n   [24]int
}

func buildHourProfile(positions []*db.Position) *hourProfile {
	p := &hourProfile{}
	for _, pos := range positions {
		h := pos.Timestamp.UTC().Hour()
		p.lat[h] += pos.Lat
		p.lon[h] += pos.Lon
		p.n[h]++
	}
	for h := 0; h < 24; h++ {
		if p.n[h] > 0 {
			p.lat[h] /= float64(p.n[h])
			p.lon[h] /= float64(p.n[h])
		}
	}
	return p
}

// trackCorrelation is the Pearson correlation between two hour-of-day
// position profiles over bins populated in both, lat and lon interleaved.
func trackCorrelation(recent, prior []*db.Position) float64 {
	a, b := buildHourProfile(recent), buildHourProfile(prior)

	var xs, ys []float64
	for h := 0; h < 24; h++ {
		if a.n[h] == 0 || b.n[h] == 0 {
			continue
		}
		xs = append(xs, a.lat[h], a.lon[h])
		ys = append(ys, b.lat[h], b.lon[h])
	}
	if len(xs) < 8 {
		return 0
	}
	return stat.Correlation(xs, ys, nil)
}
