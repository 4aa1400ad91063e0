package detect

import (
	"context"
	"math"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
)

const (
	outageWindow         = 2 * time.Hour
	outageBaselineDays   = 30
	outageFallbackN      = 5
	maxOutageHighRisk    = 0.3
	evasionCorroboration = 6 * time.Hour
)

// DetectFeedOutages marks gaps caused by the receiver network going dark
// rather than by the vessel. Gaps are clustered by (corridor, 2-hour
// window); a cluster with at least the adaptive vessel threshold is treated
// as infrastructure silence. Must run after gap detection and before
// scoring; scoring skips outage gaps.
func DetectFeedOutages(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "feed_outage"}
	if !cfg.Flags.DetectionEnabled(config.FeatureFeedOutage) {
		return stats, nil
	}

	gaps, err := store.GapsInRange(ctx, r)
	if err != nil {
		return stats, err
	}
	stats.Examined = len(gaps)

	threshold, err := outageThreshold(ctx, store, r)
	if err != nil {
		return stats, err
	}

	// Cluster key: corridor name plus the 2h window of the gap start.
	type clusterKey struct {
		corridor string
		window   int64
	}
	clusters := map[clusterKey][]*db.GapEvent{}
	for _, g := range gaps {
		corridor := ""
		if g.CorridorName != nil {
			corridor = *g.CorridorName
		}
		key := clusterKey{corridor, g.Start.Unix() / int64(outageWindow/time.Second)}
		clusters[key] = append(clusters[key], g)
	}

	for _, cluster := range clusters {
		vessels := map[int64]bool{}
		for _, g := range cluster {
			vessels[g.VesselID] = true
		}
		if len(vessels) < threshold {
			continue
		}

		// A coordinated fleet going dark together must not pass as a
		// receiver outage.
		highRisk := 0
		for id := range vessels {
			v, err := store.VesselByID(ctx, id)
			if err != nil {
				return stats, err
			}
			if v.IsHighRisk {
				highRisk++
			}
		}
		if float64(highRisk)/float64(len(vessels)) > maxOutageHighRisk {
			continue
		}

		for _, g := range cluster {
			corroborated, err := hasEvasionCorroboration(ctx, store, g)
			if err != nil {
				return stats, err
			}
			if corroborated {
				continue
			}
			stats.Found++
			if g.IsFeedOutage {
				continue
			}
			if err := store.MarkFeedOutage(ctx, g.ID, true); err != nil {
				return stats, err
			}
			stats.Created++
		}
	}
	return stats, nil
}

// outageThreshold derives the minimum cluster size from the historical gap
// rate: max(3, 3 * P95 of per-2h gap starts over the preceding 30 days),
// falling back to 5 when there is no baseline at all.
func outageThreshold(ctx context.Context, store *db.Store, r db.DateRange) (int, error) {
	baseline := db.DateRange{
		From: r.From.AddDate(0, 0, -outageBaselineDays),
		To:   r.From,
	}
	daily, err := store.DailyGapStartCounts(ctx, baseline)
	if err != nil {
		return 0, err
	}
	if len(daily) == 0 {
		return outageFallbackN, nil
	}

	counts := make([]float64, 0, len(daily))
	for _, n := range daily {
		counts = append(counts, float64(n)/12) // 12 two-hour windows per day
	}
	p95 := quantile(counts, 0.95)
	n := int(math.Ceil(3 * p95))
	if n < 3 {
		n = 3
	}
	return n, nil
}

// hasEvasionCorroboration reports whether the vessel has a spoofing anomaly
// or STS event within ±6h of the gap. Such gaps stay attributable to the
// vessel even inside an outage cluster.
func hasEvasionCorroboration(ctx context.Context, store *db.Store, g *db.GapEvent) (bool, error) {
	window := db.DateRange{
		From: g.Start.Add(-evasionCorroboration),
		To:   g.End.Add(evasionCorroboration),
	}
	anomalies, err := store.SpoofingForVessel(ctx, g.VesselID, window)
	if err != nil {
		return false, err
	}
	if len(anomalies) > 0 {
		return true, nil
	}
	sts, err := store.STSForVessel(ctx, g.VesselID, window)
	if err != nil {
		return false, err
	}
	return len(sts) > 0, nil
}
