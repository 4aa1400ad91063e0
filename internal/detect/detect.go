// Package detect implements the event detectors. Every detector has the
// shape Detect(ctx, store, dateRange, cfg) -> Stats and is idempotent:
// re-running over the same window creates no duplicate events, because
// every insert deduplicates on a natural key.
package detect

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
)

// Stats reports what one detector pass did. Created counts only rows that
// did not already exist; a second pass over the same window reports zero.
type Stats struct {
	Detector string
	Examined int
	Found    int
	Created  int
}

// corridorForSegment returns the first corridor whose expanded bounding box
// could contain the straight line between the two points, and whether any
// dark zone does. Corridor order in the config file is the priority order.
func corridorForSegment(cfg *config.Config, lat1, lon1, lat2, lon2 float64) (corridor *config.Corridor, inDarkZone bool) {
	const tol = 0.1

	for i := range cfg.Corridors.Corridors {
		c := &cfg.Corridors.Corridors[i]
		if !c.Polygon.BBox.Expand(tol).IntersectsSegment(lat1, lon1, lat2, lon2) {
			continue
		}
		if corridor == nil {
			corridor = c
		}
		if c.IsJammingZone || c.CorridorType == config.CorridorDarkZone {
			inDarkZone = true
		}
	}
	return corridor, inDarkZone
}

// corridorAt returns the first corridor whose polygon contains the point.
func corridorAt(cfg *config.Config, lat, lon float64) *config.Corridor {
	for i := range cfg.Corridors.Corridors {
		c := &cfg.Corridors.Corridors[i]
		if c.Polygon.Contains(lat, lon) {
			return c
		}
	}
	return nil
}

// sogOrZero unwraps an optional speed.
func sogOrZero(p *db.Position) float64 {
	if p.SOG == nil {
		return 0
	}
	return *p.SOG
}

// median returns the 0.5 quantile of xs. NaN for an empty slice.
func median(xs []float64) float64 {
	return quantile(xs, 0.5)
}

// quantile sorts a copy of xs and returns the p-quantile.
func quantile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

func mean(xs []float64) float64 {
	return stat.Mean(xs, nil)
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

