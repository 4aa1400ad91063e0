package detect

import (
	"context"
	"strings"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
)

// Coverage-quality labels for terrestrial AIS receiver density by region.
const (
	CoverageGood     = "GOOD"
	CoverageModerate = "MODERATE"
	CoveragePartial  = "PARTIAL"
	CoveragePoor     = "POOR"
	CoverageNone     = "NONE"
	CoverageUnknown  = "UNKNOWN"
)

// coverageRegions maps corridor-name substrings to coverage labels. Order is
// the match priority; first hit wins.
var coverageRegions = []struct {
	substr  string
	quality string
}{
	{"baltic", CoverageGood},
	{"turkish straits", CoverageGood},
	{"black sea", CoveragePoor},
	{"persian gulf", CoverageNone},
	{"singapore", CoveragePartial},
	{"mediterranean", CoverageModerate},
	{"far east", CoveragePartial},
	{"nakhodka", CoveragePartial},
}

// CoverageQuality returns the receiver coverage label for a corridor name.
func CoverageQuality(corridorName string) string {
	lower := strings.ToLower(corridorName)
	for _, region := range coverageRegions {
		if strings.Contains(lower, region.substr) {
			return region.quality
		}
	}
	return CoverageUnknown
}

// TagCoverageQuality labels every untagged gap in the range with the
// coverage quality of its corridor region.
func TagCoverageQuality(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "coverage"}

	gaps, err := store.GapsInRange(ctx, r)
	if err != nil {
		return stats, err
	}
	stats.Examined = len(gaps)

	for _, g := range gaps {
		if g.CoverageQuality != nil {
			continue
		}
		quality := CoverageUnknown
		if g.CorridorName != nil {
			quality = CoverageQuality(*g.CorridorName)
		}
		stats.Found++
		if err := store.SetGapCoverageQuality(ctx, g.ID, quality); err != nil {
			return stats, err
		}
		stats.Created++
	}
	return stats, nil
}
