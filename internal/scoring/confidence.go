package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/radiance-data/radiancefleet/internal/db"
)

// Confidence is the analyst-facing review band for a scored gap.
type Confidence string

const (
	ConfidenceConfirmed Confidence = "CONFIRMED"
	ConfidenceHigh      Confidence = "HIGH"
	ConfidenceMedium    Confidence = "MEDIUM"
	ConfidenceLow       Confidence = "LOW"
	ConfidenceNone      Confidence = "NONE"
)

// Category buckets every breakdown key into one kind of evidence.
type Category string

const (
	CategoryAISGap         Category = "AIS_GAP"
	CategorySpoofing       Category = "SPOOFING"
	CategorySTSTransfer    Category = "STS_TRANSFER"
	CategoryIdentityChange Category = "IDENTITY_CHANGE"
	CategoryWatchlist      Category = "WATCHLIST"
	CategoryOther          Category = "OTHER"
)

var categoryByKey = map[string]Category{
	"imo_fabricated":     CategorySpoofing,
	"scrapped_imo_reuse": CategorySpoofing,

	"circle_spoof":                CategorySpoofing,
	"anchor_spoof":                CategorySpoofing,
	"nav_status_mismatch":         CategorySpoofing,
	"erratic_nav_status":          CategorySpoofing,
	"fake_position":               CategorySpoofing,
	"fake_port_call":              CategorySpoofing,
	"cross_receiver_disagreement": CategorySpoofing,
	"stale_ais_data":              CategorySpoofing,
	"track_replay":                CategorySpoofing,
	"mmsi_reuse":                  CategorySpoofing,
	"mmsi_cloning":                CategorySpoofing,

	"sts_with_sanctioned":        CategorySTSTransfer,
	"floating_storage":           CategorySTSTransfer,
	"draught_change_unexplained": CategorySTSTransfer,
	"voyage_cycle_pattern":       CategorySTSTransfer,

	"identity_swap":          CategoryIdentityChange,
	"flag_changes_3plus_90d": CategoryIdentityChange,
	"flag_hopping":           CategoryIdentityChange,
	"name_change_recent":     CategoryIdentityChange,
	"stateless_mmsi":         CategoryIdentityChange,

	"watchlist_match":           CategoryWatchlist,
	"watchlist_owner_match":     CategoryWatchlist,
	"owner_cluster_sanctioned":  CategoryWatchlist,
	"shared_address_sanctioned": CategoryWatchlist,

	"gap_reactivation_in_jamming_zone": CategoryAISGap,
	"selective_dark_zone_evasion":      CategoryAISGap,
}

var categoryByPrefix = []struct {
	prefix   string
	category Category
}{
	{"fraudulent_registry_tier_", CategoryIdentityChange},
	{"russian_port_", CategorySTSTransfer},
	{"at_sea_no_port_call_", CategoryAISGap},
	{"gap_duration_", CategoryAISGap},
	{"gap_frequency_", CategoryAISGap},
	{"speed_", CategorySpoofing},
	{"synthetic_track_", CategorySpoofing},
	{"destination_", CategorySpoofing},
	{"sts_event_", CategorySTSTransfer},
	{"loitering_", CategorySTSTransfer},
	{"convoy_", CategorySTSTransfer},
	{"rename_velocity_", CategoryIdentityChange},
}

// CategoryOf maps a breakdown key to its evidence category. Exact keys win
// over prefixes; unknown keys are OTHER.
func CategoryOf(key string) Category {
	if c, ok := categoryByKey[key]; ok {
		return c
	}
	for _, p := range categoryByPrefix {
		if strings.HasPrefix(key, p.prefix) {
			return p.category
		}
	}
	return CategoryOther
}

// Classify assigns the review band for a scored gap. Rules run in order and
// the first match wins; deductions never count as category evidence.
func Classify(score float64, signals map[string]int, analystVerified bool) Confidence {
	if analystVerified || signals["watchlist_match"] > 0 || signals["watchlist_owner_match"] > 0 {
		return ConfidenceConfirmed
	}

	categories := map[Category]int{}
	for key, points := range signals {
		if points <= 0 {
			continue
		}
		categories[CategoryOf(key)] += points
	}
	strongest := 0
	for _, points := range categories {
		if points > strongest {
			strongest = points
		}
	}

	switch {
	case score >= 76 && (len(categories) >= 2 || strongest >= 80):
		return ConfidenceHigh
	case score >= 51 && strongest >= 30:
		return ConfidenceMedium
	case score >= 21 && score <= 50:
		return ConfidenceLow
	}
	return ConfidenceNone
}

// ClassifyGaps assigns bands to every scored gap in the window. Unscored
// and feed-outage gaps are left untouched.
func ClassifyGaps(ctx context.Context, store *db.Store, r db.DateRange) (int, error) {
	gaps, err := store.GapsInRange(ctx, r)
	if err != nil {
		return 0, err
	}

	classified := 0
	for _, g := range gaps {
		if g.IsFeedOutage || g.RiskScore == nil || g.RiskBreakdownJSON == nil {
			continue
		}
		result, err := ParseBreakdown(*g.RiskBreakdownJSON)
		if err != nil {
			return classified, fmt.Errorf("gap %d: %w", g.ID, err)
		}
		band := Classify(*g.RiskScore, result.Signals, g.AnalystStatus == db.StatusConfirmed)
		if err := store.SetGapConfidence(ctx, g.ID, string(band)); err != nil {
			return classified, err
		}
		classified++
	}
	return classified, nil
}
