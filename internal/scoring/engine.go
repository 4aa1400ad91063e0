// Package scoring turns detector output into a declarative risk score per
// gap event. Signal points live in risk_scoring.yaml; the engine decides
// which keys fire, applies the subsumption rules, multiplies the positive
// sum by vessel-size and corridor weights, and clamps to [0, 200]. The
// confidence classifier then buckets the scored gap into review bands.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
)

const (
	maxScore = 200.0

	// Pre-gap SOG thresholds for the speed signal family. A merchant hull
	// cannot sustain 25 kn; above 18 kn the reported speed is already
	// suspect; 15 kn right before going dark is the classic sprint.
	speedImpossibleSOG = 24.0
	speedSpoofSOG      = 18.0
	speedSpikeSOG      = 15.0

	// Implied over-the-gap speeds.
	impliedImpossibleKn = 30.0
	impliedExtremeKn    = 70.0

	// speedSpikeDurationBonus inflates the gap-duration points when the
	// vessel sprinted into the silence.
	speedSpikeDurationBonus = 1.4

	// laidUpReactivationNM is how far a laid-up vessel must surface from
	// its gap start before the reactivation signal fires.
	laidUpReactivationNM = 20.0

	longHistoryYears = 5
	youngVesselYears = 10
)

// sectionFeature gates whole scoring sections on their *_SCORING_ENABLED
// flag. Sections absent here (metadata, legitimacy, dark_zone, corridor,
// watchlist, behavioral, vessel_age) are always on, with per-key overrides
// in keyFeature.
var sectionFeature = map[string]string{
	"gap_duration":        config.FeatureGap,
	"spoofing":            config.FeatureSpoofing,
	"sts":                 config.FeatureSTS,
	"convoy":              config.FeatureConvoy,
	"track_naturalness":   config.FeatureTrackNaturalness,
	"stale_ais":           config.FeatureStaleAIS,
	"at_sea_operations":   config.FeatureAtSea,
	"ism_continuity":      config.FeatureISMContinuity,
	"rename_velocity":     config.FeatureRenameVelocity,
	"destination":         config.FeatureDestination,
	"scrapped_registry":   config.FeatureScrappedRegistry,
	"track_replay":        config.FeatureTrackReplay,
	"pi_validation":       config.FeaturePIValidation,
	"pi_insurance":        config.FeaturePIValidation,
	"fraudulent_registry": config.FeatureFraudRegistry,
	"ownership_graph":     config.FeatureOwnershipGraph,
}

// keyFeature gates individual keys whose detector has its own flag even
// though the key lives in a shared section.
var keyFeature = map[string]string{
	"flag_changes_3plus_90d":      config.FeatureFlagHopping,
	"flag_hopping":                config.FeatureFlagHopping,
	"stateless_mmsi":              config.FeatureStatelessMMSI,
	"name_change_recent":          config.FeatureRenameVelocity,
	"imo_fabricated":              config.FeatureIMOFraud,
	"identity_swap":               config.FeatureHandshake,
	"fake_position":               config.FeatureFakePosition,
	"cross_receiver_disagreement": config.FeatureCrossReceiver,
	"mmsi_cloning":                config.FeatureMMSICloning,
	"loitering_long_corridor":     config.FeatureLoitering,
	"loitering_short":             config.FeatureLoitering,
	"draught_change_unexplained":  config.FeatureDraught,
	"gap_frequency_3_in_7d":       config.FeatureGap,
	"gap_frequency_5_in_14d":      config.FeatureGap,
	"gap_frequency_8_in_30d":      config.FeatureGap,
}

// Result is the scored breakdown persisted on the gap. json.Marshal sorts
// map keys, so the same inputs always serialize identically.
type Result struct {
	Score                float64        `json:"score"`
	Signals              map[string]int `json:"signals"`
	PositiveTotal        int            `json:"positive_total"`
	DeductionTotal       int            `json:"deduction_total"`
	VesselSizeMultiplier float64        `json:"vessel_size_multiplier"`
	CorridorMultiplier   float64        `json:"corridor_multiplier"`
	ScoringDate          string         `json:"scoring_date"`
	ConfigVersion        string         `json:"config_version,omitempty"`
}

// BreakdownJSON serializes the result for storage on the gap row.
func (r *Result) BreakdownJSON() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// ParseBreakdown restores a stored breakdown.
func ParseBreakdown(raw string) (*Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("parse breakdown: %w", err)
	}
	return &r, nil
}

// Compute scores one gap from its gathered facts. All age arithmetic uses
// scoringDate, never the wall clock, so a rescore with the same date and
// config reproduces the stored result exactly.
func Compute(f *Facts, cfg *config.Config, scoringDate time.Time) *Result {
	res := &Result{
		Signals:              map[string]int{},
		VesselSizeMultiplier: sizeMultiplier(f.Vessel),
		CorridorMultiplier:   1.0,
		ScoringDate:          scoringDate.UTC().Format("2006-01-02"),
	}
	if cfg.Scoring != nil {
		res.ConfigVersion = cfg.Scoring.LastUpdated
	}

	add := func(key string) {
		if key == "" {
			return
		}
		section := cfg.Scoring.SectionOf(key)
		if section == "" || !keyEnabled(cfg.Flags, key, section) {
			return
		}
		v, _ := cfg.Scoring.Value(section, key)
		res.Signals[key] = v
	}

	durKey := durationTier(f.Gap.DurationH)
	add(durKey)

	speedKey, durationBonus := speedSignal(f.Gap)
	add(speedKey)
	if durationBonus {
		if v, ok := res.Signals[durKey]; ok {
			res.Signals[durKey] = int(math.Round(float64(v) * speedSpikeDurationBonus))
		}
	}

	for _, a := range f.Spoofing {
		add(anomalyKey(a))
	}
	if len(f.Cloning) > 0 {
		add("mmsi_cloning")
	}

	addMetadataSignals(f, add)
	addEventSignals(f, cfg, add)
	addVesselSignals(f, cfg, scoringDate, add)

	if f.WatchlistMatch {
		add("watchlist_match")
	}
	if f.OwnerOnWatchlist {
		add("watchlist_owner_match")
	}
	addOwnershipSignals(f, add)

	if f.Gap.CorridorName != nil && cfg.Corridors != nil {
		if c, ok := cfg.Corridors.ByName(*f.Gap.CorridorName); ok {
			res.CorridorMultiplier = c.RiskWeight
			add(corridorKey(c.CorridorType))
		}
	}

	if f.Gap.InDarkZone {
		add(darkZoneKey(f.DarkZone))
	}

	// Composite signals fire off the assembled breakdown, never on their
	// own: voyage cycling needs the full Russian-port / STS / frequency
	// triad, and a jamming-zone reactivation needs a non-structural
	// co-signal so a long gap cannot amplify itself.
	if hasPrefix(res.Signals, "russian_port_") &&
		hasPrefix(res.Signals, "sts_event_") &&
		hasPrefix(res.Signals, "gap_frequency_") {
		add("voyage_cycle_pattern")
	}
	if f.Gap.InDarkZone && hasSectionSignal(res.Signals, cfg, "sts", "spoofing", "metadata") {
		add("gap_reactivation_in_jamming_zone")
	}

	for _, v := range res.Signals {
		if v > 0 {
			res.PositiveTotal += v
		} else {
			res.DeductionTotal += v
		}
	}
	raw := float64(res.PositiveTotal)*res.VesselSizeMultiplier*res.CorridorMultiplier +
		float64(res.DeductionTotal)
	res.Score = math.Max(0, math.Min(maxScore, raw))
	return res
}

func keyEnabled(flags *config.Flags, key, section string) bool {
	if feature, ok := keyFeature[key]; ok {
		return flags.ScoringEnabled(feature)
	}
	if feature, ok := sectionFeature[section]; ok {
		return flags.ScoringEnabled(feature)
	}
	return true
}

func durationTier(hours float64) string {
	switch {
	case hours >= 24:
		return "gap_duration_24h_plus"
	case hours >= 12:
		return "gap_duration_12h_24h"
	case hours >= 8:
		return "gap_duration_8h_12h"
	case hours >= 4:
		return "gap_duration_4h_8h"
	case hours >= 2:
		return "gap_duration_2h_4h"
	}
	return ""
}

// speedSignal picks at most one of the speed family. Impossible speeds
// supersede the spoof and spike signals; only the spike carries the
// gap-duration bonus.
func speedSignal(gap *db.GapEvent) (key string, durationBonus bool) {
	implied := 0.0
	if gap.ActualDistanceNM != nil && gap.DurationH > 0 {
		implied = *gap.ActualDistanceNM / gap.DurationH
	}
	pre := 0.0
	if gap.PreGapSOG != nil {
		pre = *gap.PreGapSOG
	}

	switch {
	case implied > impliedExtremeKn:
		return "speed_impossible_extreme", false
	case gap.ImpossibleSpeed || implied > impliedImpossibleKn || pre > speedImpossibleSOG:
		return "speed_impossible", false
	case pre > speedSpoofSOG:
		return "speed_spoof", false
	case pre >= speedSpikeSOG:
		return "speed_spike_before_gap", true
	}
	return "", false
}

func anomalyKey(a *db.SpoofingAnomaly) string {
	switch a.Type {
	case db.SpoofCircle:
		return "circle_spoof"
	case db.SpoofAnchor:
		return "anchor_spoof"
	case db.SpoofNavStatusMismatch:
		return "nav_status_mismatch"
	case db.SpoofErraticNavStatus:
		return "erratic_nav_status"
	case db.SpoofMMSIReuse:
		return "mmsi_reuse"
	case db.SpoofIdentitySwap:
		return "identity_swap"
	case db.SpoofFakePosition:
		return "fake_position"
	case db.SpoofCrossReceiver:
		return "cross_receiver_disagreement"
	case db.SpoofFakePortCall:
		return "fake_port_call"
	case db.SpoofIMOFraud:
		return "imo_fabricated"
	case db.SpoofStaleAIS:
		return "stale_ais_data"
	case db.SpoofScrappedIMOReuse:
		return "scrapped_imo_reuse"
	case db.SpoofTrackReplay:
		return "track_replay"
	case db.SpoofSyntheticTrack:
		return syntheticTrackKey(a)
	case db.SpoofDestinationDeviation:
		return destinationKey(a)
	}
	return ""
}

func syntheticTrackKey(a *db.SpoofingAnomaly) string {
	var details struct {
		UnnaturalCount int `json:"unnatural_count"`
	}
	if a.DetailsJSON != nil {
		_ = json.Unmarshal([]byte(*a.DetailsJSON), &details)
	}
	switch {
	case details.UnnaturalCount >= 5:
		return "synthetic_track_high"
	case details.UnnaturalCount == 4:
		return "synthetic_track_medium"
	}
	return "synthetic_track_low"
}

func destinationKey(a *db.SpoofingAnomaly) string {
	var details struct {
		Kind string `json:"kind"`
	}
	if a.DetailsJSON != nil {
		_ = json.Unmarshal([]byte(*a.DetailsJSON), &details)
	}
	switch details.Kind {
	case "destination_churn":
		return "destination_churn"
	case "eu_cover_story":
		return "destination_eu_course_sts"
	}
	return "destination_blank_or_generic"
}

func addMetadataSignals(f *Facts, add func(string)) {
	// A burst of reflagging subsumes the slower flag-hopping signal.
	if f.FlagChanges90d >= 3 {
		add("flag_changes_3plus_90d")
	} else if f.FlagChanges12m >= 2 {
		add("flag_hopping")
	}

	if f.NameChanges30d >= 1 {
		add("name_change_recent")
	}
	if f.NameChanges12m >= 2 {
		add("rename_velocity_2plus_12m")
	}
	if statelessMMSI(f.Vessel.MMSI) {
		add("stateless_mmsi")
	}
	if f.Vessel.IMO != nil && !imoChecksumValid(*f.Vessel.IMO) {
		add("imo_fabricated")
	}
	if f.LastPortCountry != nil && strings.EqualFold(*f.LastPortCountry, "RU") &&
		f.DaysSincePortCall != nil && *f.DaysSincePortCall <= 30 {
		add("russian_port_call_recent")
	}
	if f.Vessel.LaidUp30d && f.Gap.ActualDistanceNM != nil &&
		*f.Gap.ActualDistanceNM > laidUpReactivationNM {
		add("laid_up_reactivated")
	}
	if f.FlagChanges90d >= 1 && f.Vessel.ISMManager == nil {
		add("ism_manager_changed_with_flag")
	}
}

func addEventSignals(f *Facts, cfg *config.Config, add func(string)) {
	stsSeen := map[db.STSDetectionType]bool{}
	for _, e := range f.STS {
		stsSeen[e.DetectionType] = true
	}
	if stsSeen[db.STSVisibleVisible] {
		add("sts_event_visible_visible")
	}
	if stsSeen[db.STSVisibleDark] {
		add("sts_event_visible_dark")
	}
	if stsSeen[db.STSDarkDark] {
		add("sts_event_dark_dark")
	}
	if f.STSPartnerFlagged {
		add("sts_with_sanctioned")
	}

	long := false
	for _, e := range f.Loitering {
		if e.CorridorName != nil && e.End.Sub(e.Start).Hours() >= 12 {
			long = true
			break
		}
	}
	if long {
		add("loitering_long_corridor")
	} else if len(f.Loitering) > 0 {
		add("loitering_short")
	}

	var maxConvoyH float64
	for _, e := range f.Convoys {
		switch e.ConvoyType {
		case db.ConvoyTypeFloatingStorage:
			add("floating_storage")
		case db.ConvoyTypeArcticNoIce:
			add("arctic_no_ice_class")
		default:
			if e.DurationH > maxConvoyH {
				maxConvoyH = e.DurationH
			}
		}
	}
	switch {
	case maxConvoyH >= 24:
		add("convoy_24h_plus")
	case maxConvoyH >= 8:
		add("convoy_8_24h")
	case maxConvoyH >= 4:
		add("convoy_4_8h")
	}

	if len(f.Draughts) > 0 {
		add("draught_change_unexplained")
	}

	add(frequencyTier(f, cfg))
}

// frequencyTier evaluates every applicable gap-frequency window and returns
// the single highest-valued one; tiers never sum.
func frequencyTier(f *Facts, cfg *config.Config) string {
	tiers := []struct {
		key string
		hit bool
	}{
		{"gap_frequency_3_in_7d", f.Gaps7d >= 3},
		{"gap_frequency_5_in_14d", f.Gaps14d >= 5},
		{"gap_frequency_8_in_30d", f.Gaps30d >= 8},
	}

	best, bestValue := "", 0
	for _, t := range tiers {
		if !t.hit {
			continue
		}
		section := cfg.Scoring.SectionOf(t.key)
		if section == "" {
			continue
		}
		if v, ok := cfg.Scoring.Value(section, t.key); ok && v > bestValue {
			best, bestValue = t.key, v
		}
	}
	return best
}

func addVesselSignals(f *Facts, cfg *config.Config, scoringDate time.Time, add func(string)) {
	v := f.Vessel

	if v.YearBuilt != nil {
		age := scoringDate.Year() - int(*v.YearBuilt)
		switch {
		case age > 25:
			add("vessel_age_25plus")
		case age >= 20:
			add("vessel_age_20_25")
		case age < youngVesselYears:
			add("vessel_young")
		}
	}
	if v.FlagRisk == db.FlagRiskLow {
		add("low_risk_flag")
	}
	if v.MMSIFirstSeen != nil && !v.MMSIFirstSeen.After(scoringDate.AddDate(-longHistoryYears, 0, 0)) {
		add("long_trading_history")
	}

	if cfg.PIClubs != nil && v.PIClub != nil {
		if cfg.PIClubs.IsLegitimate(*v.PIClub) {
			add("ig_pi_club_member")
		}
		if cfg.PIClubs.IsKnownFraudulent(*v.PIClub) {
			add("pi_club_fraudulent")
		}
	}
	if v.PIStatus != nil && strings.EqualFold(*v.PIStatus, "lapsed") {
		add("pi_coverage_lapsed")
	}
	if v.Deadweight != nil && v.PIClub == nil {
		add("pi_uninsured")
	}

	if cfg.Registries != nil && v.Flag != nil {
		switch cfg.Registries.Tier(*v.Flag) {
		case 0:
			add("fraudulent_registry_tier_0")
		case 1:
			add("fraudulent_registry_tier_1")
		case 2:
			add("fraudulent_registry_tier_2")
		}
	}
	if cfg.Scrapped != nil && v.IMO != nil {
		if _, scrapped := cfg.Scrapped.Lookup(*v.IMO); scrapped {
			add("scrapped_imo_reuse")
		}
	}

	if days := daysAtSea(f, scoringDate); days != nil {
		switch {
		case *days > 90:
			add("at_sea_no_port_call_90d")
		case *days > 30:
			add("at_sea_no_port_call_30d")
		}
	}
}

// daysAtSea is time since the last known port call, falling back to the
// MMSI first-seen date for vessels with no recorded call.
func daysAtSea(f *Facts, scoringDate time.Time) *float64 {
	if f.DaysSincePortCall != nil {
		return f.DaysSincePortCall
	}
	if f.Vessel.MMSIFirstSeen != nil {
		d := scoringDate.Sub(*f.Vessel.MMSIFirstSeen).Hours() / 24
		return &d
	}
	return nil
}

func addOwnershipSignals(f *Facts, add func(string)) {
	if f.OwnerClusterSanctioned {
		add("owner_cluster_sanctioned")
	}
	if f.OwnerPatterns.ShellChain {
		add("shell_chain")
	}
	if f.OwnerPatterns.CircularOwnership {
		add("circular_ownership")
	}
	if f.OwnerPatterns.SharedAddressSanctioned {
		add("shared_address_sanctioned")
	}
	if f.OwnerReshuffled {
		add("post_sanction_reshuffle")
	}
}

func corridorKey(corridorType string) string {
	switch corridorType {
	case config.CorridorExportRoute:
		return "corridor_export_route"
	case config.CorridorSTSZone:
		return "corridor_sts_zone"
	case config.CorridorDarkZone:
		return "corridor_dark_zone"
	case config.CorridorAnchorageHolding:
		return "corridor_anchorage_holding"
	}
	return ""
}

// darkZoneKey decides between selective evasion and the ambient-jamming
// deduction. With no observation at all the benefit of the doubt goes to
// jamming.
func darkZoneKey(sight *DarkZoneSight) string {
	if sight != nil && sight.OthersDark <= 2 && !sight.AllSameSource {
		return "selective_dark_zone_evasion"
	}
	return "dark_zone_deduction"
}

func sizeMultiplier(v *db.Vessel) float64 {
	if v == nil || v.Deadweight == nil {
		return 1.0
	}
	switch dwt := *v.Deadweight; {
	case dwt >= 200_000:
		return 1.3
	case dwt >= 100_000:
		return 1.2
	case dwt >= 50_000:
		return 1.1
	}
	return 1.0
}

// statelessMMSI reports an MMSI whose MID is outside the ITU country
// allocation range.
func statelessMMSI(mmsi string) bool {
	if len(mmsi) != 9 {
		return true
	}
	mid, err := strconv.Atoi(mmsi[:3])
	if err != nil {
		return true
	}
	return mid < 201 || mid > 775
}

// imoChecksumValid verifies the IMO number check digit: the first six
// digits weighted 7..2, summed, mod 10.
func imoChecksumValid(imo string) bool {
	s := strings.TrimSpace(imo)
	if len(s) != 7 {
		return false
	}
	sum := 0
	for i := 0; i < 6; i++ {
		d := int(s[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * (7 - i)
	}
	last := int(s[6] - '0')
	if last < 0 || last > 9 {
		return false
	}
	return sum%10 == last
}

func hasPrefix(signals map[string]int, prefix string) bool {
	for k := range signals {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func hasSectionSignal(signals map[string]int, cfg *config.Config, sections ...string) bool {
	for k, v := range signals {
		if v <= 0 {
			continue
		}
		section := cfg.Scoring.SectionOf(k)
		for _, s := range sections {
			if section == s {
				return true
			}
		}
	}
	return false
}

// RunStats reports one scoring pass over a window.
type RunStats struct {
	Scored            int
	FeedOutageSkipped int
}

// ScoreGaps scores every gap starting in the window except those attributed
// to feed outages, persisting the score and breakdown on each row. Scoring
// is a hard pipeline step: the first error aborts.
func ScoreGaps(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config, scoringDate time.Time) (RunStats, error) {
	stats := RunStats{}

	gaps, err := store.GapsInRange(ctx, r)
	if err != nil {
		return stats, err
	}
	for _, gap := range gaps {
		if gap.IsFeedOutage {
			stats.FeedOutageSkipped++
			continue
		}
		facts, err := GatherFacts(ctx, store, gap, cfg, scoringDate)
		if err != nil {
			return stats, fmt.Errorf("gather facts for gap %d: %w", gap.ID, err)
		}
		result := Compute(facts, cfg, scoringDate)
		if err := store.UpdateGapScore(ctx, gap.ID, result.Score, result.BreakdownJSON()); err != nil {
			return stats, fmt.Errorf("store score for gap %d: %w", gap.ID, err)
		}
		stats.Scored++
	}
	return stats, nil
}
