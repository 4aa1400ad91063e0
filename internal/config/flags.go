package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Detector / scoring-section feature names. Each has a
// <NAME>_DETECTION_ENABLED and a <NAME>_SCORING_ENABLED environment flag so
// a detector can run in shadow mode (events recorded, score untouched).
const (
	FeatureGap                = "GAP"
	FeatureSpoofing           = "SPOOFING"
	FeatureSTS                = "STS"
	FeatureLoitering          = "LOITERING"
	FeatureConvoy             = "CONVOY"
	FeatureDraught            = "DRAUGHT"
	FeatureMMSICloning        = "MMSI_CLONING"
	FeatureStaleAIS           = "STALE_AIS"
	FeatureAtSea              = "AT_SEA"
	FeatureRenameVelocity     = "RENAME_VELOCITY"
	FeatureFlagHopping        = "FLAG_HOPPING"
	FeatureIMOFraud           = "IMO_FRAUD"
	FeatureStatelessMMSI      = "STATELESS_MMSI"
	FeatureFeedOutage         = "FEED_OUTAGE"
	FeatureISMContinuity      = "ISM_CONTINUITY"
	FeaturePIValidation       = "PI_VALIDATION"
	FeatureFraudRegistry      = "FRAUDULENT_REGISTRY"
	FeatureCrossReceiver      = "CROSS_RECEIVER"
	FeatureHandshake          = "HANDSHAKE"
	FeatureFakePosition       = "FAKE_POSITION"
	FeatureScrappedRegistry   = "SCRAPPED_REGISTRY"
	FeatureTrackReplay        = "TRACK_REPLAY"
	FeatureTrackNaturalness   = "TRACK_NATURALNESS"
	FeatureFingerprint        = "FINGERPRINT"
	FeatureSARCorrelation     = "SAR_CORRELATION"
	FeatureWeather            = "WEATHER"
	FeatureDarkSTS            = "DARK_STS"
	FeatureCargoInference     = "CARGO_INFERENCE"
	FeatureDestination        = "DESTINATION"
	FeatureIdentityResolution = "IDENTITY_RESOLUTION"
	FeatureOwnershipGraph     = "OWNERSHIP_GRAPH"
)

// experimentalFeatures default to disabled until validated on live traffic.
var experimentalFeatures = map[string]bool{
	FeatureTrackNaturalness: true,
	FeatureFingerprint:      true,
	FeatureSARCorrelation:   true,
	FeatureWeather:          true,
	FeatureDarkSTS:          true,
	FeatureCargoInference:   true,
	FeatureDestination:      true,
}

// Flags resolves the feature-flag surface from the environment. Values are
// captured once at load; a reload builds a fresh Flags.
type Flags struct {
	values map[string]bool
}

// LoadFlags reads the flag surface from the environment. A .env file in the
// working directory is honoured when present (godotenv never overrides
// variables already set in the environment).
func LoadFlags() *Flags {
	_ = godotenv.Load()

	f := &Flags{values: map[string]bool{}}
	for _, name := range allFeatures() {
		for _, kind := range []string{"DETECTION", "SCORING"} {
			key := name + "_" + kind + "_ENABLED"
			f.values[key] = resolveFlag(key, !experimentalFeatures[name])
		}
	}
	return f
}

func allFeatures() []string {
	return []string{
		FeatureGap, FeatureSpoofing, FeatureSTS, FeatureLoitering,
		FeatureConvoy, FeatureDraught, FeatureMMSICloning, FeatureStaleAIS,
		FeatureAtSea, FeatureRenameVelocity, FeatureFlagHopping,
		FeatureIMOFraud, FeatureStatelessMMSI, FeatureFeedOutage,
		FeatureISMContinuity, FeaturePIValidation, FeatureFraudRegistry,
		FeatureCrossReceiver, FeatureHandshake, FeatureFakePosition,
		FeatureScrappedRegistry, FeatureTrackReplay, FeatureTrackNaturalness,
		FeatureFingerprint, FeatureSARCorrelation, FeatureWeather,
		FeatureDarkSTS, FeatureCargoInference, FeatureDestination,
		FeatureIdentityResolution, FeatureOwnershipGraph,
	}
}

func resolveFlag(key string, def bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// DetectionEnabled reports whether a detector may run.
func (f *Flags) DetectionEnabled(feature string) bool {
	return f.values[feature+"_DETECTION_ENABLED"]
}

// ScoringEnabled reports whether a scoring section may contribute points.
func (f *Flags) ScoringEnabled(feature string) bool {
	return f.values[feature+"_SCORING_ENABLED"]
}

// NewFlagsForTest builds a Flags with explicit overrides on top of the
// defaults. Test-only seam.
func NewFlagsForTest(overrides map[string]bool) *Flags {
	f := &Flags{values: map[string]bool{}}
	for _, name := range allFeatures() {
		def := !experimentalFeatures[name]
		f.values[name+"_DETECTION_ENABLED"] = def
		f.values[name+"_SCORING_ENABLED"] = def
	}
	for k, v := range overrides {
		f.values[k] = v
	}
	return f
}
