package detect

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	naturalnessWindow  = 48 * time.Hour
	naturalnessMinPos  = 20
	naturalnessMinHits = 3
)

// Natural bounds for the five track features. A genuine track is neither
// perfectly smooth nor statistically wild; fabricated ones usually are.
const (
	naturalResidualMeanLo = 0.005
	naturalResidualMeanHi = 2.0
	naturalResidualStdLo  = 0.005
	naturalResidualStdHi  = 3.0
	naturalAutocorrAbs    = 0.5
	naturalEntropyMin     = 1.5
	naturalKurtosisLo     = -1.5
	naturalKurtosisHi     = 10.0
)

func naturalnessScore(hits int) int {
	switch hits {
	case 5:
		return 45
	case 4:
		return 35
	default:
		return 25
	}
}

// trackFeatures are the five statistics of the Kalman innovation residuals.
type trackFeatures struct {
	ResidualMean   float64 `json:"residual_mean_nm"`
	ResidualStdev  float64 `json:"residual_stdev_nm"`
	SpeedAutocorr  float64 `json:"speed_change_autocorr"`
	HeadingEntropy float64 `json:"heading_change_entropy"`
	CourseKurtosis float64 `json:"course_change_kurtosis"`
	UnnaturalCount int     `json:"unnatural_count"`
}

// DetectSyntheticTracks runs a lightweight constant-velocity filter over
// each vessel's last 48 hours and tests five innovation statistics against
// natural bounds. Three or more failures flag the track as synthetic, with
// the tier set by how many features fail.
func DetectSyntheticTracks(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "track_naturalness"}
	if !cfg.Flags.DetectionEnabled(config.FeatureTrackNaturalness) {
		return stats, nil
	}

	window := db.DateRange{From: r.To.Add(-naturalnessWindow), To: r.To}
	vessels, err := store.VesselsWithPositions(ctx, window)
	if err != nil {
		return stats, err
	}

	for _, vesselID := range vessels {
		stats.Examined++
		positions, err := store.PositionsForVessel(ctx, vesselID, window)
		if err != nil {
			return stats, err
		}
		if len(positions) < naturalnessMinPos {
			continue
		}

		features := computeTrackFeatures(positions)
		if features.UnnaturalCount < naturalnessMinHits {
			continue
		}
		stats.Found++

		details, _ := json.Marshal(features)
		detailsJSON := string(details)
		created, err := store.InsertSpoofingAnomaly(ctx, &db.SpoofingAnomaly{
			VesselID:       vesselID,
			Type:           db.SpoofSyntheticTrack,
			Start:          positions[0].Timestamp,
			End:            positions[len(positions)-1].Timestamp,
			DetailsJSON:    &detailsJSON,
			ScoreComponent: naturalnessScore(features.UnnaturalCount),
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

func computeTrackFeatures(positions []*db.Position) trackFeatures {
	residuals := kalmanResiduals(positions)

	var f trackFeatures
	absRes := make([]float64, len(residuals))
	for i, r := range residuals {
		absRes[i] = math.Abs(r)
	}
	f.ResidualMean = mean(absRes)
	f.ResidualStdev = stddev(residuals)
	f.SpeedAutocorr = speedChangeAutocorr(positions)
	f.HeadingEntropy = headingChangeEntropy(positions)
	f.CourseKurtosis = courseChangeKurtosis(positions)

	if f.ResidualMean < naturalResidualMeanLo || f.ResidualMean > naturalResidualMeanHi {
		f.UnnaturalCount++
	}
	if f.ResidualStdev < naturalResidualStdLo || f.ResidualStdev > naturalResidualStdHi {
		f.UnnaturalCount++
	}
	if math.Abs(f.SpeedAutocorr) > naturalAutocorrAbs {
		f.UnnaturalCount++
	}
	if f.HeadingEntropy < naturalEntropyMin {
		f.UnnaturalCount++
	}
	if f.CourseKurtosis < naturalKurtosisLo || f.CourseKurtosis > naturalKurtosisHi {
		f.UnnaturalCount++
	}
	return f
}

// kalmanResiduals runs a fixed-gain constant-velocity filter per axis and
// returns the innovation (predicted-to-observed distance, nm) at each step.
func kalmanResiduals(positions []*db.Position) []float64 {
	const gainPos, gainVel = 0.5, 0.3

	lat, lon := positions[0].Lat, positions[0].Lon
	var vLat, vLon float64 // degrees per hour
	prev := positions[0].Timestamp

	residuals := make([]float64, 0, len(positions)-1)
	for _, p := range positions[1:] {
		dtH := p.Timestamp.Sub(prev).Hours()
		if dtH <= 0 {
			continue
		}
		predLat := lat + vLat*dtH
		predLon := lon + vLon*dtH
		residuals = append(residuals, geo.HaversineNM(predLat, predLon, p.Lat, p.Lon))

		innovLat := p.Lat - predLat
		innovLon := p.Lon - predLon
		lat = predLat + gainPos*innovLat
		lon = predLon + gainPos*innovLon
		vLat += gainVel * innovLat / dtH
		vLon += gainVel * innovLon / dtH
		prev = p.Timestamp
	}
	return residuals
}

func speedChangeAutocorr(positions []*db.Position) float64 {
	var speeds []float64
	for _, p := range positions {
		if p.SOG != nil {
			speeds = append(speeds, *p.SOG)
		}
	}
	if len(speeds) < 3 {
		return 0
	}
	changes := make([]float64, len(speeds)-1)
	for i := 1; i < len(speeds); i++ {
		changes[i-1] = speeds[i] - speeds[i-1]
	}
	if len(changes) < 2 {
		return 0
	}
	c := stat.Correlation(changes[:len(changes)-1], changes[1:], nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// headingChangeEntropy is the Shannon entropy of heading deltas over 36
// ten-degree bins. A scripted track revisits the same few bins.
func headingChangeEntropy(positions []*db.Position) float64 {
	var bins [36]int
	total := 0
	var prev *float64
	for _, p := range positions {
		if p.Heading == nil {
			continue
		}
		if prev != nil {
			delta := geo.HeadingDelta(*prev, *p.Heading)
			bin := int(delta / 10)
			if bin > 17 {
				bin = 17
			}
			// Signed direction doubles the resolution across the 36 bins.
			if *p.Heading < *prev {
				bin += 18
			}
			bins[bin]++
			total++
		}
		prev = p.Heading
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, n := range bins {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func courseChangeKurtosis(positions []*db.Position) float64 {
	var changes []float64
	var prev *float64
	for _, p := range positions {
		if p.COG == nil {
			continue
		}
		if prev != nil {
			changes = append(changes, geo.HeadingDelta(*prev, *p.COG))
		}
		prev = p.COG
	}
	if len(changes) < 4 {
		return 0
	}
	k := stat.ExKurtosis(changes, nil)
	if math.IsNaN(k) {
		return 0
	}
	return k
}
