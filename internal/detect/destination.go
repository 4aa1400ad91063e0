package detect

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	destinationChurnWindow = 7 * 24 * time.Hour
	destinationChurnLimit  = 3
	destinationBearingTol  = 30.0
	scoreDestination       = 10
)

// genericDestinations are placeholder strings that hide intent. A NULL
// destination is missing data, not deception, and never matches.
var genericDestinations = map[string]bool{
	"TBA": true, "FOR ORDERS": true, "AT SEA": true, "N/A": true,
	"UNKNOWN": true, "": true, ".": true, "---": true,
}

// euLocodePrefixes are the ISO country prefixes of EU coastal states, for
// spotting a declared EU destination in a UN/LOCODE-style field.
var euLocodePrefixes = map[string]bool{
	"BE": true, "BG": true, "HR": true, "CY": true, "DK": true, "EE": true,
	"FI": true, "FR": true, "DE": true, "GR": true, "IE": true, "IT": true,
	"LV": true, "LT": true, "MT": true, "NL": true, "PL": true, "PT": true,
	"RO": true, "SI": true, "ES": true, "SE": true,
}

var euPortNames = []string{
	"ROTTERDAM", "ANTWERP", "HAMBURG", "AMSTERDAM", "PIRAEUS", "GDANSK",
	"LE HAVRE", "MARSEILLE", "TRIESTE", "AUGUSTA", "ALGECIRAS", "CONSTANTA",
}

func isGenericDestination(dest string) bool {
	return genericDestinations[strings.ToUpper(strings.TrimSpace(dest))]
}

func isEUDestination(dest string) bool {
	upper := strings.ToUpper(strings.TrimSpace(dest))
	if len(upper) == 5 && euLocodePrefixes[upper[:2]] {
		return true
	}
	for _, name := range euPortNames {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

// DetectDestinationDeviation flags destination-field deception: placeholder
// destinations, implausible destination churn, and an EU declaration while
// the course points at a known STS zone instead.
func DetectDestinationDeviation(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "destination"}
	if !cfg.Flags.DetectionEnabled(config.FeatureDestination) {
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
		stats.Examined += len(positions)

		var found []*db.SpoofingAnomaly
		found = append(found, detectGenericDestination(positions)...)
		found = append(found, detectDestinationChurn(positions)...)
		found = append(found, detectEUCoverStory(cfg, positions)...)

		for _, a := range found {
			stats.Found++
			created, err := store.InsertSpoofingAnomaly(ctx, a)
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

// detectGenericDestination groups consecutive placeholder-destination
// reports into one anomaly per episode.
func detectGenericDestination(positions []*db.Position) []*db.SpoofingAnomaly {
	return destinationEpisodes(positions, "generic_destination", func(p *db.Position) bool {
		return p.Destination != nil && isGenericDestination(*p.Destination)
	})
}

// detectDestinationChurn flags more than 3 distinct declared destinations
// inside any 7-day window.
func detectDestinationChurn(positions []*db.Position) []*db.SpoofingAnomaly {
	type decl struct {
		ts   time.Time
		dest string
	}
	var decls []decl
	for _, p := range positions {
		if p.Destination == nil || isGenericDestination(*p.Destination) {
			continue
		}
		d := strings.ToUpper(strings.TrimSpace(*p.Destination))
		if len(decls) == 0 || decls[len(decls)-1].dest != d {
			decls = append(decls, decl{p.Timestamp, d})
		}
	}

	for i := range decls {
		distinct := map[string]bool{}
		var last time.Time
		for j := i; j < len(decls) && decls[j].ts.Sub(decls[i].ts) <= destinationChurnWindow; j++ {
			distinct[decls[j].dest] = true
			last = decls[j].ts
		}
		if len(distinct) <= destinationChurnLimit {
			continue
		}
		names := make([]string, 0, len(distinct))
		for d := range distinct {
			names = append(names, d)
		}
		details, _ := json.Marshal(map[string]any{"kind": "destination_churn", "destinations": names})
		detailsJSON := string(details)
		return []*db.SpoofingAnomaly{{
			VesselID:       positions[0].VesselID,
			Type:           db.SpoofDestinationDeviation,
			Start:          decls[i].ts,
			End:            last,
			DetailsJSON:    &detailsJSON,
			ScoreComponent: scoreDestination,
		}}
	}
	return nil
}

// detectEUCoverStory flags a declared EU destination while the course over
// ground points within 30° of the bearing to an STS zone.
func detectEUCoverStory(cfg *config.Config, positions []*db.Position) []*db.SpoofingAnomaly {
	var stsZones []*config.Corridor
	for i := range cfg.Corridors.Corridors {
		c := &cfg.Corridors.Corridors[i]
		if c.CorridorType == config.CorridorSTSZone {
			stsZones = append(stsZones, c)
		}
	}
	if len(stsZones) == 0 {
		return nil
	}

	return destinationEpisodes(positions, "eu_cover_story", func(p *db.Position) bool {
		if p.Destination == nil || p.COG == nil || !isEUDestination(*p.Destination) {
			return false
		}
		for _, zone := range stsZones {
			center := zone.Polygon.BBox
			bearing := geo.InitialBearing(p.Lat, p.Lon,
				(center.MinLat+center.MaxLat)/2, (center.MinLon+center.MaxLon)/2)
			if geo.HeadingDelta(*p.COG, bearing) <= destinationBearingTol {
				return true
			}
		}
		return false
	})
}

func destinationEpisodes(positions []*db.Position, kind string, match func(*db.Position) bool) []*db.SpoofingAnomaly {
	var out []*db.SpoofingAnomaly
	runStart := -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		details, _ := json.Marshal(map[string]string{"kind": kind})
		detailsJSON := string(details)
		out = append(out, &db.SpoofingAnomaly{
			VesselID:       positions[runStart].VesselID,
			Type:           db.SpoofDestinationDeviation,
			Start:          positions[runStart].Timestamp,
			End:            positions[end].Timestamp,
			DetailsJSON:    &detailsJSON,
			ScoreComponent: scoreDestination,
		})
		runStart = -1
	}
	for i, p := range positions {
		if match(p) {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i - 1)
	}
	flush(len(positions) - 1)
	return out
}
