package detect

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	stsMaxDistanceNM   = 1.0
	stsMaxSOG          = 3.0
	stsMaxHeadingDelta = 30.0
	stsMinRunBuckets   = 3

	darkClusterMaxNM  = 2.0
	darkClusterMaxAge = 2 * time.Hour

	scoreSTS = 25
)

// DetectSTS finds ship-to-ship transfer pairings: two tracks co-located
// under 1 nm at drifting speed across at least 3 consecutive 15-minute
// buckets. Dark (SAR) contacts join the index as pseudo-tracks when the
// dark-STS feature is on; a vessel pairing with one is recorded as a
// self-referential visible_dark event, and two dark contacts pairing raise
// a fleet alert since neither side has a vessel row to hang the event on.
func DetectSTS(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "sts"}
	if !cfg.Flags.DetectionEnabled(config.FeatureSTS) {
		return stats, nil
	}

	positions, err := store.PositionsInRange(ctx, r)
	if err != nil {
		return stats, err
	}
	stats.Examined = len(positions)

	var darkMembers map[int64][]int64
	if cfg.Flags.DetectionEnabled(config.FeatureDarkSTS) {
		darks, err := store.DarkDetectionsInRange(ctx, r)
		if err != nil {
			return stats, err
		}
		var pseudo []*db.Position
		pseudo, darkMembers = clusterDarkDetections(darks)
		positions = append(positions, pseudo...)
	}

	idx := buildPairIndex(positions)
	pairs := idx.matchPairs(func(a, b *db.Position) bool {
		if sogOrZero(a) >= stsMaxSOG || sogOrZero(b) >= stsMaxSOG {
			return false
		}
		if !headingsCompatible(a, b, stsMaxHeadingDelta) {
			return false
		}
		return geo.HaversineNM(a.Lat, a.Lon, b.Lat, b.Lon) < stsMaxDistanceNM
	})

	for pair, matches := range pairs {
		for _, run := range consecutiveRuns(matches, stsMinRunBuckets) {
			stats.Found++
			created, err := recordSTSRun(ctx, store, pair, run, darkMembers)
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

// clusterDarkDetections greedily chains SAR contacts into pseudo-tracks:
// successive detections within 2 nm and 2 hours of a track's latest point
// continue that track. Each track enters the pair index under a negative
// pseudo vessel ID; the returned map gives the member detection IDs per
// pseudo ID.
func clusterDarkDetections(darks []*db.DarkDetection) ([]*db.Position, map[int64][]int64) {
	sort.Slice(darks, func(i, j int) bool { return darks[i].Timestamp.Before(darks[j].Timestamp) })

	type track struct {
		pseudoID int64
		last     *db.DarkDetection
	}
	var tracks []*track
	members := map[int64][]int64{}
	var positions []*db.Position

	for _, d := range darks {
		var home *track
		for _, tr := range tracks {
			if d.Timestamp.Sub(tr.last.Timestamp) > darkClusterMaxAge {
				continue
			}
			if geo.HaversineNM(d.Lat, d.Lon, tr.last.Lat, tr.last.Lon) <= darkClusterMaxNM {
				home = tr
				break
			}
		}
		if home == nil {
			home = &track{pseudoID: -int64(len(tracks) + 1)}
			tracks = append(tracks, home)
		}
		home.last = d
		members[home.pseudoID] = append(members[home.pseudoID], d.ID)
		positions = append(positions, &db.Position{
			VesselID:  home.pseudoID,
			Timestamp: d.Timestamp,
			Lat:       d.Lat,
			Lon:       d.Lon,
		})
	}
	return positions, members
}

func recordSTSRun(ctx context.Context, store *db.Store, pair vesselPair, run []pairMatch, darkMembers map[int64][]int64) (bool, error) {
	var latSum, lonSum float64
	for _, m := range run {
		latSum += (m.PosA.Lat + m.PosB.Lat) / 2
		lonSum += (m.PosA.Lon + m.PosB.Lon) / 2
	}
	meanLat := latSum / float64(len(run))
	meanLon := lonSum / float64(len(run))
	start := geo.BucketStart(run[0].Bucket)
	end := geo.BucketStart(run[len(run)-1].Bucket).Add(geo.BucketDuration)

	darkA, darkB := pair.A < 0, pair.B < 0
	switch {
	case darkA && darkB:
		ids, _ := json.Marshal(append(append([]int64{}, darkMembers[pair.A]...), darkMembers[pair.B]...))
		details, _ := json.Marshal(map[string]any{
			"mean_lat": meanLat, "mean_lon": meanLon,
			"start": start.Format("2006-01-02T15:04:05Z"),
		})
		detailsJSON := string(details)
		return true, store.InsertFleetAlert(ctx, "dark_dark_sts", string(ids), &detailsJSON)
	case darkA || darkB:
		visible := pair.B
		if darkB {
			visible = pair.A
		}
		return store.InsertSTSEvent(ctx, &db.STSEvent{
			Vessel1ID:      visible,
			Vessel2ID:      visible,
			Start:          start,
			End:            end,
			MeanLat:        meanLat,
			MeanLon:        meanLon,
			DetectionType:  db.STSVisibleDark,
			ScoreComponent: scoreSTS,
		})
	default:
		return store.InsertSTSEvent(ctx, &db.STSEvent{
			Vessel1ID:      pair.A,
			Vessel2ID:      pair.B,
			Start:          start,
			End:            end,
			MeanLat:        meanLat,
			MeanLon:        meanLon,
			DetectionType:  db.STSVisibleVisible,
			ScoreComponent: scoreSTS,
		})
	}
}
