package detect

import (
	"context"
	"encoding/json"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	handshakeMaxDistanceNM = 1.0
	handshakeNameWindow    = time.Hour
	scoreIdentitySwap      = 35
)

// DetectIdentitySwaps finds the identity handshake: two vessels meet within
// 1 nm and their name-change histories show the names crossing over within
// an hour of the meeting. Both vessels get an anomaly.
func DetectIdentitySwaps(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "identity_swap"}
	if !cfg.Flags.DetectionEnabled(config.FeatureHandshake) {
		return stats, nil
	}

	positions, err := store.PositionsInRange(ctx, r)
	if err != nil {
		return stats, err
	}
	stats.Examined = len(positions)

	idx := buildPairIndex(positions)
	pairs := idx.matchPairs(func(a, b *db.Position) bool {
		return geo.HaversineNM(a.Lat, a.Lon, b.Lat, b.Lon) <= handshakeMaxDistanceNM
	})

	for pair, matches := range pairs {
		meeting := geo.BucketStart(matches[0].Bucket)
		swapped, detail, err := namesSwappedAround(ctx, store, pair.A, pair.B, meeting)
		if err != nil {
			return stats, err
		}
		if !swapped {
			continue
		}
		stats.Found++

		end := geo.BucketStart(matches[len(matches)-1].Bucket).Add(geo.BucketDuration)
		for _, vesselID := range []int64{pair.A, pair.B} {
			created, err := store.InsertSpoofingAnomaly(ctx, &db.SpoofingAnomaly{
				VesselID:       vesselID,
				Type:           db.SpoofIdentitySwap,
				Start:          meeting,
				End:            end,
				DetailsJSON:    &detail,
				ScoreComponent: scoreIdentitySwap,
			})
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

// namesSwappedAround checks both vessels' rename histories for a crossover
// within ±1h of the meeting: A takes B's old name while B takes A's.
func namesSwappedAround(ctx context.Context, store *db.Store, a, b int64, meeting time.Time) (bool, string, error) {
	changesA, err := renamesNear(ctx, store, a, meeting)
	if err != nil {
		return false, "", err
	}
	changesB, err := renamesNear(ctx, store, b, meeting)
	if err != nil {
		return false, "", err
	}

	for _, ca := range changesA {
		for _, cb := range changesB {
			if ca.NewName == nil || ca.OldName == nil || cb.NewName == nil || cb.OldName == nil {
				continue
			}
			if *ca.NewName == *cb.OldName && *cb.NewName == *ca.OldName {
				details, _ := json.Marshal(map[string]string{
					"name_a": *ca.OldName, "name_b": *cb.OldName,
				})
				return true, string(details), nil
			}
		}
	}
	return false, "", nil
}

func renamesNear(ctx context.Context, store *db.Store, vesselID int64, meeting time.Time) ([]*db.NameChange, error) {
	all, err := store.NameChangesForVessel(ctx, vesselID)
	if err != nil {
		return nil, err
	}
	var near []*db.NameChange
	for _, c := range all {
		d := c.Changed.Sub(meeting)
		if d < 0 {
			d = -d
		}
		if d <= handshakeNameWindow {
			near = append(near, c)
		}
	}
	return near, nil
}
