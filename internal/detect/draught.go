package detect

import (
	"context"
	"math"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	draughtWindow        = 24 * time.Hour
	portSuppressNM       = 10.0
	terminalSuppressNM   = 25.0
	draughtSTSWindow     = 12 * time.Hour
	scoreDraughtLarge    = 25
	scoreDraughtOffshore = 20
	scoreDraughtNearSTS  = 15
	scoreDraughtGap      = 20
)

// draughtThreshold picks the minimum significant draught change for the
// vessel's size class. A VLCC's draught moves metres between laden and
// ballast; a small tanker's barely one.
func draughtThreshold(deadweight *float64) float64 {
	if deadweight == nil {
		return 1.0
	}
	switch dwt := *deadweight; {
	case dwt >= 180000:
		return 3.0 // VLCC
	case dwt >= 120000:
		return 2.0 // Suezmax
	case dwt >= 80000:
		return 1.5 // Aframax
	case dwt >= 50000:
		return 1.0 // Panamax
	default:
		return 1.0
	}
}

// DetectDraughtChanges walks each vessel's draught readings inside a
// 24-hour sliding window and records changes that exceed the class
// threshold and are confirmed by a subsequent reading. Changes near a port
// are routine loading and suppressed.
func DetectDraughtChanges(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "draught"}
	if !cfg.Flags.DetectionEnabled(config.FeatureDraught) {
		return stats, nil
	}

	ports, err := store.AllPorts(ctx)
	if err != nil {
		return stats, err
	}
	vessels, err := store.VesselsWithPositions(ctx, r)
	if err != nil {
		return stats, err
	}

	for _, vesselID := range vessels {
		v, err := store.VesselByID(ctx, vesselID)
		if err != nil {
			return stats, err
		}
		threshold := draughtThreshold(v.Deadweight)

		positions, err := store.PositionsForVessel(ctx, vesselID, r)
		if err != nil {
			return stats, err
		}
		var readings []*db.Position
		for _, p := range positions {
			if p.Draught != nil {
				readings = append(readings, p)
			}
		}
		stats.Examined += len(readings)

		for i := 1; i < len(readings); i++ {
			prev, cur := readings[i-1], readings[i]
			if cur.Timestamp.Sub(prev.Timestamp) > draughtWindow {
				continue
			}
			delta := math.Abs(*cur.Draught - *prev.Draught)
			if delta < threshold {
				continue
			}
			if !confirmedDraught(readings[i+1:], *cur.Draught, threshold/2) {
				continue
			}
			if suppressNearPort(ports, cur.Lat, cur.Lon) {
				continue
			}
			stats.Found++

			event, err := buildDraughtEvent(ctx, store, ports, prev, cur, delta, threshold)
			if err != nil {
				return stats, err
			}
			created, err := store.InsertDraughtChange(ctx, event)
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

// confirmedDraught requires a later reading to stay within tol of the new
// value, rejecting one-off sensor noise.
func confirmedDraught(later []*db.Position, newValue, tol float64) bool {
	for _, p := range later {
		return math.Abs(*p.Draught-newValue) <= tol
	}
	return false
}

func suppressNearPort(ports []*db.Port, lat, lon float64) bool {
	for _, port := range ports {
		if port.Lat == nil || port.Lon == nil {
			continue
		}
		dist := geo.HaversineNM(lat, lon, *port.Lat, *port.Lon)
		if dist <= portSuppressNM {
			return true
		}
		if port.IsOffshoreTerminal && dist <= terminalSuppressNM {
			return true
		}
	}
	return false
}

func buildDraughtEvent(ctx context.Context, store *db.Store, ports []*db.Port, prev, cur *db.Position, delta, threshold float64) (*db.DraughtChangeEvent, error) {
	e := &db.DraughtChangeEvent{
		VesselID:       cur.VesselID,
		ChangeTime:     cur.Timestamp,
		Before:         *prev.Draught,
		After:          *cur.Draught,
		Delta:          delta,
		ClassThreshold: threshold,
		Offshore:       offshorePosition(ports, cur.Lat, cur.Lon),
	}

	sts, err := store.STSForVessel(ctx, cur.VesselID, db.DateRange{
		From: cur.Timestamp.Add(-draughtSTSWindow),
		To:   cur.Timestamp.Add(draughtSTSWindow),
	})
	if err != nil {
		return nil, err
	}
	e.NearSTS = len(sts) > 0

	gaps, err := store.GapsForVessel(ctx, cur.VesselID, db.DateRange{
		From: prev.Timestamp, To: cur.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	e.StraddlesGap = len(gaps) > 0

	if delta >= 2*threshold {
		e.ScoreComponent += scoreDraughtLarge
	}
	if e.Offshore {
		e.ScoreComponent += scoreDraughtOffshore
	}
	if e.NearSTS {
		e.ScoreComponent += scoreDraughtNearSTS
	}
	if e.StraddlesGap {
		e.ScoreComponent += scoreDraughtGap
	}
	return e, nil
}

// offshorePosition reports whether the point is beyond terminal range of
// every known port.
func offshorePosition(ports []*db.Port, lat, lon float64) bool {
	for _, port := range ports {
		if port.Lat == nil || port.Lon == nil {
			continue
		}
		if geo.HaversineNM(lat, lon, *port.Lat, *port.Lon) <= terminalSuppressNM {
			return false
		}
	}
	return true
}
