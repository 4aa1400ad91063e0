package detect

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

const (
	loiterMaxSOG     = 0.5
	loiterMinBuckets = 4
	loiterLongHours  = 12.0
	loiterGapWindow  = 24 * time.Hour
	scoreLoiterLong  = 20
	scoreLoiterShort = 8

	laidUpStableNM = 2.0
	laidUpDays30   = 30
	laidUpDays60   = 60
)

// DetectLoitering finds low-speed dwells: runs of at least 4 consecutive
// hourly buckets whose median SOG is below 0.5 kn (or unknown). Dwells are
// linked to any gap ending shortly before or starting shortly after, since
// a dark rendezvous usually shows as gap-loiter-gap.
func DetectLoitering(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "loitering"}
	if !cfg.Flags.DetectionEnabled(config.FeatureLoitering) {
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

		for _, run := range lowSOGRuns(positions) {
			stats.Found++
			created, err := recordLoiter(ctx, store, cfg, vesselID, run)
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

// hourRun is a contiguous run of low-SOG hourly buckets.
type hourRun struct {
	positions []*db.Position
	start     time.Time
	end       time.Time
}

func lowSOGRuns(positions []*db.Position) []hourRun {
	type bucket struct {
		hour      int64
		positions []*db.Position
		sogs      []float64
	}
	var buckets []*bucket
	for _, p := range positions {
		h := p.Timestamp.Unix() / 3600
		if len(buckets) == 0 || buckets[len(buckets)-1].hour != h {
			buckets = append(buckets, &bucket{hour: h})
		}
		b := buckets[len(buckets)-1]
		b.positions = append(b.positions, p)
		if p.SOG != nil {
			b.sogs = append(b.sogs, *p.SOG)
		}
	}

	low := func(b *bucket) bool {
		m := median(b.sogs)
		return math.IsNaN(m) || m < loiterMaxSOG
	}

	var runs []hourRun
	start := 0
	flush := func(end int) {
		if end-start+1 < loiterMinBuckets {
			return
		}
		run := hourRun{
			start: time.Unix(buckets[start].hour*3600, 0).UTC(),
			end:   time.Unix((buckets[end].hour+1)*3600, 0).UTC(),
		}
		for _, b := range buckets[start : end+1] {
			run.positions = append(run.positions, b.positions...)
		}
		runs = append(runs, run)
	}
	for i := 0; i < len(buckets); i++ {
		if low(buckets[i]) && (i == start || buckets[i].hour == buckets[i-1].hour+1) {
			continue
		}
		if !low(buckets[i]) {
			flush(i - 1)
			start = i + 1
			continue
		}
		// Low bucket after an hour hole starts a fresh run.
		flush(i - 1)
		start = i
	}
	flush(len(buckets) - 1)
	return runs
}

func recordLoiter(ctx context.Context, store *db.Store, cfg *config.Config, vesselID int64, run hourRun) (bool, error) {
	var latSum, lonSum float64
	var sogs []float64
	for _, p := range run.positions {
		latSum += p.Lat
		lonSum += p.Lon
		if p.SOG != nil {
			sogs = append(sogs, *p.SOG)
		}
	}
	n := float64(len(run.positions))
	meanLat, meanLon := latSum/n, lonSum/n
	medSOG := median(sogs)
	if math.IsNaN(medSOG) {
		medSOG = 0
	}

	e := &db.LoiteringEvent{
		VesselID:  vesselID,
		Start:     run.start,
		End:       run.end,
		MedianSOG: medSOG,
		MeanLat:   meanLat,
		MeanLon:   meanLon,
	}

	corridor := corridorAt(cfg, meanLat, meanLon)
	if corridor != nil {
		e.CorridorName = &corridor.Name
	}
	if run.end.Sub(run.start).Hours() >= loiterLongHours && corridor != nil {
		e.ScoreComponent = scoreLoiterLong
	} else {
		e.ScoreComponent = scoreLoiterShort
	}

	if g, err := store.GapEndingBefore(ctx, vesselID, run.start, loiterGapWindow); err == nil {
		e.PrecedingGapID = &g.ID
	} else if !errors.Is(err, db.ErrNotFound) {
		return false, err
	}
	if g, err := store.GapStartingAfter(ctx, vesselID, run.end, loiterGapWindow); err == nil {
		e.FollowingGapID = &g.ID
	} else if !errors.Is(err, db.ErrNotFound) {
		return false, err
	}

	return store.InsertLoiteringEvent(ctx, e)
}

// DetectLaidUp examines each vessel's full history of daily median positions
// and sets the laid-up flags for stable dwells of 30 and 60 days. A laid-up
// position inside an STS corridor is its own flag: long-term stationing in
// a transfer zone reads very differently from lay-up at a scrapyard.
func DetectLaidUp(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (Stats, error) {
	stats := Stats{Detector: "laid_up"}
	if !cfg.Flags.DetectionEnabled(config.FeatureLoitering) {
		return stats, nil
	}

	vessels, err := store.AllVesselIDs(ctx)
	if err != nil {
		return stats, err
	}

	history := db.DateRange{From: time.Unix(0, 0).UTC(), To: r.To}
	for _, vesselID := range vessels {
		stats.Examined++
		positions, err := store.PositionsForVessel(ctx, vesselID, history)
		if err != nil {
			return stats, err
		}
		d30, d60, inSTS := laidUpRun(cfg, positions)
		if !d30 {
			continue
		}
		stats.Found++
		if err := store.SetLaidUpFlags(ctx, vesselID, d30, d60, inSTS); err != nil {
			return stats, err
		}
		stats.Created++
	}
	return stats, nil
}

func laidUpRun(cfg *config.Config, positions []*db.Position) (d30, d60, inSTS bool) {
	type day struct {
		lat, lon float64
	}
	var days []day
	var lats, lons []float64
	var current time.Time
	flushDay := func() {
		if len(lats) == 0 {
			return
		}
		days = append(days, day{median(lats), median(lons)})
		lats, lons = nil, nil
	}
	for _, p := range positions {
		d := geo.DayBucket(p.Timestamp)
		if !d.Equal(current) {
			flushDay()
			current = d
		}
		lats = append(lats, p.Lat)
		lons = append(lons, p.Lon)
	}
	flushDay()

	runLen := 0
	var anchor day
	for _, d := range days {
		if runLen == 0 || geo.HaversineNM(anchor.lat, anchor.lon, d.lat, d.lon) > laidUpStableNM {
			runLen = 1
			anchor = d
			continue
		}
		runLen++
		if runLen >= laidUpDays30 {
			d30 = true
			if c := corridorAt(cfg, anchor.lat, anchor.lon); c != nil && c.CorridorType == config.CorridorSTSZone {
				inSTS = true
			}
		}
		if runLen >= laidUpDays60 {
			d60 = true
		}
	}
	return d30, d60, inSTS
}
