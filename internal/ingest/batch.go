package ingest

import (
	"context"
	"fmt"

	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/metrics"
	"github.com/radiance-data/radiancefleet/internal/monitoring"
	"github.com/radiance-data/radiancefleet/internal/timeutil"
)

// Record is one normalized-input position report. MMSI and TimestampRaw are
// validated during ingest; everything else passes through.
type Record struct {
	MMSI         string
	TimestampRaw string
	Lat          float64
	Lon          float64
	SOG          *float64
	COG          *float64
	Heading      *float64
	NavStatus    *int64
	Draught      *float64
	Destination  *string
	AISClass     *string
	Source       *string
}

// StaticRecord is one static-data update.
type StaticRecord struct {
	MMSI       string
	Name       *string
	Callsign   *string
	IMO        *string
	VesselType *string
	LengthM    *float64
	WidthM     *float64
}

// BatchStats reports what one batch did.
type BatchStats struct {
	Stored            int
	VesselsUpdated    int
	DuplicatesSkipped int
	Errors            int
}

func (s *BatchStats) add(o BatchStats) {
	s.Stored += o.Stored
	s.VesselsUpdated += o.VesselsUpdated
	s.DuplicatesSkipped += o.DuplicatesSkipped
	s.Errors += o.Errors
}

// Ingestor writes normalized records into the store.
type Ingestor struct {
	Store *db.Store
	Clock timeutil.Clock
}

// NewIngestor creates an Ingestor with a real clock.
func NewIngestor(store *db.Store) *Ingestor {
	return &Ingestor{Store: store, Clock: timeutil.RealClock{}}
}

// IngestBatch writes a batch of position records in one transaction. A row
// that fails validation or insert increments Errors and the batch continues;
// only transaction-level failures abort.
func (ing *Ingestor) IngestBatch(ctx context.Context, records []Record) (BatchStats, error) {
	var stats BatchStats
	if len(records) == 0 {
		return stats, nil
	}

	tx, err := ing.Store.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	now := ing.Clock.Now().UTC()
	for _, rec := range records {
		mmsi, err := NormalizeMMSI(rec.MMSI)
		if err != nil {
			stats.Errors++
			metrics.RecordsRejected.WithLabelValues(metrics.ReasonBadMMSI).Inc()
			continue
		}
		if err := ValidateLatLon(rec.Lat, rec.Lon); err != nil {
			stats.Errors++
			metrics.RecordsRejected.WithLabelValues(metrics.ReasonBadLatLon).Inc()
			continue
		}
		ts, err := ParseTimestamp(rec.TimestampRaw, now)
		if err != nil {
			stats.Errors++
			metrics.RecordsRejected.WithLabelValues(metrics.ReasonBadTimestamp).Inc()
			continue
		}
		heading := rec.Heading
		if heading != nil {
			heading = NormalizeHeading(*heading)
		}

		flag, risk := FlagFromMMSI(mmsi)
		nv := db.NewVessel{MMSI: mmsi, FlagRisk: risk, FirstSeen: now}
		if flag != "" {
			nv.Flag = &flag
		}
		v, err := db.UpsertVessel(ctx, tx, nv)
		if err != nil {
			monitoring.Logf("ingest: upsert vessel %s: %v", mmsi, err)
			stats.Errors++
			metrics.RecordsRejected.WithLabelValues(metrics.ReasonDBError).Inc()
			continue
		}

		stored, err := db.InsertPosition(ctx, tx, &db.Position{
			VesselID:    v.ID,
			Timestamp:   ts,
			Lat:         rec.Lat,
			Lon:         rec.Lon,
			SOG:         rec.SOG,
			COG:         rec.COG,
			Heading:     heading,
			NavStatus:   rec.NavStatus,
			Draught:     rec.Draught,
			Destination: rec.Destination,
			AISClass:    rec.AISClass,
			Source:      rec.Source,
		})
		if err != nil {
			monitoring.Logf("ingest: insert position %s@%s: %v", mmsi, ts, err)
			stats.Errors++
			metrics.RecordsRejected.WithLabelValues(metrics.ReasonDBError).Inc()
			continue
		}
		if stored {
			stats.Stored++
		} else {
			stats.DuplicatesSkipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit batch: %w", err)
	}
	metrics.BatchesCommitted.Inc()
	metrics.PositionsStored.Add(float64(stats.Stored))
	metrics.DuplicatesSkipped.Add(float64(stats.DuplicatesSkipped))
	return stats, nil
}

// IngestStatic applies a batch of static-data updates in one transaction.
// Rename and reflag history rows are appended when the stored values change.
func (ing *Ingestor) IngestStatic(ctx context.Context, records []StaticRecord) (BatchStats, error) {
	var stats BatchStats
	if len(records) == 0 {
		return stats, nil
	}

	tx, err := ing.Store.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin static batch: %w", err)
	}
	defer tx.Rollback()

	now := ing.Clock.Now().UTC()
	for _, rec := range records {
		mmsi, err := NormalizeMMSI(rec.MMSI)
		if err != nil {
			stats.Errors++
			continue
		}

		flag, risk := FlagFromMMSI(mmsi)
		nv := db.NewVessel{MMSI: mmsi, FlagRisk: risk, FirstSeen: now}
		if flag != "" {
			nv.Flag = &flag
		}
		v, err := db.UpsertVessel(ctx, tx, nv)
		if err != nil {
			stats.Errors++
			continue
		}

		if rec.Name != nil && (v.Name == nil || *v.Name != *rec.Name) {
			if err := db.RecordNameChange(ctx, tx, v.ID, v.Name, rec.Name, now); err != nil {
				stats.Errors++
				continue
			}
		}

		if err := ing.Store.UpdateVesselStatic(ctx, tx, v.ID,
			rec.Name, rec.Callsign, rec.IMO, rec.VesselType,
			rec.LengthM, rec.WidthM); err != nil {
			monitoring.Logf("ingest: update static %s: %v", mmsi, err)
			stats.Errors++
			continue
		}
		stats.VesselsUpdated++
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit static batch: %w", err)
	}
	return stats, nil
}
