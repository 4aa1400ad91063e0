// Package evidence assembles analyst-facing evidence cards for reviewed
// gap events and persists an immutable snapshot of each export.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/detect"
)

// ErrReviewRequired is returned when export is attempted before an analyst
// has looked at the event.
var ErrReviewRequired = errors.New("evidence: gap event has not been analyst-reviewed")

// Disclaimer accompanies every exported card.
const Disclaimer = "This report is derived from AIS and open-source data. " +
	"AIS coverage varies by region and transmissions can be manipulated; " +
	"findings indicate anomalies warranting review, not proof of sanctions " +
	"violations."

// sarBoxDeg bounds the satellite-contact lookup around the gap start point.
const sarBoxDeg = 0.5

// Endpoint is one side of the gap: the last position before silence or the
// first after reappearance.
type Endpoint struct {
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	SOG       *float64  `json:"sog_kn,omitempty"`
}

// VesselIdentity is the identity block of a card.
type VesselIdentity struct {
	MMSI       string  `json:"mmsi"`
	IMO        *string `json:"imo,omitempty"`
	Name       *string `json:"name,omitempty"`
	Callsign   *string `json:"callsign,omitempty"`
	Flag       *string `json:"flag,omitempty"`
	VesselType *string `json:"vessel_type,omitempty"`
}

// Envelope is the movement-plausibility block of a card.
type Envelope struct {
	MaxPlausibleNM   *float64 `json:"max_plausible_distance_nm,omitempty"`
	ActualDistanceNM *float64 `json:"actual_distance_nm,omitempty"`
	VelocityRatio    *float64 `json:"velocity_plausibility_ratio,omitempty"`
	ImpossibleSpeed  bool     `json:"impossible_speed"`
}

// Card is the assembled evidence for one reviewed gap event.
type Card struct {
	GapEventID int64          `json:"gap_event_id"`
	Vessel     VesselIdentity `json:"vessel"`

	GapStart  time.Time `json:"gap_start"`
	GapEnd    time.Time `json:"gap_end"`
	DurationH float64   `json:"duration_h"`
	LastKnown *Endpoint `json:"last_known_position,omitempty"`
	FirstBack *Endpoint `json:"first_position_after_gap,omitempty"`

	RiskScore       *float64        `json:"risk_score,omitempty"`
	RiskBreakdown   json.RawMessage `json:"risk_breakdown,omitempty"`
	Confidence      *string         `json:"confidence,omitempty"`
	Envelope        Envelope        `json:"movement_envelope"`
	SatelliteCheck  *string         `json:"satellite_check,omitempty"`
	CorridorName    *string         `json:"corridor_name,omitempty"`
	CoverageQuality string          `json:"coverage_quality"`

	AnalystStatus string `json:"analyst_status"`
	AnalystNotes  string `json:"analyst_notes,omitempty"`

	Exported   string `json:"exported_at"`
	Disclaimer string `json:"disclaimer"`
}

// Build assembles the card for a gap event. Events still in analyst status
// "new" are refused.
func Build(ctx context.Context, store *db.Store, gapID int64, notes string, now time.Time) (*Card, error) {
	gap, err := store.GapByID(ctx, gapID)
	if err != nil {
		return nil, err
	}
	if gap.AnalystStatus == db.StatusNew {
		return nil, ErrReviewRequired
	}

	vessel, err := store.VesselByID(ctx, gap.VesselID)
	if err != nil {
		return nil, err
	}

	card := &Card{
		GapEventID: gap.ID,
		Vessel: VesselIdentity{
			MMSI:       vessel.MMSI,
			IMO:        vessel.IMO,
			Name:       vessel.Name,
			Callsign:   vessel.Callsign,
			Flag:       vessel.Flag,
			VesselType: vessel.VesselType,
		},
		GapStart:  gap.Start,
		GapEnd:    gap.End,
		DurationH: gap.DurationH,
		RiskScore: gap.RiskScore,
		Envelope: Envelope{
			MaxPlausibleNM:   gap.MaxPlausibleNM,
			ActualDistanceNM: gap.ActualDistanceNM,
			VelocityRatio:    gap.VelocityRatio,
			ImpossibleSpeed:  gap.ImpossibleSpeed,
		},
		Confidence:      gap.Confidence,
		CorridorName:    gap.CorridorName,
		CoverageQuality: coverage(gap),
		AnalystStatus:   string(gap.AnalystStatus),
		AnalystNotes:    notes,
		Exported:        now.UTC().Format(time.RFC3339),
		Disclaimer:      Disclaimer,
	}
	if gap.RiskBreakdownJSON != nil {
		card.RiskBreakdown = json.RawMessage(*gap.RiskBreakdownJSON)
	}

	if card.LastKnown, err = endpoint(ctx, store, gap.StartPointID); err != nil {
		return nil, err
	}
	if card.FirstBack, err = endpoint(ctx, store, gap.EndPointID); err != nil {
		return nil, err
	}
	if card.SatelliteCheck, err = satelliteCheck(ctx, store, gap, card.LastKnown); err != nil {
		return nil, err
	}
	return card, nil
}

// Export builds the card and persists the snapshot, so later rescoring
// never alters what was handed to an analyst.
func Export(ctx context.Context, store *db.Store, gapID int64, notes string, now time.Time) (*Card, error) {
	card, err := Build(ctx, store, gapID, notes, now)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("evidence: marshal card: %w", err)
	}

	gap, err := store.GapByID(ctx, gapID)
	if err != nil {
		return nil, err
	}
	if _, err := store.InsertEvidenceCard(ctx, gapID, gap.VesselID, string(raw), now); err != nil {
		return nil, err
	}
	return card, nil
}

func coverage(gap *db.GapEvent) string {
	if gap.CoverageQuality != nil {
		return *gap.CoverageQuality
	}
	if gap.CorridorName != nil {
		return detect.CoverageQuality(*gap.CorridorName)
	}
	return detect.CoverageUnknown
}

func endpoint(ctx context.Context, store *db.Store, posID *int64) (*Endpoint, error) {
	if posID == nil {
		return nil, nil
	}
	p, err := store.PositionByID(ctx, *posID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Endpoint{Timestamp: p.Timestamp, Lat: p.Lat, Lon: p.Lon, SOG: p.SOG}, nil
}

// satelliteCheck reports whether any SAR contact was logged near where the
// vessel went dark during the silence.
func satelliteCheck(ctx context.Context, store *db.Store, gap *db.GapEvent, last *Endpoint) (*string, error) {
	if last == nil {
		return nil, nil
	}
	contacts, err := store.DarkDetectionsNear(ctx, last.Lat, last.Lon, sarBoxDeg, gap.Start, gap.End)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	status := fmt.Sprintf("SAR_CONTACTS_IN_GAP_AREA: %d", len(contacts))
	return &status, nil
}
