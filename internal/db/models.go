package db

import "time"

// FlagRisk categorizes a vessel's flag state.
type FlagRisk string

const (
	FlagRiskLow     FlagRisk = "low_risk"
	FlagRiskMedium  FlagRisk = "medium_risk"
	FlagRiskHigh    FlagRisk = "high_risk"
	FlagRiskUnknown FlagRisk = "unknown"
)

// AISClass is the transponder class.
type AISClass string

const (
	AISClassA       AISClass = "A"
	AISClassB       AISClass = "B"
	AISClassUnknown AISClass = "unknown"
)

// AnalystStatus tracks review state of a gap event.
type AnalystStatus string

const (
	StatusNew         AnalystStatus = "new"
	StatusUnderReview AnalystStatus = "under_review"
	StatusConfirmed   AnalystStatus = "confirmed"
	StatusDismissed   AnalystStatus = "dismissed"
	StatusArchived    AnalystStatus = "archived"
)

// SpoofingType enumerates the spoofing anomaly variants.
type SpoofingType string

const (
	SpoofMMSIReuse        SpoofingType = "mmsi_reuse"
	SpoofNavStatusMismatch SpoofingType = "nav_status_mismatch"
	SpoofCircle           SpoofingType = "circle_spoof"
	SpoofAnchor           SpoofingType = "anchor_spoof"
	SpoofErraticNavStatus SpoofingType = "erratic_nav_status"
	SpoofCrossReceiver    SpoofingType = "cross_receiver_disagreement"
	SpoofIdentitySwap     SpoofingType = "identity_swap"
	SpoofFakePortCall     SpoofingType = "fake_port_call"
	SpoofStaleAIS         SpoofingType = "stale_ais_data"
	SpoofSyntheticTrack   SpoofingType = "synthetic_track"
	SpoofIMOFraud         SpoofingType = "imo_fraud"
	SpoofScrappedIMOReuse SpoofingType = "scrapped_imo_reuse"
	SpoofTrackReplay      SpoofingType = "track_replay"
	SpoofDestinationDeviation SpoofingType = "destination_deviation"
	SpoofFakePosition     SpoofingType = "fake_position"
)

// MergeCandidateStatus tracks the lifecycle of an identity-merge proposal.
type MergeCandidateStatus string

const (
	MergePending       MergeCandidateStatus = "PENDING"
	MergeAutoMerged    MergeCandidateStatus = "AUTO_MERGED"
	MergeAnalystMerged MergeCandidateStatus = "ANALYST_MERGED"
	MergeRejected      MergeCandidateStatus = "REJECTED"
)

// STSDetectionType classifies how an STS pairing was observed.
type STSDetectionType string

const (
	STSVisibleVisible STSDetectionType = "visible_visible"
	STSVisibleDark    STSDetectionType = "visible_dark"
	STSDarkDark       STSDetectionType = "dark_dark"
)

// Convoy event discriminators. Floating-storage and Arctic rows are
// self-referential (VesselA == VesselB).
const (
	ConvoyTypePair            = "convoy"
	ConvoyTypeFloatingStorage = "floating_storage"
	ConvoyTypeArcticNoIce     = "arctic_no_ice_class"
)

// Vessel is the canonical vessel identity record.
type Vessel struct {
	ID               int64
	MMSI             string
	IMO              *string
	Name             *string
	Callsign         *string
	Flag             *string
	FlagRisk         FlagRisk
	VesselType       *string
	Deadweight       *float64
	YearBuilt        *int64
	AISClass         AISClass
	LengthM          *float64
	WidthM           *float64
	MMSIFirstSeen    *time.Time
	LaidUp30d        bool
	LaidUp60d        bool
	LaidUpInSTSZone  bool
	PIClub           *string
	PIStatus         *string
	ISMManager       *string
	IsHighRisk       bool
	MergedIntoVessel *int64
}

// Position is one canonical AIS position report.
type Position struct {
	ID          int64
	VesselID    int64
	Timestamp   time.Time
	Lat         float64
	Lon         float64
	SOG         *float64
	COG         *float64
	Heading     *float64
	NavStatus   *int64
	Draught     *float64
	Destination *string
	AISClass    *string
	Source      *string
}

// Observation is a raw per-source echo kept short-retention for
// cross-receiver disagreement checks.
type Observation struct {
	MMSI      string
	Timestamp time.Time
	Source    string
	Lat       float64
	Lon       float64
	SOG       *float64
	Received  time.Time
}

// GapEvent is a period of AIS silence for one vessel.
type GapEvent struct {
	ID                   int64
	VesselID             int64
	Start                time.Time
	End                  time.Time
	DurationH            float64
	PreGapSOG            *float64
	ActualDistanceNM     *float64
	MaxPlausibleNM       *float64
	VelocityRatio        *float64
	ImpossibleSpeed      bool
	CorridorName         *string
	InDarkZone           bool
	IsFeedOutage         bool
	CoverageQuality      *string
	StartPointID         *int64
	EndPointID           *int64
	RiskScore            *float64
	RiskBreakdownJSON    *string
	Confidence           *string
	AnalystStatus        AnalystStatus
}

// SpoofingAnomaly is one typed spoofing detection.
type SpoofingAnomaly struct {
	ID             int64
	VesselID       int64
	Type           SpoofingType
	Start          time.Time
	End            time.Time
	DetailsJSON    *string
	ScoreComponent int
}

// STSEvent is a ship-to-ship transfer pairing.
type STSEvent struct {
	ID             int64
	Vessel1ID      int64
	Vessel2ID      int64
	Start          time.Time
	End            time.Time
	MeanLat        float64
	MeanLon        float64
	DetectionType  STSDetectionType
	ScoreComponent int
}

// LoiteringEvent is a low-speed dwell for one vessel.
type LoiteringEvent struct {
	ID             int64
	VesselID       int64
	Start          time.Time
	End            time.Time
	MedianSOG      float64
	MeanLat        float64
	MeanLon        float64
	CorridorName   *string
	PrecedingGapID *int64
	FollowingGapID *int64
	ScoreComponent int
}

// ConvoyEvent is a pair (or self-referential flag row) moving in formation.
type ConvoyEvent struct {
	ID             int64
	VesselAID      int64
	VesselBID      int64
	ConvoyType     string
	Start          time.Time
	End            time.Time
	DurationH      float64
	ScoreComponent int
}

// DraughtChangeEvent is a confirmed draught change away from port.
type DraughtChangeEvent struct {
	ID             int64
	VesselID       int64
	ChangeTime     time.Time
	Before         float64
	After          float64
	Delta          float64
	ClassThreshold float64
	Offshore       bool
	NearSTS        bool
	StraddlesGap   bool
	ScoreComponent int
}

// CloningEvent is an impossible-jump MMSI cloning detection.
type CloningEvent struct {
	ID             int64
	VesselID       int64
	PosAID         int64
	PosBID         int64
	DistanceNM     float64
	ImpliedSpeedKn float64
	ScoreComponent int
}

// MergeCandidate is a proposed dark-vessel/new-vessel identity match.
type MergeCandidate struct {
	ID           int64
	DarkVesselID int64
	NewVesselID  int64
	Confidence   float64
	FactorsJSON  string
	Status       MergeCandidateStatus
}

// MergeOperation is one executed identity merge, auto or analyst-driven.
type MergeOperation struct {
	ID           int64
	CandidateID  *int64
	DarkVesselID int64
	NewVesselID  int64
	Merged       time.Time
	Operator     string
}

// Owner is a registered-owner node in the ownership graph.
type Owner struct {
	ID             int64
	Name           string
	NormalizedName string
	Country        *string
	Address        *string
	ParentOwnerID  *int64
	IsSanctioned   bool
	ClusterID      *int64
}

// PipelineRun records one orchestrator cycle.
type PipelineRun struct {
	ID                     string
	DateFrom               time.Time
	DateTo                 time.Time
	Status                 string
	Started                time.Time
	Finished               *time.Time
	StepsJSON              *string
	DetectorCountsJSON     *string
	DataVolumeJSON         *string
	DriftDisabledJSON      *string
}

// WatchlistEntry is one sanctioned or suspect identity from a feed.
type WatchlistEntry struct {
	ID     int64
	Source string
	Name   *string
	MMSI   *string
	IMO    *string
	Flag   *string
	Type   *string
}

// NameChange records a historical vessel rename.
type NameChange struct {
	ID       int64
	VesselID int64
	OldName  *string
	NewName  *string
	Changed  time.Time
}

// FlagChange records a historical reflagging.
type FlagChange struct {
	ID       int64
	VesselID int64
	OldFlag  *string
	NewFlag  *string
	Changed  time.Time
}

// Port is a known port or offshore terminal.
type Port struct {
	ID                 int64
	Name               string
	Country            *string
	GeometryWKT        string
	Lat                *float64
	Lon                *float64
	IsOffshoreTerminal bool
}

// DarkDetection is a non-AIS contact (SAR or similar) used to type STS
// pairings.
type DarkDetection struct {
	ID        int64
	Lat       float64
	Lon       float64
	Timestamp time.Time
	Source    string
}
