// Package pipeline sequences a full detection cycle over a date window:
// external fetches, gap detection, the independent detector batch, scoring,
// classification, identity resolution, and the ownership graph. Steps are
// hard or soft: a hard failure aborts the run, a soft failure is recorded
// and the run finishes as completed_with_errors.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/detect"
	"github.com/radiance-data/radiancefleet/internal/identity"
	"github.com/radiance-data/radiancefleet/internal/metrics"
	"github.com/radiance-data/radiancefleet/internal/monitoring"
	"github.com/radiance-data/radiancefleet/internal/owners"
	"github.com/radiance-data/radiancefleet/internal/scoring"
)

// Step terminal states.
const (
	StepOK      = "ok"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

const (
	// driftWarmupRuns suppresses drift detection until enough history
	// exists to compare against.
	driftWarmupRuns = 3

	// A detector is drift-disabled when its count jumps past driftFactor
	// times the previous run and the absolute count is large enough to
	// matter.
	driftFactor   = 10.0
	driftMinCount = 50

	defaultTopAlerts = 10

	// cloningClusterMin is how many impossible-jump events one MMSI needs
	// before the fleet-level cloning alert fires.
	cloningClusterMin = 3

	// Coordinated darkness: at least this many vessels going dark within
	// coordinatedWindow of each other.
	coordinatedMinVessels = 3
	coordinatedWindow     = 30 * time.Minute
)

// StepResult is the recorded outcome of one pipeline step.
type StepResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// TopAlert is one row of the run summary: a scored gap worth analyst
// attention.
type TopAlert struct {
	GapEventID int64   `json:"gap_event_id"`
	MMSI       string  `json:"mmsi"`
	RiskScore  float64 `json:"risk_score"`
	DurationH  float64 `json:"duration_h"`
	Corridor   *string `json:"corridor,omitempty"`
	Confidence *string `json:"confidence,omitempty"`
}

// Summary is what a finished run hands back to the caller.
type Summary struct {
	RunID          string                `json:"run_id"`
	Status         string                `json:"run_status"`
	Steps          map[string]StepResult `json:"steps"`
	StepOrder      []string              `json:"-"`
	TopAlerts      []TopAlert            `json:"top_alerts"`
	DetectorCounts map[string]int        `json:"detector_counts"`
	DriftDisabled  []string              `json:"drift_disabled_detectors"`
}

// Fetcher pulls an external data source (GFW gap reports, SAR dark
// detections) into the store before detection starts.
type Fetcher struct {
	Name  string
	Fetch func(ctx context.Context, store *db.Store, r db.DateRange) error
}

// Runner drives pipeline runs against one store and config.
type Runner struct {
	store *db.Store
	cfg   *config.Config

	// Fetchers are the optional external sources for the first step.
	Fetchers []Fetcher

	// Now is the clock; replaceable in tests.
	Now func() time.Time

	// TopAlertLimit caps the summary alert list.
	TopAlertLimit int
}

// New builds a Runner with the default clock and alert limit.
func New(store *db.Store, cfg *config.Config) *Runner {
	return &Runner{
		store:         store,
		cfg:           cfg,
		Now:           time.Now,
		TopAlertLimit: defaultTopAlerts,
	}
}

// step is one schedulable unit. An empty feature means the step has no flag
// and always runs.
type step struct {
	name    string
	hard    bool
	feature string
	run     func(ctx context.Context, r db.DateRange, sum *Summary) (string, error)
}

// Run executes the full cycle for [r.From, r.To). The returned Summary is
// non-nil even when the run fails; the error reports the hard failure, if
// any.
func (p *Runner) Run(ctx context.Context, r db.DateRange) (*Summary, error) {
	runID := uuid.NewString()
	started := p.Now().UTC()

	run := &db.PipelineRun{ID: runID, DateFrom: r.From, DateTo: r.To, Started: started}
	if err := p.store.InsertPipelineRun(ctx, run); err != nil {
		return nil, fmt.Errorf("pipeline: open run: %w", err)
	}

	sum := &Summary{
		RunID:          runID,
		Steps:          map[string]StepResult{},
		DetectorCounts: map[string]int{},
	}

	var hardErr error
	softFailed := false
	for _, st := range p.steps() {
		if err := ctx.Err(); err != nil {
			hardErr = err
			break
		}

		res := p.runStep(ctx, st, r, sum)
		sum.Steps[st.name] = res
		sum.StepOrder = append(sum.StepOrder, st.name)
		metrics.PipelineSteps.WithLabelValues(st.name, res.Status).Inc()

		if res.Status == StepFailed {
			if st.hard {
				hardErr = fmt.Errorf("pipeline: step %s: %s", st.name, res.Detail)
				break
			}
			softFailed = true
		}
	}

	// The summary step always runs, even after a hard abort.
	sum.StepOrder = append(sum.StepOrder, "summary")
	if detail, err := p.assembleTopAlerts(ctx, r, sum); err != nil {
		sum.Steps["summary"] = StepResult{Status: StepFailed, Detail: err.Error()}
		softFailed = true
	} else {
		sum.Steps["summary"] = StepResult{Status: StepOK, Detail: detail}
	}

	switch {
	case hardErr != nil:
		sum.Status = db.RunStatusFailed
	case softFailed:
		sum.Status = db.RunStatusPartial
	default:
		sum.Status = db.RunStatusCompleted
	}

	drift, err := p.detectDrift(ctx, sum.DetectorCounts)
	if err != nil {
		monitoring.Logf("pipeline %s: drift detection: %v", runID, err)
	}
	sum.DriftDisabled = drift

	metrics.PipelineRuns.WithLabelValues(sum.Status).Inc()
	if err := p.finalize(ctx, runID, r, sum); err != nil {
		return sum, fmt.Errorf("pipeline: finalize run: %w", err)
	}
	return sum, hardErr
}

func (p *Runner) runStep(ctx context.Context, st step, r db.DateRange, sum *Summary) StepResult {
	if st.feature != "" && !p.cfg.Flags.DetectionEnabled(st.feature) {
		return StepResult{Status: StepSkipped, Detail: "flag disabled"}
	}

	detail, err := st.run(ctx, r, sum)
	if err != nil {
		monitoring.Logf("pipeline step %s: %v", st.name, err)
		return StepResult{Status: StepFailed, Detail: err.Error()}
	}
	return StepResult{Status: StepOK, Detail: detail}
}

// steps returns the schedule in dependency order. Gap detection and scoring
// are the only hard steps; everything else degrades the run to partial.
func (p *Runner) steps() []step {
	s := []step{
		{name: "external_fetch", run: p.externalFetch},
		p.detector("gap_detection", config.FeatureGap, detect.DetectGaps, true),
		p.detector("coverage_tagging", "", detect.TagCoverageQuality, false),
		p.detector("feed_outage", config.FeatureFeedOutage, detect.DetectFeedOutages, false),
	}

	// The independent detector batch. Order within the batch is
	// conventional, not a dependency.
	batch := []struct {
		name    string
		feature string
		fn      detectorFunc
	}{
		{"spoofing", config.FeatureSpoofing, detect.DetectSpoofing},
		{"mmsi_reuse", config.FeatureSpoofing, detect.DetectMMSIReuse},
		{"fake_position", config.FeatureFakePosition, detect.DetectFakePositions},
		{"stale_ais", config.FeatureStaleAIS, detect.DetectStaleAIS},
		{"loitering", config.FeatureLoitering, detect.DetectLoitering},
		{"laid_up", config.FeatureLoitering, detect.DetectLaidUp},
		{"sts", config.FeatureSTS, detect.DetectSTS},
		{"convoy", config.FeatureConvoy, detect.DetectConvoys},
		{"floating_storage", config.FeatureConvoy, detect.DetectFloatingStorage},
		{"arctic_no_ice_class", config.FeatureConvoy, detect.DetectArcticNoIceClass},
		{"draught", config.FeatureDraught, detect.DetectDraughtChanges},
		{"mmsi_cloning", config.FeatureMMSICloning, detect.DetectMMSICloning},
		{"identity_swap", config.FeatureHandshake, detect.DetectIdentitySwaps},
		{"cross_receiver", config.FeatureCrossReceiver, detect.DetectCrossReceiver},
		{"destination", config.FeatureDestination, detect.DetectDestinationDeviation},
		{"scrapped_registry", config.FeatureScrappedRegistry, detect.DetectScrappedIMOReuse},
		{"track_replay", config.FeatureTrackReplay, detect.DetectTrackReplay},
		{"track_naturalness", config.FeatureTrackNaturalness, detect.DetectSyntheticTracks},
	}
	for _, d := range batch {
		s = append(s, p.detector(d.name, d.feature, d.fn, false))
	}

	s = append(s,
		step{name: "risk_scoring", hard: true, run: p.scoreGaps},
		step{name: "confidence", run: p.classify},
		step{name: "identity_resolution", feature: config.FeatureIdentityResolution, run: p.resolveIdentities},
		step{name: "fleet_rollups", run: p.fleetRollups},
		step{name: "ownership_graph", feature: config.FeatureOwnershipGraph, run: p.ownershipGraph},
	)
	return s
}

type detectorFunc func(ctx context.Context, store *db.Store, r db.DateRange, cfg *config.Config) (detect.Stats, error)

func (p *Runner) detector(name, feature string, fn detectorFunc, hard bool) step {
	return step{
		name:    name,
		hard:    hard,
		feature: feature,
		run: func(ctx context.Context, r db.DateRange, sum *Summary) (string, error) {
			stats, err := fn(ctx, p.store, r, p.cfg)
			if err != nil {
				return "", err
			}
			sum.DetectorCounts[stats.Detector] += stats.Created
			metrics.DetectorEvents.WithLabelValues(stats.Detector).Add(float64(stats.Created))
			return fmt.Sprintf("examined=%d found=%d created=%d",
				stats.Examined, stats.Found, stats.Created), nil
		},
	}
}

func (p *Runner) externalFetch(ctx context.Context, r db.DateRange, _ *Summary) (string, error) {
	if len(p.Fetchers) == 0 {
		return "no external fetchers configured", nil
	}

	fetched := 0
	var firstErr error
	for _, f := range p.Fetchers {
		if err := f.Fetch(ctx, p.store, r); err != nil {
			monitoring.Logf("pipeline: external fetch %s: %v", f.Name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch %s: %w", f.Name, err)
			}
			continue
		}
		fetched++
	}
	if firstErr != nil && fetched == 0 {
		return "", firstErr
	}
	if firstErr != nil {
		// Partial fetch still lets detection proceed on what arrived.
		return fmt.Sprintf("fetched %d/%d sources (%v)", fetched, len(p.Fetchers), firstErr), nil
	}
	return fmt.Sprintf("fetched %d sources", fetched), nil
}

func (p *Runner) scoreGaps(ctx context.Context, r db.DateRange, _ *Summary) (string, error) {
	stats, err := scoring.ScoreGaps(ctx, p.store, r, p.cfg, r.To)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("scored=%d feed_outage_skipped=%d",
		stats.Scored, stats.FeedOutageSkipped), nil
}

func (p *Runner) classify(ctx context.Context, r db.DateRange, _ *Summary) (string, error) {
	n, err := scoring.ClassifyGaps(ctx, p.store, r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("classified=%d", n), nil
}

func (p *Runner) resolveIdentities(ctx context.Context, r db.DateRange, _ *Summary) (string, error) {
	updated := 0
	if p.cfg.Flags.DetectionEnabled(config.FeatureFingerprint) {
		var err error
		updated, err = identity.UpdateFingerprints(ctx, p.store, r, r.To)
		if err != nil {
			return "", err
		}
	}

	stats, err := identity.Resolve(ctx, p.store, p.cfg, r.To)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("fingerprints=%d dark=%d new=%d candidates=%d auto_merged=%d",
		updated, stats.DarkVessels, stats.NewVessels, stats.Candidates, stats.AutoMerged), nil
}

func (p *Runner) ownershipGraph(ctx context.Context, _ db.DateRange, _ *Summary) (string, error) {
	stats, err := owners.ClusterOwners(ctx, p.store)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("owners=%d clusters=%d sanctioned=%d",
		stats.Owners, stats.Clusters, stats.SanctionedClusters), nil
}

// fleetRollups raises fleet-level alerts from per-vessel detections:
// repeated MMSI-cloning jumps on one identity, and coordinated darkness
// when several vessels drop off within minutes of each other.
func (p *Runner) fleetRollups(ctx context.Context, r db.DateRange, _ *Summary) (string, error) {
	cloning, err := p.cloningRollup(ctx)
	if err != nil {
		return "", err
	}
	coordinated, err := p.coordinatedDarknessRollup(ctx, r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("cloning_clusters=%d coordinated_darkness=%d", cloning, coordinated), nil
}

func (p *Runner) cloningRollup(ctx context.Context) (int, error) {
	vessels, err := p.store.AllVesselIDs(ctx)
	if err != nil {
		return 0, err
	}

	alerts := 0
	for _, vesselID := range vessels {
		events, err := p.store.CloningEventsForVessel(ctx, vesselID)
		if err != nil {
			return alerts, err
		}
		if len(events) < cloningClusterMin {
			continue
		}

		ids, err := json.Marshal([]int64{vesselID})
		if err != nil {
			return alerts, err
		}
		detail := fmt.Sprintf(`{"cloning_events":%d}`, len(events))
		if err := p.store.InsertFleetAlert(ctx, "mmsi_cloning_cluster", string(ids), &detail); err != nil {
			return alerts, err
		}
		alerts++
	}
	return alerts, nil
}

func (p *Runner) coordinatedDarknessRollup(ctx context.Context, r db.DateRange) (int, error) {
	gaps, err := p.store.GapsInRange(ctx, r)
	if err != nil {
		return 0, err
	}

	real := gaps[:0]
	for _, g := range gaps {
		if !g.IsFeedOutage {
			real = append(real, g)
		}
	}
	sort.Slice(real, func(i, j int) bool { return real[i].Start.Before(real[j].Start) })

	alerts := 0
	for i := 0; i < len(real); {
		j := i
		vessels := map[int64]bool{}
		for j < len(real) && real[j].Start.Sub(real[i].Start) <= coordinatedWindow {
			vessels[real[j].VesselID] = true
			j++
		}
		if len(vessels) >= coordinatedMinVessels {
			ids := make([]int64, 0, len(vessels))
			for id := range vessels {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

			raw, err := json.Marshal(ids)
			if err != nil {
				return alerts, err
			}
			detail := fmt.Sprintf(`{"window_start":%d,"vessels":%d}`,
				real[i].Start.Unix(), len(vessels))
			if err := p.store.InsertFleetAlert(ctx, "coordinated_darkness", string(raw), &detail); err != nil {
				return alerts, err
			}
			alerts++
			i = j
			continue
		}
		i++
	}
	return alerts, nil
}

func (p *Runner) assembleTopAlerts(ctx context.Context, r db.DateRange, sum *Summary) (string, error) {
	gaps, err := p.store.GapsInRange(ctx, r)
	if err != nil {
		return "", err
	}

	scored := gaps[:0]
	for _, g := range gaps {
		if g.RiskScore != nil && !g.IsFeedOutage {
			scored = append(scored, g)
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if *scored[i].RiskScore != *scored[j].RiskScore {
			return *scored[i].RiskScore > *scored[j].RiskScore
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > p.TopAlertLimit {
		scored = scored[:p.TopAlertLimit]
	}

	for _, g := range scored {
		vessel, err := p.store.VesselByID(ctx, g.VesselID)
		if err != nil {
			return "", err
		}
		sum.TopAlerts = append(sum.TopAlerts, TopAlert{
			GapEventID: g.ID,
			MMSI:       vessel.MMSI,
			RiskScore:  *g.RiskScore,
			DurationH:  g.DurationH,
			Corridor:   g.CorridorName,
			Confidence: g.Confidence,
		})
	}
	return fmt.Sprintf("top_alerts=%d", len(sum.TopAlerts)), nil
}

// detectDrift compares this run's per-detector counts with the previous
// completed run. Detectors already disabled stay disabled until an operator
// clears them.
func (p *Runner) detectDrift(ctx context.Context, counts map[string]int) ([]string, error) {
	history, err := p.store.RecentCompletedRuns(ctx, driftWarmupRuns)
	if err != nil {
		return nil, err
	}
	if len(history) < driftWarmupRuns {
		return nil, nil
	}
	prev := history[0]

	disabled := map[string]bool{}
	if prev.DriftDisabledJSON != nil {
		var carried []string
		if err := json.Unmarshal([]byte(*prev.DriftDisabledJSON), &carried); err != nil {
			return nil, fmt.Errorf("parse previous drift list: %w", err)
		}
		for _, d := range carried {
			disabled[d] = true
		}
	}

	prevCounts := map[string]int{}
	if prev.DetectorCountsJSON != nil {
		if err := json.Unmarshal([]byte(*prev.DetectorCountsJSON), &prevCounts); err != nil {
			return nil, fmt.Errorf("parse previous detector counts: %w", err)
		}
	}

	for detector, n := range counts {
		if n < driftMinCount {
			continue
		}
		base := prevCounts[detector]
		if base < 1 {
			base = 1
		}
		if float64(n) > driftFactor*float64(base) {
			disabled[detector] = true
			monitoring.Logf("pipeline: drift-disabling %s: %d events vs %d last run",
				detector, n, prevCounts[detector])
		}
	}

	if len(disabled) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(disabled))
	for d := range disabled {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

type volumeSnapshot struct {
	Positions int64          `json:"positions"`
	Vessels   int            `json:"vessels"`
	GapEvents int            `json:"gap_events"`
	Watchlist map[string]int `json:"watchlist_entries"`
}

func (p *Runner) finalize(ctx context.Context, runID string, r db.DateRange, sum *Summary) error {
	stepsJSON, err := json.Marshal(sum.Steps)
	if err != nil {
		return err
	}
	countsJSON, err := json.Marshal(sum.DetectorCounts)
	if err != nil {
		return err
	}

	vol, err := p.volume(ctx, r)
	if err != nil {
		monitoring.Logf("pipeline %s: volume snapshot: %v", runID, err)
		vol = &volumeSnapshot{Watchlist: map[string]int{}}
	}
	volumeJSON, err := json.Marshal(vol)
	if err != nil {
		return err
	}

	drift := sum.DriftDisabled
	if drift == nil {
		drift = []string{}
	}
	driftJSON, err := json.Marshal(drift)
	if err != nil {
		return err
	}

	return p.store.FinishPipelineRun(ctx, runID, sum.Status, p.Now().UTC(),
		string(stepsJSON), string(countsJSON), string(volumeJSON), string(driftJSON))
}

func (p *Runner) volume(ctx context.Context, r db.DateRange) (*volumeSnapshot, error) {
	positions, err := p.store.CountPositions(ctx, r)
	if err != nil {
		return nil, err
	}
	vessels, err := p.store.AllVesselIDs(ctx)
	if err != nil {
		return nil, err
	}
	gaps, err := p.store.GapsInRange(ctx, r)
	if err != nil {
		return nil, err
	}
	watchlist, err := p.store.CountWatchlistEntries(ctx)
	if err != nil {
		return nil, err
	}
	return &volumeSnapshot{
		Positions: positions,
		Vessels:   len(vessels),
		GapEvents: len(gaps),
		Watchlist: watchlist,
	}, nil
}
