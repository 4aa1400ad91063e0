package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/owners"
)

// eventWindow pads the gap interval when pulling correlated events: an STS
// or spoofing anomaly a few hours either side of the silence still belongs
// to the same episode.
const eventWindow = 24 * time.Hour

// darkZoneWindow bounds the simultaneous-silence check for the selective
// evasion signal.
const darkZoneWindow = 2 * time.Hour

// Facts is everything Compute needs about one gap, gathered up front so the
// scoring arithmetic itself is pure and testable without a database.
type Facts struct {
	Gap    *db.GapEvent
	Vessel *db.Vessel

	Spoofing          []*db.SpoofingAnomaly
	STS               []*db.STSEvent
	STSPartnerFlagged bool
	Loitering         []*db.LoiteringEvent
	Convoys           []*db.ConvoyEvent
	Draughts          []*db.DraughtChangeEvent
	Cloning           []*db.CloningEvent

	Gaps7d  int
	Gaps14d int
	Gaps30d int

	NameChanges30d int
	NameChanges12m int
	FlagChanges90d int
	FlagChanges12m int

	WatchlistMatch         bool
	OwnerOnWatchlist       bool
	OwnerClusterSanctioned bool
	OwnerPatterns          owners.Patterns
	OwnerReshuffled        bool

	LastPortCountry   *string
	DaysSincePortCall *float64

	// DarkZone is nil when no simultaneous-silence observation could be
	// made; Compute then falls back to the ambient-jamming deduction.
	DarkZone *DarkZoneSight
}

// DarkZoneSight is what the database showed about other vessels going dark
// in the same zone-window.
type DarkZoneSight struct {
	OthersDark    int
	AllSameSource bool
}

// GatherFacts loads the scoring inputs for one gap.
func GatherFacts(ctx context.Context, store *db.Store, gap *db.GapEvent, cfg *config.Config, scoringDate time.Time) (*Facts, error) {
	f := &Facts{Gap: gap}

	vessel, err := store.VesselByID(ctx, gap.VesselID)
	if err != nil {
		return nil, err
	}
	f.Vessel = vessel

	window := db.DateRange{
		From: gap.Start.Add(-eventWindow),
		To:   gap.End.Add(eventWindow),
	}
	if f.Spoofing, err = store.SpoofingForVessel(ctx, gap.VesselID, window); err != nil {
		return nil, err
	}
	if f.STS, err = store.STSForVessel(ctx, gap.VesselID, window); err != nil {
		return nil, err
	}
	if f.Loitering, err = store.LoiteringForVessel(ctx, gap.VesselID, window); err != nil {
		return nil, err
	}
	if f.Convoys, err = store.ConvoysForVessel(ctx, gap.VesselID, window); err != nil {
		return nil, err
	}
	if f.Draughts, err = store.DraughtChangesForVessel(ctx, gap.VesselID, window); err != nil {
		return nil, err
	}
	if f.Cloning, err = store.CloningEventsForVessel(ctx, gap.VesselID); err != nil {
		return nil, err
	}
	if f.STSPartnerFlagged, err = stsPartnerFlagged(ctx, store, vessel.ID, f.STS); err != nil {
		return nil, err
	}

	anchor := gap.End.Add(time.Second)
	if f.Gaps7d, err = store.CountGapsForVessel(ctx, vessel.ID, anchor.AddDate(0, 0, -7), anchor); err != nil {
		return nil, err
	}
	if f.Gaps14d, err = store.CountGapsForVessel(ctx, vessel.ID, anchor.AddDate(0, 0, -14), anchor); err != nil {
		return nil, err
	}
	if f.Gaps30d, err = store.CountGapsForVessel(ctx, vessel.ID, anchor.AddDate(0, 0, -30), anchor); err != nil {
		return nil, err
	}

	if f.NameChanges30d, err = store.CountNameChanges(ctx, vessel.ID, scoringDate.AddDate(0, 0, -30), scoringDate); err != nil {
		return nil, err
	}
	if f.NameChanges12m, err = store.CountNameChanges(ctx, vessel.ID, scoringDate.AddDate(-1, 0, 0), scoringDate); err != nil {
		return nil, err
	}
	if f.FlagChanges90d, err = store.CountFlagChanges(ctx, vessel.ID, scoringDate.AddDate(0, 0, -90), scoringDate); err != nil {
		return nil, err
	}
	if f.FlagChanges12m, err = store.CountFlagChanges(ctx, vessel.ID, scoringDate.AddDate(-1, 0, 0), scoringDate); err != nil {
		return nil, err
	}

	matches, err := store.WatchlistMatches(ctx, vessel.MMSI, vessel.IMO)
	if err != nil {
		return nil, err
	}
	f.WatchlistMatch = len(matches) > 0

	if err := gatherOwnerFacts(ctx, store, f, scoringDate); err != nil {
		return nil, err
	}
	if err := gatherPortFacts(ctx, store, f, scoringDate); err != nil {
		return nil, err
	}

	if gap.InDarkZone {
		sight, err := darkZoneSight(ctx, store, gap)
		if err != nil {
			return nil, err
		}
		f.DarkZone = sight
	}
	return f, nil
}

func stsPartnerFlagged(ctx context.Context, store *db.Store, vesselID int64, events []*db.STSEvent) (bool, error) {
	for _, e := range events {
		partner := e.Vessel1ID
		if partner == vesselID {
			partner = e.Vessel2ID
		}
		// Dark pseudo-tracks carry negative IDs and have no registry row.
		if partner <= 0 || partner == vesselID {
			continue
		}
		v, err := store.VesselByID(ctx, partner)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if v.IsHighRisk {
			return true, nil
		}
		matches, err := store.WatchlistMatches(ctx, v.MMSI, v.IMO)
		if err != nil {
			return false, err
		}
		if len(matches) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func gatherOwnerFacts(ctx context.Context, store *db.Store, f *Facts, scoringDate time.Time) error {
	owner, err := store.CurrentOwner(ctx, f.Vessel.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	f.OwnerOnWatchlist = owner.IsSanctioned
	if !f.OwnerOnWatchlist {
		entries, err := store.WatchlistByName(ctx, owner.Name)
		if err != nil {
			return err
		}
		f.OwnerOnWatchlist = len(entries) > 0
	}

	if owner.ClusterID != nil {
		sanctioned, err := store.ClusterSanctioned(ctx, *owner.ClusterID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
		f.OwnerClusterSanctioned = sanctioned
	}

	if f.OwnerPatterns, err = owners.AnalyzeOwner(ctx, store, owner); err != nil {
		return err
	}
	if f.OwnerReshuffled, err = owners.Reshuffled(ctx, store, f.Vessel.ID, scoringDate); err != nil {
		return err
	}
	return nil
}

func gatherPortFacts(ctx context.Context, store *db.Store, f *Facts, scoringDate time.Time) error {
	portID, arrived, err := store.LastPortCall(ctx, f.Vessel.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	days := scoringDate.Sub(arrived).Hours() / 24
	f.DaysSincePortCall = &days

	port, err := store.PortByID(ctx, portID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	f.LastPortCountry = port.Country
	return nil
}

// darkZoneSight counts other vessels starting gaps in the same zone-window
// and checks whether every one of them came off the same receiver, which
// points at a feed problem rather than coordinated evasion.
func darkZoneSight(ctx context.Context, store *db.Store, gap *db.GapEvent) (*DarkZoneSight, error) {
	others, err := store.GapsInRange(ctx, db.DateRange{
		From: gap.Start.Add(-darkZoneWindow),
		To:   gap.Start.Add(darkZoneWindow),
	})
	if err != nil {
		return nil, err
	}

	vessels := map[int64]bool{}
	var sources []*string
	for _, g := range others {
		if g.VesselID == gap.VesselID || !g.InDarkZone {
			continue
		}
		vessels[g.VesselID] = true
		if g.StartPointID == nil {
			sources = append(sources, nil)
			continue
		}
		p, err := store.PositionByID(ctx, *g.StartPointID)
		if errors.Is(err, db.ErrNotFound) {
			sources = append(sources, nil)
			continue
		}
		if err != nil {
			return nil, err
		}
		sources = append(sources, p.Source)
	}

	sight := &DarkZoneSight{OthersDark: len(vessels)}
	if len(vessels) >= 2 {
		same := true
		var first *string
		for i, src := range sources {
			if src == nil {
				same = false
				break
			}
			if i == 0 {
				first = src
			} else if *src != *first {
				same = false
				break
			}
		}
		sight.AllSameSource = same
	}
	return sight, nil
}
