package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/radiance-data/radiancefleet/internal/db"
)

// maxChainDepth bounds the BFS so malformed data cannot loop it.
const maxChainDepth = 10

// ChainLink is one executed merge inside a chain, serialized into
// merge_chains.links_json.
type ChainLink struct {
	CandidateID  int64  `json:"candidate_id"`
	DarkVesselID int64  `json:"dark_vessel_id"`
	NewVesselID  int64  `json:"new_vessel_id"`
	Status       string `json:"status"`
}

// BuildChain walks executed merges reachable from the root vessel, breadth
// first. Only AUTO_MERGED and ANALYST_MERGED candidates link the chain;
// pending and rejected proposals are invisible to it.
func BuildChain(ctx context.Context, store *db.Store, rootID int64) ([]ChainLink, error) {
	var links []ChainLink
	seen := map[int64]bool{rootID: true}
	frontier := []int64{rootID}

	for depth := 0; depth < maxChainDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, id := range frontier {
			candidates, err := store.MergeCandidatesForVessel(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, c := range candidates {
				if c.Status != db.MergeAutoMerged && c.Status != db.MergeAnalystMerged {
					continue
				}
				other := c.DarkVesselID
				if other == id {
					other = c.NewVesselID
				}
				if seen[other] {
					continue
				}
				seen[other] = true
				next = append(next, other)
				links = append(links, ChainLink{
					CandidateID:  c.ID,
					DarkVesselID: c.DarkVesselID,
					NewVesselID:  c.NewVesselID,
					Status:       string(c.Status),
				})
			}
		}
		frontier = next
	}
	return links, nil
}

// RebuildChain recomputes and persists the chain for a root vessel. An
// empty chain still overwrites whatever was stored.
func RebuildChain(ctx context.Context, store *db.Store, rootID int64, asOf time.Time) ([]ChainLink, error) {
	links, err := BuildChain(ctx, store, rootID)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []ChainLink{}
	}
	raw, err := json.Marshal(links)
	if err != nil {
		return nil, err
	}
	if err := store.ReplaceMergeChain(ctx, rootID, string(raw), asOf); err != nil {
		return nil, err
	}
	return links, nil
}
