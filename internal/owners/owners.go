// Package owners clusters registered owners by normalized name and walks
// the ownership graph for shell-company patterns. Sanctions found on any
// owner propagate to its whole cluster; scoring reads the cluster flag.
package owners

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/radiance-data/radiancefleet/internal/db"
)

const (
	// maxChainDepth terminates parent walks on cyclic graphs.
	maxChainDepth = 10

	// shellChainDepth is the parent-chain depth beyond which a holding
	// structure is flagged.
	shellChainDepth = 2

	// reshuffleWindow and reshuffleThreshold define post-sanction owner
	// churn: more than two changes of registered owner inside a year.
	reshuffleWindow    = 365 * 24 * time.Hour
	reshuffleThreshold = 2
)

// Stats reports one clustering pass.
type Stats struct {
	Owners             int
	Clusters           int
	SanctionedClusters int
}

// Patterns holds the graph findings for one owner.
type Patterns struct {
	ChainDepth              int
	ShellChain              bool
	CircularOwnership       bool
	SharedAddressSanctioned bool
}

// NormalizeName lowercases, trims, and collapses internal whitespace so
// "OCEAN  Shipping Ltd " and "ocean shipping ltd" land in one cluster.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ClusterOwners groups every owner by normalized name, assigns cluster IDs,
// and propagates sanctions: a cluster with any sanctioned member is marked
// sanctioned as a whole.
func ClusterOwners(ctx context.Context, store *db.Store) (Stats, error) {
	stats := Stats{}

	all, err := store.AllOwners(ctx)
	if err != nil {
		return stats, err
	}
	stats.Owners = len(all)

	groups := map[string][]*db.Owner{}
	for _, o := range all {
		key := o.NormalizedName
		if key == "" {
			key = NormalizeName(o.Name)
		}
		groups[key] = append(groups[key], o)
	}

	for normalized, members := range groups {
		clusterID, err := store.UpsertOwnerCluster(ctx, normalized)
		if err != nil {
			return stats, err
		}
		stats.Clusters++

		sanctioned := false
		for _, o := range members {
			if err := store.SetOwnerCluster(ctx, o.ID, clusterID); err != nil {
				return stats, err
			}
			if o.IsSanctioned {
				sanctioned = true
			}
		}
		if sanctioned {
			if err := store.SetClusterSanctioned(ctx, clusterID, true); err != nil {
				return stats, err
			}
			stats.SanctionedClusters++
		}
	}
	return stats, nil
}

// AnalyzeOwner walks the parent chain and scans for a sanctioned entity at
// the same registered address.
func AnalyzeOwner(ctx context.Context, store *db.Store, owner *db.Owner) (Patterns, error) {
	p := Patterns{}
	if owner == nil {
		return p, nil
	}

	seen := map[int64]bool{owner.ID: true}
	current := owner
	for depth := 0; depth < maxChainDepth; depth++ {
		if current.ParentOwnerID == nil {
			break
		}
		parent, err := store.OwnerByID(ctx, *current.ParentOwnerID)
		if errors.Is(err, db.ErrNotFound) {
			break
		}
		if err != nil {
			return p, err
		}
		p.ChainDepth++
		if seen[parent.ID] {
			p.CircularOwnership = true
			break
		}
		seen[parent.ID] = true
		current = parent
	}
	p.ShellChain = p.ChainDepth > shellChainDepth

	shared, err := sharedAddressSanctioned(ctx, store, owner)
	if err != nil {
		return p, err
	}
	p.SharedAddressSanctioned = shared
	return p, nil
}

// sharedAddressSanctioned reports whether a different, sanctioned owner is
// registered at the same country and address.
func sharedAddressSanctioned(ctx context.Context, store *db.Store, owner *db.Owner) (bool, error) {
	if owner.Country == nil || owner.Address == nil {
		return false, nil
	}
	all, err := store.AllOwners(ctx)
	if err != nil {
		return false, err
	}
	for _, o := range all {
		if o.ID == owner.ID || !o.IsSanctioned {
			continue
		}
		if o.Country == nil || o.Address == nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(*o.Country), strings.TrimSpace(*owner.Country)) &&
			strings.EqualFold(strings.TrimSpace(*o.Address), strings.TrimSpace(*owner.Address)) {
			return true, nil
		}
	}
	return false, nil
}

// Reshuffled reports whether a vessel changed registered owner more than
// twice in the year before asOf.
func Reshuffled(ctx context.Context, store *db.Store, vesselID int64, asOf time.Time) (bool, error) {
	n, err := store.CountOwnerChanges(ctx, vesselID, asOf.Add(-reshuffleWindow), asOf)
	if err != nil {
		return false, err
	}
	return n > reshuffleThreshold, nil
}
