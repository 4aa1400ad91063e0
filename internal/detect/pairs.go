package detect

import (
	"sort"

	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

// pairIndex buckets positions by 15-minute window and 1-degree grid cell so
// the pair detectors never compare positions that cannot possibly match.
type pairIndex struct {
	buckets map[int64]map[string][]*db.Position
	minB    int64
	maxB    int64
}

func buildPairIndex(positions []*db.Position) *pairIndex {
	idx := &pairIndex{buckets: map[int64]map[string][]*db.Position{}}
	for _, p := range positions {
		b := geo.Bucket15m(p.Timestamp)
		cells, ok := idx.buckets[b]
		if !ok {
			cells = map[string][]*db.Position{}
			idx.buckets[b] = cells
			if len(idx.buckets) == 1 || b < idx.minB {
				idx.minB = b
			}
			if len(idx.buckets) == 1 || b > idx.maxB {
				idx.maxB = b
			}
		}
		cell := geo.GridCell(p.Lat, p.Lon)
		cells[cell] = append(cells[cell], p)
	}
	return idx
}

// vesselPair is a stable (min, max) vessel ID key.
type vesselPair struct {
	A int64
	B int64
}

func newVesselPair(a, b int64) vesselPair {
	if a > b {
		a, b = b, a
	}
	return vesselPair{a, b}
}

// pairMatch is one co-location inside one bucket.
type pairMatch struct {
	Bucket int64
	PosA   *db.Position
	PosB   *db.Position
}

// matchPairs evaluates every cross-vessel pair inside each (bucket, cell
// neighborhood) against the match predicate and groups matches per vessel
// pair, bucket-ordered. One vessel may report several positions per bucket;
// the first matching combination wins for that bucket.
func (idx *pairIndex) matchPairs(match func(a, b *db.Position) bool) map[vesselPair][]pairMatch {
	out := map[vesselPair][]pairMatch{}
	seen := map[vesselPair]map[int64]bool{}

	for b := idx.minB; b <= idx.maxB; b++ {
		cells, ok := idx.buckets[b]
		if !ok {
			continue
		}
		for _, candidates := range cells {
			for _, a := range candidates {
				for _, neighbor := range geo.NeighborCells(a.Lat, a.Lon) {
					for _, other := range cells[neighbor] {
						if other.VesselID <= a.VesselID {
							continue
						}
						key := newVesselPair(a.VesselID, other.VesselID)
						if seen[key][b] {
							continue
						}
						if !match(a, other) {
							continue
						}
						if seen[key] == nil {
							seen[key] = map[int64]bool{}
						}
						seen[key][b] = true
						pa, pb := a, other
						if pa.VesselID > pb.VesselID {
							pa, pb = pb, pa
						}
						out[key] = append(out[key], pairMatch{Bucket: b, PosA: pa, PosB: pb})
					}
				}
			}
		}
	}

	for key := range out {
		matches := out[key]
		sort.Slice(matches, func(i, j int) bool { return matches[i].Bucket < matches[j].Bucket })
	}
	return out
}

// consecutiveRuns splits bucket-ordered matches into runs of strictly
// consecutive buckets at least minLen long.
func consecutiveRuns(matches []pairMatch, minLen int) [][]pairMatch {
	var runs [][]pairMatch
	start := 0
	for i := 1; i <= len(matches); i++ {
		if i < len(matches) && matches[i].Bucket == matches[i-1].Bucket+1 {
			continue
		}
		if i-start >= minLen {
			runs = append(runs, matches[start:i])
		}
		start = i
	}
	return runs
}

// headingsCompatible applies a max heading delta when both headings are
// present; missing headings never disqualify a pair.
func headingsCompatible(a, b *db.Position, maxDelta float64) bool {
	if a.Heading == nil || b.Heading == nil {
		return true
	}
	return geo.HeadingDelta(*a.Heading, *b.Heading) <= maxDelta
}
