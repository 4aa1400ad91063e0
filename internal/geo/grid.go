package geo

import (
	"fmt"
	"math"
	"time"
)

// BucketDuration is the temporal resolution of the pair-detection index.
const BucketDuration = 15 * time.Minute

// Bucket15m returns the 15-minute bucket index for t (UTC seconds / 900).
func Bucket15m(t time.Time) int64 {
	return t.Unix() / int64(BucketDuration/time.Second)
}

// BucketStart returns the UTC start time of a 15-minute bucket index.
func BucketStart(bucket int64) time.Time {
	return time.Unix(bucket*int64(BucketDuration/time.Second), 0).UTC()
}

// GridCell returns the 1-degree spatial cell key for a position.
func GridCell(lat, lon float64) string {
	return fmt.Sprintf("%d:%d", int(math.Floor(lat)), int(math.Floor(lon)))
}

// NeighborCells returns the cell and its 8 neighbors. Pair detectors scan
// neighbors so vessels straddling a cell boundary still pair up.
func NeighborCells(lat, lon float64) []string {
	baseLat := math.Floor(lat)
	baseLon := math.Floor(lon)
	cells := make([]string, 0, 9)
	for dLat := -1.0; dLat <= 1; dLat++ {
		for dLon := -1.0; dLon <= 1; dLon++ {
			cells = append(cells, fmt.Sprintf("%d:%d", int(baseLat+dLat), int(baseLon+dLon)))
		}
	}
	return cells
}

// DayBucket returns the UTC day (truncated) for daily aggregation.
func DayBucket(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
