package identity

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

// minFingerprintPositions is the fewest reports a window must hold before
// the behavioral statistics mean anything.
const minFingerprintPositions = 20

// Features is a vessel's behavioral fingerprint: operating statistics that
// survive a repaint and a new MMSI.
type Features struct {
	MedianSOG       float64 `json:"median_sog"`
	SOGStdev        float64 `json:"sog_stdev"`
	MedianTurnRate  float64 `json:"median_turn_rate"`
	NightFraction   float64 `json:"night_fraction"`
	MeanLegDistance float64 `json:"mean_leg_nm"`
}

func (f Features) vector() []float64 {
	return []float64{f.MedianSOG, f.SOGStdev, f.MedianTurnRate, f.NightFraction, f.MeanLegDistance}
}

func parseFeatures(raw string) (Features, error) {
	var f Features
	err := json.Unmarshal([]byte(raw), &f)
	return f, err
}

// ComputeFeatures derives the fingerprint from a position track. Returns
// false when the track is too short to characterize.
func ComputeFeatures(positions []*db.Position) (Features, bool) {
	if len(positions) < minFingerprintPositions {
		return Features{}, false
	}

	var sogs, turns, legs []float64
	night := 0
	for i, p := range positions {
		if p.SOG != nil {
			sogs = append(sogs, *p.SOG)
		}
		h := p.Timestamp.UTC().Hour()
		if h < 6 || h >= 18 {
			night++
		}
		if i == 0 {
			continue
		}
		prev := positions[i-1]
		legs = append(legs, geo.HaversineNM(prev.Lat, prev.Lon, p.Lat, p.Lon))
		if p.COG != nil && prev.COG != nil {
			dt := p.Timestamp.Sub(prev.Timestamp).Hours()
			if dt > 0 {
				turns = append(turns, math.Abs(geo.HeadingDelta(*prev.COG, *p.COG))/dt)
			}
		}
	}
	if len(sogs) < 2 {
		return Features{}, false
	}

	sort.Float64s(sogs)
	sort.Float64s(turns)
	f := Features{
		MedianSOG:     stat.Quantile(0.5, stat.Empirical, sogs, nil),
		SOGStdev:      stat.StdDev(sogs, nil),
		NightFraction: float64(night) / float64(len(positions)),
	}
	if len(turns) > 0 {
		f.MedianTurnRate = stat.Quantile(0.5, stat.Empirical, turns, nil)
	}
	if len(legs) > 0 {
		f.MeanLegDistance = stat.Mean(legs, nil)
	}
	return f, true
}

// UpdateFingerprints recomputes and stores fingerprints for every vessel
// with positions in the window. Returns the number updated.
func UpdateFingerprints(ctx context.Context, store *db.Store, r db.DateRange, asOf time.Time) (int, error) {
	ids, err := store.VesselsWithPositions(ctx, r)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range ids {
		positions, err := store.PositionsForVessel(ctx, id, r)
		if err != nil {
			return updated, err
		}
		f, ok := ComputeFeatures(positions)
		if !ok {
			continue
		}
		raw, err := json.Marshal(f)
		if err != nil {
			return updated, err
		}
		if err := store.UpsertFingerprint(ctx, id, string(raw), asOf); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// mahalanobis measures feature-space distance under the fleet-wide feature
// covariance, so a knot of SOG spread costs as much as a knot of median.
type mahalanobis struct {
	chol *mat.Cholesky
	dim  int
}

// newMahalanobis estimates the covariance over the fleet's stored
// fingerprints. Returns nil when there are too few samples or the
// covariance is singular; callers then fall back to Euclidean distance.
func newMahalanobis(samples []Features) *mahalanobis {
	dim := len(Features{}.vector())
	if len(samples) <= dim {
		return nil
	}

	data := mat.NewDense(len(samples), dim, nil)
	for i, s := range samples {
		data.SetRow(i, s.vector())
	}
	cov := mat.NewSymDense(dim, nil)
	stat.CovarianceMatrix(cov, data, nil)

	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return nil
	}
	return &mahalanobis{chol: &chol, dim: dim}
}

func (m *mahalanobis) distance(a, b Features) float64 {
	av, bv := a.vector(), b.vector()
	diff := mat.NewVecDense(m.dim, nil)
	for i := 0; i < m.dim; i++ {
		diff.SetVec(i, av[i]-bv[i])
	}
	var solved mat.VecDense
	if err := m.chol.SolveVecTo(&solved, diff); err != nil {
		return euclidean(a, b)
	}
	return math.Sqrt(mat.Dot(diff, &solved))
}

func euclidean(a, b Features) float64 {
	av, bv := a.vector(), b.vector()
	sum := 0.0
	for i := range av {
		d := av[i] - bv[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// fingerprintBonus converts a candidate's distance rank across all scored
// pairs into score points: standing out as unusually close is evidence,
// standing out as unusually far counts against.
func fingerprintBonus(distance float64, all []float64) int {
	if len(all) == 0 {
		return 0
	}
	sorted := append([]float64(nil), all...)
	sort.Float64s(sorted)

	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)

	switch {
	case distance <= q1:
		return 15
	case distance <= median:
		return 10
	case distance > q3:
		return -5
	}
	return 0
}
