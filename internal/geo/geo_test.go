package geo

import (
	"math"
	"testing"
	"time"
)

func TestHaversineNM_KnownDistance(t *testing.T) {
	// Copenhagen to Gdansk, roughly 250 nm.
	d := HaversineNM(55.676, 12.568, 54.352, 18.646)
	if d < 200 || d > 300 {
		t.Errorf("Copenhagen-Gdansk = %.1f nm, expected ~250", d)
	}
}

func TestHaversineNM_ZeroDistance(t *testing.T) {
	if d := HaversineNM(36.0, 22.0, 36.0, 22.0); d != 0 {
		t.Errorf("identical points = %v nm, want 0", d)
	}
}

func TestHaversineNM_OneDegreeLatitude(t *testing.T) {
	// One degree of latitude is 60 nm by definition of the nautical mile.
	d := HaversineNM(0, 0, 1, 0)
	if math.Abs(d-60) > 0.2 {
		t.Errorf("1 degree latitude = %.3f nm, want ~60", d)
	}
}

func TestInitialBearing(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tol                    float64
	}{
		{"due north", 10, 20, 11, 20, 0, 0.01},
		{"due east on equator", 0, 0, 0, 1, 90, 0.01},
		{"due south", 11, 20, 10, 20, 180, 0.01},
		{"due west on equator", 0, 1, 0, 0, 270, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InitialBearing(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("InitialBearing = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeadingDelta(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{10, 350, 20},
		{350, 10, 20},
		{90, 270, 180},
		{45, 60, 15},
	}
	for _, tt := range tests {
		if got := HeadingDelta(tt.a, tt.b); got != tt.want {
			t.Errorf("HeadingDelta(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestImpliedSpeedKn(t *testing.T) {
	// 60 nm in one hour is 60 knots.
	got := ImpliedSpeedKn(0, 0, 1, 0, 3600)
	if math.Abs(got-60) > 0.3 {
		t.Errorf("ImpliedSpeedKn = %v, want ~60", got)
	}

	if !math.IsInf(ImpliedSpeedKn(0, 0, 1, 0, 0), 1) {
		t.Error("zero elapsed should imply infinite speed")
	}
}

func TestValidLatLon(t *testing.T) {
	valid := [][2]float64{{0, 0}, {90, 180}, {-90, -180}, {55.1, 24.5}}
	invalid := [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -181}}

	for _, p := range valid {
		if !ValidLatLon(p[0], p[1]) {
			t.Errorf("ValidLatLon(%v, %v) = false, want true", p[0], p[1])
		}
	}
	for _, p := range invalid {
		if ValidLatLon(p[0], p[1]) {
			t.Errorf("ValidLatLon(%v, %v) = true, want false", p[0], p[1])
		}
	}
}

func TestBoundingBox_ContainsAndExpand(t *testing.T) {
	b := BoundingBox{MinLat: 54, MinLon: 10, MaxLat: 56, MaxLon: 14}

	if !b.Contains(55, 12) {
		t.Error("point inside box not contained")
	}
	if b.Contains(56.05, 12) {
		t.Error("point outside box contained")
	}
	if !b.Expand(0.1).Contains(56.05, 12) {
		t.Error("expanded box should contain the point")
	}
}

func TestBoundingBox_IntersectsSegment(t *testing.T) {
	b := BoundingBox{MinLat: 54, MinLon: 10, MaxLat: 56, MaxLon: 14}

	// Segment crossing the box.
	if !b.IntersectsSegment(53, 9, 57, 15) {
		t.Error("crossing segment should intersect")
	}
	// Segment fully away from the box.
	if b.IntersectsSegment(40, 0, 41, 1) {
		t.Error("distant segment should not intersect")
	}
}

func TestPolygon_Contains(t *testing.T) {
	// Unit square around (55.5, 12.5).
	p := NewPolygon([]float64{55, 55, 56, 56}, []float64{12, 13, 13, 12})

	if !p.Contains(55.5, 12.5) {
		t.Error("center not contained")
	}
	if p.Contains(54.9, 12.5) {
		t.Error("outside point contained")
	}
	if p.Contains(55.5, 13.5) {
		t.Error("outside point contained")
	}
}

func TestParsePointWKT(t *testing.T) {
	tests := []struct {
		name    string
		wkt     string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{"standard lon lat", "POINT(12.568 55.676)", 55.676, 12.568, false},
		{"forced lon lat by range", "POINT(120.5 31.2)", 31.2, 120.5, false},
		{"swapped lat lon by range", "POINT(31.2 120.5)", 31.2, 120.5, false},
		{"ambiguous resolves lon lat", "POINT(22.0 36.0)", 36.0, 22.0, false},
		{"lowercase", "point(4.0 51.9)", 51.9, 4.0, false},
		{"garbage", "LINESTRING(0 0, 1 1)", 0, 0, true},
		{"missing coord", "POINT(12.5)", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon, err := ParsePointWKT(tt.wkt)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.wkt)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePointWKT(%q) error: %v", tt.wkt, err)
			}
			if lat != tt.lat || lon != tt.lon {
				t.Errorf("got (%v, %v), want (%v, %v)", lat, lon, tt.lat, tt.lon)
			}
		})
	}
}

func TestParsePolygonWKT(t *testing.T) {
	p, err := ParsePolygonWKT("POLYGON((12 55, 13 55, 13 56, 12 56, 12 55))")
	if err != nil {
		t.Fatalf("ParsePolygonWKT error: %v", err)
	}
	if len(p.Lats) != 4 {
		t.Errorf("closing vertex not dropped: %d vertices", len(p.Lats))
	}
	if !p.Contains(55.5, 12.5) {
		t.Error("parsed polygon should contain its center")
	}

	if _, err := ParsePolygonWKT("POLYGON((12 55, 13 55))"); err == nil {
		t.Error("two-vertex ring should fail")
	}
}

func TestBucket15m(t *testing.T) {
	t0 := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)

	if Bucket15m(t0) != Bucket15m(t0.Add(14*time.Minute)) {
		t.Error("times 14 minutes apart within one quarter share a bucket")
	}
	if Bucket15m(t0) == Bucket15m(t0.Add(15*time.Minute)) {
		t.Error("next quarter should be a new bucket")
	}
	if got := BucketStart(Bucket15m(t0)); !got.Equal(t0) {
		t.Errorf("BucketStart round trip = %v, want %v", got, t0)
	}
}

func TestGridCell(t *testing.T) {
	if GridCell(55.9, 12.1) != "55:12" {
		t.Errorf("GridCell = %s", GridCell(55.9, 12.1))
	}
	if GridCell(-0.5, -0.5) != "-1:-1" {
		t.Errorf("negative coordinates floor toward -inf: %s", GridCell(-0.5, -0.5))
	}
}

func TestNeighborCells(t *testing.T) {
	cells := NeighborCells(55.5, 12.5)
	if len(cells) != 9 {
		t.Fatalf("NeighborCells returned %d cells, want 9", len(cells))
	}
	found := map[string]bool{}
	for _, c := range cells {
		found[c] = true
	}
	for _, want := range []string{"55:12", "54:11", "56:13"} {
		if !found[want] {
			t.Errorf("missing neighbor %s", want)
		}
	}
}
