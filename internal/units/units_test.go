package units

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name   string
		kn     float64
		target string
		want   float64
	}{
		{"knots identity", 12.5, Knots, 12.5},
		{"to mps", 10, MPS, 5.1444},
		{"to kmph", 10, KMPH, 18.52},
		{"unknown unit falls back to knots", 7, "furlongs", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertSpeed(tt.kn, tt.target)
			if !almostEqual(got, tt.want, 0.001) {
				t.Errorf("ConvertSpeed(%v, %s) = %v, want %v", tt.kn, tt.target, got, tt.want)
			}
		})
	}
}

func TestIsValidSpeedUnit(t *testing.T) {
	for _, u := range ValidSpeedUnits {
		if !IsValidSpeedUnit(u) {
			t.Errorf("IsValidSpeedUnit(%q) = false, want true", u)
		}
	}
	if IsValidSpeedUnit("mph") {
		t.Error("mph is not a nautical unit")
	}
}

func TestNMConversions(t *testing.T) {
	if !almostEqual(NMToKM(1), 1.852, 1e-9) {
		t.Errorf("NMToKM(1) = %v", NMToKM(1))
	}
	if !almostEqual(MetersToNM(1852), 1, 1e-9) {
		t.Errorf("MetersToNM(1852) = %v", MetersToNM(1852))
	}
}
