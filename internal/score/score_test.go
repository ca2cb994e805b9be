package score

import (
	"testing"
	"time"
)

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelLow},
		{14, LevelLow},
		{15, LevelMedium},
		{34, LevelMedium},
		{35, LevelHigh},
		{69, LevelHigh},
		{70, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestBasePoints(t *testing.T) {
	tests := []struct {
		severity int
		want     float64
	}{
		{1, 2},
		{2, 5},
		{3, 10},
		{4, 20},
		{5, 40},
		{0, 0},
		{6, 0},
	}
	for _, tt := range tests {
		if got := BasePoints(tt.severity); got != tt.want {
			t.Errorf("BasePoints(%d) = %g, want %g", tt.severity, got, tt.want)
		}
	}
}

func TestDecayWeightFullWithinFirstPeriod(t *testing.T) {
	for _, age := range []time.Duration{0, time.Hour, 29 * 24 * time.Hour, 30 * 24 * time.Hour} {
		if got := DecayWeight(age); got != 1.0 {
			t.Errorf("DecayWeight(%v) = %g, want 1.0", age, got)
		}
	}
}

func TestDecayWeightHalvesPerPeriod(t *testing.T) {
	tests := []struct {
		days int
		want float64
	}{
		{31, 0.5},
		{45, 0.5},
		{60, 0.25},
		{61, 0.25},
		{90, 0.125},
	}
	for _, tt := range tests {
		age := time.Duration(tt.days) * 24 * time.Hour
		if got := DecayWeight(age); got != tt.want {
			t.Errorf("DecayWeight(%d days) = %g, want %g", tt.days, got, tt.want)
		}
	}
}

func TestDecayWeightFloor(t *testing.T) {
	for _, days := range []int{120, 365, 3650} {
		age := time.Duration(days) * 24 * time.Hour
		if got := DecayWeight(age); got != 0.1 {
			t.Errorf("DecayWeight(%d days) = %g, want floor 0.1", days, got)
		}
	}
}

func TestDecayWeightMonotonicNonIncreasing(t *testing.T) {
	prev := DecayWeight(0)
	for days := 1; days <= 400; days++ {
		w := DecayWeight(time.Duration(days) * 24 * time.Hour)
		if w > prev {
			t.Fatalf("DecayWeight increased at day %d: %g > %g", days, w, prev)
		}
		prev = w
	}
}

func TestTrustScore(t *testing.T) {
	tests := []struct {
		risk int
		want int
	}{
		{0, 100},
		{28, 72},
		{100, 0},
	}
	for _, tt := range tests {
		u := &UserRiskScore{RiskScore: tt.risk}
		if got := u.TrustScore(); got != tt.want {
			t.Errorf("TrustScore with risk %d = %d, want %d", tt.risk, got, tt.want)
		}
	}
}
