package enforce

import (
	"testing"
	"time"
)

func TestChargebackScoreRateBands(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{0, 0},
		{0.01, 0},    // exactly 1% is below the lowest band
		{0.015, 15},  // >1%
		{0.02, 15},   // exactly 2% stays in the low band
		{0.03, 30},   // >2%
		{0.05, 30},   // exactly 5% stays in the medium band
		{0.06, 50},   // >5%
		{0.65, 50},   // bands are tiered, not cumulative
	}
	for _, tt := range tests {
		got := ChargebackScore(ChargebackStats{Rate: tt.rate})
		if got != tt.want {
			t.Errorf("ChargebackScore(rate=%g) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestChargebackScoreBonuses(t *testing.T) {
	// Count bonus needs more than 3 disputes in 30 days.
	if got := ChargebackScore(ChargebackStats{DisputesLast30d: 3}); got != 0 {
		t.Errorf("3 disputes scored %d, want 0", got)
	}
	if got := ChargebackScore(ChargebackStats{DisputesLast30d: 4}); got != 30 {
		t.Errorf("4 disputes scored %d, want 30", got)
	}

	// Large dispute bonus needs more than 500 tokens.
	if got := ChargebackScore(ChargebackStats{MaxDisputeTokens: 500}); got != 0 {
		t.Errorf("500-token dispute scored %d, want 0", got)
	}
	if got := ChargebackScore(ChargebackStats{MaxDisputeTokens: 501}); got != 20 {
		t.Errorf("501-token dispute scored %d, want 20", got)
	}

	// All three components stack.
	got := ChargebackScore(ChargebackStats{
		Rate:             0.10,
		DisputesLast30d:  10,
		MaxDisputeTokens: 900,
	})
	if got != 100 {
		t.Errorf("stacked score = %d, want 100 (50+30+20)", got)
	}
}

func TestReserveForScore(t *testing.T) {
	tests := []struct {
		score    int
		percent  int
		duration time.Duration
	}{
		{0, 0, 0},
		{29, 0, 0},
		{30, 10, 3 * 24 * time.Hour},
		{49, 10, 3 * 24 * time.Hour},
		{50, 20, 7 * 24 * time.Hour},
		{69, 20, 7 * 24 * time.Hour},
		{70, 30, 14 * 24 * time.Hour},
		{100, 30, 14 * 24 * time.Hour},
	}
	for _, tt := range tests {
		percent, duration := ReserveForScore(tt.score)
		if percent != tt.percent || duration != tt.duration {
			t.Errorf("ReserveForScore(%d) = %d%%/%v, want %d%%/%v",
				tt.score, percent, duration, tt.percent, tt.duration)
		}
	}
}

func TestReserveForScoreMonotonic(t *testing.T) {
	prevPercent := 0
	for s := 0; s <= 100; s++ {
		percent, _ := ReserveForScore(s)
		if percent < prevPercent {
			t.Fatalf("reserve percentage decreased at score %d: %d < %d", s, percent, prevPercent)
		}
		prevPercent = percent
	}
}
