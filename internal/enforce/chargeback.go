package enforce

import (
	"context"
	"time"
)

// ChargebackStats are the dispute facts the chargeback scorer reads. The
// rate is disputes over total transactions, 0-1.
type ChargebackStats struct {
	Rate             float64
	TotalDisputes    int
	DisputesLast30d  int
	MaxDisputeTokens float64
}

// ChargebackProvider exposes chargeback/dispute facts for a user.
type ChargebackProvider interface {
	ChargebackStats(ctx context.Context, userID string) (ChargebackStats, error)
}

// Chargeback scoring bands. Rate bands are tiered: only the highest
// applicable band contributes.
const (
	chargebackRateHigh   = 0.05 // >5% → +50
	chargebackRateMed    = 0.02 // >2% → +30
	chargebackRateLow    = 0.01 // >1% → +15
	chargebackCountBonus = 30   // >3 chargebacks in 30 days
	largeDisputeBonus    = 20   // any dispute over largeDisputeTokens
	largeDisputeTokens   = 500
)

// Reserve tiers driven by the chargeback score.
var reserveTiers = []struct {
	minScore   int
	percentage int
	duration   time.Duration
}{
	{70, 30, 14 * 24 * time.Hour},
	{50, 20, 7 * 24 * time.Hour},
	{30, 10, 3 * 24 * time.Hour},
}

// ChargebackScore maps dispute stats to the chargeback-specific risk score.
// This scoring is distinct from the base risk score and drives reserve
// holds only.
func ChargebackScore(stats ChargebackStats) int {
	s := 0
	switch {
	case stats.Rate > chargebackRateHigh:
		s += 50
	case stats.Rate > chargebackRateMed:
		s += 30
	case stats.Rate > chargebackRateLow:
		s += 15
	}
	if stats.DisputesLast30d > 3 {
		s += chargebackCountBonus
	}
	if stats.MaxDisputeTokens > largeDisputeTokens {
		s += largeDisputeBonus
	}
	return s
}

// ReserveForScore returns the reserve percentage and freeze duration for a
// chargeback score, or (0, 0) when the score calls for monitoring only.
func ReserveForScore(chargebackScore int) (percentage int, duration time.Duration) {
	for _, tier := range reserveTiers {
		if chargebackScore >= tier.minScore {
			return tier.percentage, tier.duration
		}
	}
	return 0, 0
}
