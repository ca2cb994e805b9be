package facts

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/lumely/riskcore/internal/enforce"
)

// maxChargeSample bounds how many recent charges feed the chargeback rate.
const maxChargeSample = 100

// StripeChargebacks derives chargeback stats from Stripe charge records.
// Charges are expected to carry the platform's user id in metadata, the
// convention used by the payment surface.
type StripeChargebacks struct {
	api           *client.API
	tokensPerCent float64
}

// NewStripeChargebacks creates a Stripe-backed chargeback provider.
// tokensPerCent converts charge amounts (smallest currency unit) into
// platform tokens for the large-dispute check.
func NewStripeChargebacks(apiKey string, tokensPerCent float64) *StripeChargebacks {
	api := &client.API{}
	api.Init(apiKey, nil)
	if tokensPerCent <= 0 {
		tokensPerCent = 1
	}
	return &StripeChargebacks{api: api, tokensPerCent: tokensPerCent}
}

// ChargebackStats samples the user's recent charges and summarizes dispute
// activity.
func (s *StripeChargebacks) ChargebackStats(ctx context.Context, userID string) (enforce.ChargebackStats, error) {
	params := &stripe.ChargeSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['user_id']:'%s'", userID),
			Limit:   stripe.Int64(maxChargeSample),
			Context: ctx,
		},
	}

	var stats enforce.ChargebackStats
	total := 0
	cutoff30d := time.Now().Add(-30 * 24 * time.Hour).Unix()

	iter := s.api.Charges.Search(params)
	for iter.Next() {
		ch := iter.Charge()
		total++
		if !ch.Disputed {
			continue
		}
		stats.TotalDisputes++
		if ch.Created >= cutoff30d {
			stats.DisputesLast30d++
		}
		if tokens := float64(ch.Amount) * s.tokensPerCent; tokens > stats.MaxDisputeTokens {
			stats.MaxDisputeTokens = tokens
		}
	}
	if err := iter.Err(); err != nil {
		return enforce.ChargebackStats{}, fmt.Errorf("stripe charge search: %w", err)
	}

	if total > 0 {
		stats.Rate = float64(stats.TotalDisputes) / float64(total)
	}
	return stats, nil
}

var _ enforce.ChargebackProvider = (*StripeChargebacks)(nil)
