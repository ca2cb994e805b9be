// Package facts supplies the read-only domain facts the risk core consumes
// from its collaborators: session durations, cancellation and refund counts,
// payout attempts, safety reports, panic triggers, audit events, churn risk,
// and chargeback stats.
//
// The core only ever sees already-extracted counts and timestamps through
// the consumer-side interfaces (detector.Providers, region.AuditProvider,
// enforce.ChargebackProvider). This package provides a recorded in-memory
// implementation for demo mode and tests, and a Stripe-backed chargeback
// provider for deployments where disputes live in Stripe.
package facts

import (
	"context"
	"sync"
	"time"

	"github.com/lumely/riskcore/internal/detector"
	"github.com/lumely/riskcore/internal/enforce"
	"github.com/lumely/riskcore/internal/region"
)

// Recorder is an in-memory fact source fed by explicit Record* calls. It
// implements every provider interface the core consumes.
type Recorder struct {
	mu            sync.RWMutex
	sessions      map[string][]detector.SessionFact
	cancels       map[string][]time.Time
	refunds       map[string][]refundFact
	payouts       map[string][]time.Time
	reporters     map[string]map[string]time.Time // userID → reporterID → last report
	panics        map[string][]time.Time
	behavior      map[string]region.BehaviorCounts
	churn         map[string]float64
	chargebacks   map[string]enforce.ChargebackStats
}

type refundFact struct {
	at       time.Time
	refunded bool
}

// NewRecorder creates an empty fact recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		sessions:    make(map[string][]detector.SessionFact),
		cancels:     make(map[string][]time.Time),
		refunds:     make(map[string][]refundFact),
		payouts:     make(map[string][]time.Time),
		reporters:   make(map[string]map[string]time.Time),
		panics:      make(map[string][]time.Time),
		behavior:    make(map[string]region.BehaviorCounts),
		churn:       make(map[string]float64),
		chargebacks: make(map[string]enforce.ChargebackStats),
	}
}

// Providers returns the detector provider bundle backed by this recorder.
func (r *Recorder) Providers() detector.Providers {
	return detector.Providers{
		Sessions: r,
		Bookings: r,
		Payouts:  r,
		Reports:  r,
		Panics:   r,
	}
}

// RecordSession records one paid session.
func (r *Recorder) RecordSession(userID string, f detector.SessionFact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = append(r.sessions[userID], f)
}

// RecordCancellation records a creator-initiated booking cancellation.
func (r *Recorder) RecordCancellation(userID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[userID] = append(r.cancels[userID], at)
}

// RecordBooking records a completed booking and whether it was refunded.
func (r *Recorder) RecordBooking(userID string, at time.Time, refunded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunds[userID] = append(r.refunds[userID], refundFact{at: at, refunded: refunded})
}

// RecordPayoutAttempt records one payout attempt.
func (r *Recorder) RecordPayoutAttempt(userID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payouts[userID] = append(r.payouts[userID], at)
}

// RecordIdentityReport records an identity-fraud report against userID.
func (r *Recorder) RecordIdentityReport(userID, reporterID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reporters[userID] == nil {
		r.reporters[userID] = make(map[string]time.Time)
	}
	r.reporters[userID][reporterID] = at
}

// RecordPanic records a panic trigger.
func (r *Recorder) RecordPanic(userID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panics[userID] = append(r.panics[userID], at)
}

// SetBehavior sets the audit-style behavior counts for a user.
func (r *Recorder) SetBehavior(userID string, counts region.BehaviorCounts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behavior[userID] = counts
}

// SetChurnRisk sets the churn-risk indicator (0-1) for a user.
func (r *Recorder) SetChurnRisk(userID string, churn float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.churn[userID] = churn
}

// SetChargebackStats sets the dispute stats for a user.
func (r *Recorder) SetChargebackStats(userID string, stats enforce.ChargebackStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chargebacks[userID] = stats
}

// --- detector providers ---

func (r *Recorder) PaidSessions(ctx context.Context, userID string, since time.Time) ([]detector.SessionFact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []detector.SessionFact
	for _, f := range r.sessions[userID] {
		if !f.StartedAt.Before(since) {
			result = append(result, f)
		}
	}
	return result, nil
}

func (r *Recorder) CreatorCancellations(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return countSince(r.cancels[userID], since), nil
}

func (r *Recorder) RefundStats(ctx context.Context, userID string, since time.Time) (refunded, total int, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.refunds[userID] {
		if f.at.Before(since) {
			continue
		}
		total++
		if f.refunded {
			refunded++
		}
	}
	return refunded, total, nil
}

func (r *Recorder) PayoutAttempts(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return countSince(r.payouts[userID], since), nil
}

func (r *Recorder) DistinctIdentityReporters(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, at := range r.reporters[userID] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *Recorder) PanicTriggers(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return countSince(r.panics[userID], since), nil
}

// --- region providers ---

func (r *Recorder) BehaviorCounts(ctx context.Context, userID string) (region.BehaviorCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.behavior[userID], nil
}

func (r *Recorder) ChurnRisk(ctx context.Context, userID string) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.churn[userID], nil
}

// --- enforce provider ---

func (r *Recorder) ChargebackStats(ctx context.Context, userID string) (enforce.ChargebackStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chargebacks[userID], nil
}

func countSince(times []time.Time, since time.Time) int {
	count := 0
	for _, at := range times {
		if !at.Before(since) {
			count++
		}
	}
	return count
}

// Compile-time interface checks.
var (
	_ detector.SessionProvider   = (*Recorder)(nil)
	_ detector.BookingProvider   = (*Recorder)(nil)
	_ detector.PayoutProvider    = (*Recorder)(nil)
	_ detector.ReportProvider    = (*Recorder)(nil)
	_ detector.PanicProvider     = (*Recorder)(nil)
	_ region.AuditProvider       = (*Recorder)(nil)
	_ region.ChurnProvider       = (*Recorder)(nil)
	_ enforce.ChargebackProvider = (*Recorder)(nil)
)
