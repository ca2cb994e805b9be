// Package score derives a user's risk posture from their signal history.
//
// The score is cached, derived data: it is fully recomputed from the signal
// log on every run and is never incremented in place. Recomputing twice over
// the same signals yields the same score.
package score

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/lumely/riskcore/internal/signal"
)

// ErrNotFound is returned when a user has no computed score yet.
var ErrNotFound = errors.New("score: not found")

// Level is the coarse risk bucket derived from the numeric score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Level cutoffs. Non-overlapping and ordered: a score maps to exactly one level.
const (
	CriticalCutoff = 70
	HighCutoff     = 35
	MediumCutoff   = 15
)

// severityPoints maps signal severity to base score points.
var severityPoints = map[int]float64{
	1: 2,
	2: 5,
	3: 10,
	4: 20,
	5: 40,
}

// Decay parameters: full weight for the first 30-day period, halving every
// additional 30 days, floored at 10%.
const (
	decayPeriod = 30 * 24 * time.Hour
	decayFloor  = 0.1
)

// DefaultLookback is how far back the aggregator reads signals.
const DefaultLookback = 90 * 24 * time.Hour

// UserRiskScore is the derived risk posture for one user. It is exclusively
// owned by this core; collaborators only read it.
type UserRiskScore struct {
	UserID         string      `json:"userId"`
	RiskScore      int         `json:"riskScore"` // 0-100
	Level          Level       `json:"level"`
	SignalCount    int         `json:"signalCount"`
	LastSignalType signal.Type `json:"lastSignalType,omitempty"`
	LastSignalDate time.Time   `json:"lastSignalDate,omitzero"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// TrustScore is the canonical creator-monetization trust derivation.
// It is always 100 - riskScore and is never tracked separately.
func (u *UserRiskScore) TrustScore() int {
	return 100 - u.RiskScore
}

// LevelForScore buckets a 0-100 score into a risk level.
func LevelForScore(score int) Level {
	switch {
	case score >= CriticalCutoff:
		return LevelCritical
	case score >= HighCutoff:
		return LevelHigh
	case score >= MediumCutoff:
		return LevelMedium
	default:
		return LevelLow
	}
}

// BasePoints returns the score points for a severity, 0 for out-of-range.
func BasePoints(severity int) float64 {
	return severityPoints[severity]
}

// DecayWeight returns the contribution multiplier for a signal of the given
// age: 1.0 within the first 30 days, then 0.5^floor(age/30d), never below 0.1.
func DecayWeight(age time.Duration) float64 {
	if age <= decayPeriod {
		return 1.0
	}
	periods := math.Floor(float64(age) / float64(decayPeriod))
	w := math.Pow(0.5, periods)
	if w < decayFloor {
		return decayFloor
	}
	return w
}

// Filter narrows admin score listings.
type Filter struct {
	MinScore int
	Level    Level
	Limit    int
	Cursor   string
}

// Store persists derived user risk scores.
type Store interface {
	// Upsert fully overwrites the stored score for the user.
	Upsert(ctx context.Context, s *UserRiskScore) error

	// Get returns the user's score or ErrNotFound.
	Get(ctx context.Context, userID string) (*UserRiskScore, error)

	// List returns scores for admin listings, most recently updated first.
	List(ctx context.Context, f Filter) ([]*UserRiskScore, string, error)
}
