// Package region holds per-region risk configuration and the regional risk
// modifier that folds a user's base score, regional fraud base rate, and
// behavior signals into the final enforced score.
package region

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumely/riskcore/internal/score"
)

// Errors
var (
	ErrProfileNotFound    = errors.New("region: profile not found")
	ErrAssessmentNotFound = errors.New("region: assessment not found")
)

// Default level cutoffs for regional assessments (region-configurable).
const (
	DefaultMediumCutoff   = 25
	DefaultHighCutoff     = 50
	DefaultCriticalCutoff = 75
)

// Default enforcement score cutoffs.
const (
	DefaultSuspiciousActivityScore = 50
	DefaultAutoBlockScore          = 70
)

// lowLevelLimit is the generous fixed daily ceiling applied when a user's
// regional level is LOW, regardless of the region's defaults.
const lowLevelLimit = 1000

// Rate-limited actions with per-day limits.
const (
	ActionSwipe        = "swipe"
	ActionChat         = "chat"
	ActionMonetization = "monetization"
)

// PatternControl is a per-pattern weight/threshold pair in a regional profile.
type PatternControl struct {
	Weight    float64 `json:"weight"`
	Threshold int     `json:"threshold"`
}

// LevelCutoffs buckets a regional score into a level. Must be ordered:
// Medium < High < Critical.
type LevelCutoffs struct {
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

// Monitoring configures how closely a region is watched.
type Monitoring struct {
	Level          string `json:"level"` // "standard", "elevated", "intensive"
	AlertThreshold int    `json:"alertThreshold"`
}

// FraudPatterns records observed regional fraud characteristics. Maintained
// by admin action from offline analysis.
type FraudPatterns struct {
	PeakHours      []int    `json:"peakHours,omitempty"` // 0-23 UTC
	FlaggedIPs     []string `json:"flaggedIps,omitempty"`
	FlaggedDevices []string `json:"flaggedDevices,omitempty"`
}

// Profile is the per-region risk configuration. Mutated only by admin
// action; read-mostly from the engine's perspective.
type Profile struct {
	RegionID        string                    `json:"regionId"`
	BaseRiskLevel   score.Level               `json:"baseRiskLevel"`
	FraudMultiplier float64                   `json:"fraudMultiplier"`
	Patterns        map[string]PatternControl `json:"patterns,omitempty"`

	// Detection thresholds.
	SwipeLimit              int `json:"swipeLimit"`
	ChatLimit               int `json:"chatLimit"`
	SessionLimit            int `json:"sessionLimit"`
	SuspiciousActivityScore int `json:"suspiciousActivityScore"`
	AutoBlockScore          int `json:"autoBlockScore"`

	// Trust / verification requirements.
	RequireVerification  bool `json:"requireVerification"`
	MinMonetizationTrust int  `json:"minMonetizationTrust"`

	Cutoffs       LevelCutoffs   `json:"cutoffs"`
	BaseLimits    map[string]int `json:"baseLimits"` // action → default daily limit
	Monitoring    Monitoring     `json:"monitoring"`
	FraudPatterns FraudPatterns  `json:"fraudPatterns"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultProfile returns the neutral configuration used when a region has no
// stored profile: multiplier 1, default cutoffs and limits. A missing
// profile is a configuration gap, not an error.
func DefaultProfile(regionID string) *Profile {
	return &Profile{
		RegionID:                regionID,
		BaseRiskLevel:           score.LevelLow,
		FraudMultiplier:         1.0,
		SwipeLimit:              200,
		ChatLimit:               100,
		SessionLimit:            50,
		SuspiciousActivityScore: DefaultSuspiciousActivityScore,
		AutoBlockScore:          DefaultAutoBlockScore,
		MinMonetizationTrust:    30,
		Cutoffs: LevelCutoffs{
			Medium:   DefaultMediumCutoff,
			High:     DefaultHighCutoff,
			Critical: DefaultCriticalCutoff,
		},
		BaseLimits: map[string]int{
			ActionSwipe:        200,
			ActionChat:         100,
			ActionMonetization: 20,
		},
		Monitoring: Monitoring{Level: "standard", AlertThreshold: 80},
	}
}

// Validate checks admin-supplied profile fields.
func (p *Profile) Validate() error {
	if p.RegionID == "" {
		return fmt.Errorf("region: regionId is required")
	}
	if p.FraudMultiplier < 0 {
		return fmt.Errorf("region: fraudMultiplier must be >= 0, got %g", p.FraudMultiplier)
	}
	c := p.Cutoffs
	if c.Medium <= 0 || c.High <= c.Medium || c.Critical <= c.High {
		return fmt.Errorf("region: cutoffs must be ordered 0 < medium < high < critical")
	}
	if p.AutoBlockScore < p.SuspiciousActivityScore {
		return fmt.Errorf("region: autoBlockScore must be >= suspiciousActivityScore")
	}
	for action, limit := range p.BaseLimits {
		if limit < 0 {
			return fmt.Errorf("region: base limit for %q must be >= 0", action)
		}
	}
	return nil
}

// LevelFor buckets a regional score using this profile's cutoffs.
func (p *Profile) LevelFor(s int) score.Level {
	switch {
	case s >= p.Cutoffs.Critical:
		return score.LevelCritical
	case s >= p.Cutoffs.High:
		return score.LevelHigh
	case s >= p.Cutoffs.Medium:
		return score.LevelMedium
	default:
		return score.LevelLow
	}
}

// RecommendedLimits scales the region's base daily limits down as the level
// worsens: LOW gets a generous fixed ceiling, MEDIUM the region default,
// HIGH half of it, CRITICAL zero (hard block).
func (p *Profile) RecommendedLimits(level score.Level) map[string]int {
	limits := make(map[string]int, len(p.BaseLimits))
	for action, base := range p.BaseLimits {
		switch level {
		case score.LevelLow:
			limits[action] = lowLevelLimit
		case score.LevelMedium:
			limits[action] = base
		case score.LevelHigh:
			limits[action] = base / 2
		default: // CRITICAL
			limits[action] = 0
		}
	}
	return limits
}

// Assessment is the persisted outcome of a regional risk calculation, keyed
// by user. This is the value the policy engine and rate-limiting
// collaborators read.
type Assessment struct {
	UserID       string         `json:"userId"`
	RegionID     string         `json:"regionId"`
	BaseScore    int            `json:"baseScore"`
	BehaviorRisk int            `json:"behaviorRisk"`
	ChurnTerm    int            `json:"churnTerm"`
	FinalScore   int            `json:"finalScore"`
	Level        score.Level    `json:"level"`
	Limits       map[string]int `json:"limits"`
	NeedsReview  bool           `json:"needsReview"`
	CalculatedAt time.Time      `json:"calculatedAt"`
}

// ProfileStore persists regional profiles.
type ProfileStore interface {
	Get(ctx context.Context, regionID string) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
	List(ctx context.Context) ([]*Profile, error)
	Delete(ctx context.Context, regionID string) error
}

// AssessmentStore persists regional assessments keyed by user.
type AssessmentStore interface {
	Upsert(ctx context.Context, a *Assessment) error
	Get(ctx context.Context, userID string) (*Assessment, error)
	SetNeedsReview(ctx context.Context, userID string, needsReview bool) error
}
