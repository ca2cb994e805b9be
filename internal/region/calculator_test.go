package region

import (
	"context"
	"errors"
	"testing"

	"github.com/lumely/riskcore/internal/score"
)

type staticAudit struct {
	counts BehaviorCounts
	err    error
}

func (a staticAudit) BehaviorCounts(ctx context.Context, userID string) (BehaviorCounts, error) {
	return a.counts, a.err
}

type staticChurn struct {
	churn float64
	err   error
}

func (c staticChurn) ChurnRisk(ctx context.Context, userID string) (float64, error) {
	return c.churn, c.err
}

func seedScore(t *testing.T, scores score.Store, userID string, riskScore int) {
	t.Helper()
	err := scores.Upsert(context.Background(), &score.UserRiskScore{
		UserID:    userID,
		RiskScore: riskScore,
		Level:     score.LevelForScore(riskScore),
	})
	if err != nil {
		t.Fatalf("seed score: %v", err)
	}
}

func TestCalculateAppliesMultiplier(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()

	profile := DefaultProfile("br")
	profile.FraudMultiplier = 1.5
	if err := profiles.Upsert(context.Background(), profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	seedScore(t, scores, "u1", 20)

	calc := NewCalculator(scores, profiles, assessments, nil, nil, nil)
	a, err := calc.Calculate(context.Background(), "u1", "br")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if a.FinalScore != 30 {
		t.Errorf("final score = %d, want 30 (20 * 1.5)", a.FinalScore)
	}
	if a.BaseScore != 20 {
		t.Errorf("base score = %d, want 20", a.BaseScore)
	}
	if a.Level != score.LevelMedium {
		t.Errorf("level = %s, want MEDIUM at 30 with default cutoffs", a.Level)
	}
}

func TestCalculateBehaviorRiskWeights(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()
	seedScore(t, scores, "u1", 10)

	audit := staticAudit{counts: BehaviorCounts{
		SuspiciousLogins:  2, // 10
		DeviceChanges:     1, // 3
		ThirdPartyReports: 1, // 10
		Chargebacks:       1, // 20
	}}

	calc := NewCalculator(scores, profiles, assessments, audit, nil, nil)
	a, err := calc.Calculate(context.Background(), "u1", "global")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if a.BehaviorRisk != 43 {
		t.Errorf("behavior risk = %d, want 43", a.BehaviorRisk)
	}
	if a.FinalScore != 53 {
		t.Errorf("final score = %d, want 53 (10 + 43)", a.FinalScore)
	}
}

func TestCalculateChurnTerm(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()
	seedScore(t, scores, "u1", 10)

	calc := NewCalculator(scores, profiles, assessments, nil, staticChurn{churn: 0.8}, nil)
	a, err := calc.Calculate(context.Background(), "u1", "global")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if a.ChurnTerm != 8 {
		t.Errorf("churn term = %d, want 8 (0.8 * 10)", a.ChurnTerm)
	}
	if a.FinalScore != 18 {
		t.Errorf("final score = %d, want 18", a.FinalScore)
	}
}

func TestCalculateChurnClamped(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()
	seedScore(t, scores, "u1", 0)

	calc := NewCalculator(scores, profiles, assessments, nil, staticChurn{churn: 7.5}, nil)
	a, err := calc.Calculate(context.Background(), "u1", "global")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if a.ChurnTerm != 10 {
		t.Errorf("churn term = %d, want clamped 10", a.ChurnTerm)
	}
}

func TestCalculateClampsAtHundred(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()

	profile := DefaultProfile("hr")
	profile.FraudMultiplier = 5.0
	if err := profiles.Upsert(context.Background(), profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	seedScore(t, scores, "u1", 90)

	audit := staticAudit{counts: BehaviorCounts{ThirdPartyReports: 50}} // behavior 500

	calc := NewCalculator(scores, profiles, assessments, audit, staticChurn{churn: 1}, nil)
	a, err := calc.Calculate(context.Background(), "u1", "hr")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if a.FinalScore != 100 {
		t.Errorf("final score = %d, want clamped 100", a.FinalScore)
	}
	if a.Level != score.LevelCritical {
		t.Errorf("level = %s, want CRITICAL", a.Level)
	}
	if a.Limits[ActionMonetization] != 0 {
		t.Errorf("monetization limit = %d, want 0 at CRITICAL", a.Limits[ActionMonetization])
	}
}

func TestCalculateMissingProfileUsesDefaults(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()
	seedScore(t, scores, "u1", 40)

	calc := NewCalculator(scores, profiles, assessments, nil, nil, nil)
	a, err := calc.Calculate(context.Background(), "u1", "nowhere")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if a.FinalScore != 40 {
		t.Errorf("final score = %d, want raw base 40 with neutral multiplier", a.FinalScore)
	}
	if a.RegionID != "nowhere" {
		t.Errorf("region id = %s, want nowhere", a.RegionID)
	}
}

func TestCalculateMissingBaseScoreIsZero(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()

	calc := NewCalculator(scores, profiles, assessments, nil, nil, nil)
	a, err := calc.Calculate(context.Background(), "unknown-user", "global")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if a.BaseScore != 0 || a.FinalScore != 0 {
		t.Errorf("scores = %d/%d, want 0/0 for unknown user", a.BaseScore, a.FinalScore)
	}
	if a.Level != score.LevelLow {
		t.Errorf("level = %s, want LOW", a.Level)
	}
}

func TestCalculateProviderFailuresDegradeToZero(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()
	seedScore(t, scores, "u1", 30)

	audit := staticAudit{err: errors.New("audit service down")}
	churn := staticChurn{err: errors.New("churn model down")}

	calc := NewCalculator(scores, profiles, assessments, audit, churn, nil)
	a, err := calc.Calculate(context.Background(), "u1", "global")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if a.BehaviorRisk != 0 || a.ChurnTerm != 0 {
		t.Errorf("terms = %d/%d, want 0/0 when providers fail", a.BehaviorRisk, a.ChurnTerm)
	}
	if a.FinalScore != 30 {
		t.Errorf("final score = %d, want base 30", a.FinalScore)
	}
}

func TestCalculatePersistsAssessment(t *testing.T) {
	scores := score.NewMemoryStore()
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()
	seedScore(t, scores, "u1", 55)

	calc := NewCalculator(scores, profiles, assessments, nil, nil, nil)
	if _, err := calc.Calculate(context.Background(), "u1", "global"); err != nil {
		t.Fatalf("calculate: %v", err)
	}

	stored, err := assessments.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get persisted assessment: %v", err)
	}
	if stored.FinalScore != 55 || stored.Level != score.LevelHigh {
		t.Errorf("persisted = %d/%s, want 55/HIGH", stored.FinalScore, stored.Level)
	}
	if stored.CalculatedAt.IsZero() {
		t.Error("calculated-at not set")
	}
}
