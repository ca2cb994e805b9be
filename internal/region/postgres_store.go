package region

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lumely/riskcore/internal/score"
)

// PostgresProfileStore persists regional profiles in PostgreSQL. The typed
// configuration is stored as a JSONB document keyed by region id: profiles
// are read-mostly and always loaded whole.
type PostgresProfileStore struct {
	db *sql.DB
}

// NewPostgresProfileStore creates a PostgreSQL-backed profile store.
func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

// Migrate creates the regional_risk_profiles table if it doesn't exist.
func (s *PostgresProfileStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS regional_risk_profiles (
			region_id   VARCHAR(32) PRIMARY KEY,
			profile     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresProfileStore) Get(ctx context.Context, regionID string) (*Profile, error) {
	var (
		profileJSON []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT profile, created_at, updated_at
		FROM regional_risk_profiles WHERE region_id = $1
	`, regionID).Scan(&profileJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get regional profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(profileJSON, &p); err != nil {
		return nil, fmt.Errorf("failed to decode regional profile: %w", err)
	}
	p.RegionID = regionID
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}

func (s *PostgresProfileStore) Upsert(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	profileJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode regional profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO regional_risk_profiles (region_id, profile, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (region_id) DO UPDATE SET
			profile = EXCLUDED.profile,
			updated_at = NOW()
	`, p.RegionID, profileJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert regional profile: %w", err)
	}
	return nil
}

func (s *PostgresProfileStore) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT region_id, profile, created_at, updated_at
		FROM regional_risk_profiles ORDER BY region_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regional profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Profile
	for rows.Next() {
		var (
			regionID    string
			profileJSON []byte
			createdAt   time.Time
			updatedAt   time.Time
		)
		if err := rows.Scan(&regionID, &profileJSON, &createdAt, &updatedAt); err != nil {
			continue
		}
		var p Profile
		if err := json.Unmarshal(profileJSON, &p); err != nil {
			continue
		}
		p.RegionID = regionID
		p.CreatedAt = createdAt
		p.UpdatedAt = updatedAt
		result = append(result, &p)
	}
	return result, rows.Err()
}

func (s *PostgresProfileStore) Delete(ctx context.Context, regionID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM regional_risk_profiles WHERE region_id = $1
	`, regionID)
	if err != nil {
		return fmt.Errorf("failed to delete regional profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// PostgresAssessmentStore persists regional assessments in PostgreSQL.
type PostgresAssessmentStore struct {
	db *sql.DB
}

// NewPostgresAssessmentStore creates a PostgreSQL-backed assessment store.
func NewPostgresAssessmentStore(db *sql.DB) *PostgresAssessmentStore {
	return &PostgresAssessmentStore{db: db}
}

// Migrate creates the regional_risk_assessments table if it doesn't exist.
func (s *PostgresAssessmentStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS regional_risk_assessments (
			user_id       VARCHAR(64) PRIMARY KEY,
			region_id     VARCHAR(32) NOT NULL,
			base_score    SMALLINT NOT NULL,
			behavior_risk INTEGER NOT NULL,
			churn_term    SMALLINT NOT NULL,
			final_score   SMALLINT NOT NULL CHECK (final_score BETWEEN 0 AND 100),
			level         VARCHAR(10) NOT NULL,
			limits        JSONB NOT NULL DEFAULT '{}',
			needs_review  BOOLEAN NOT NULL DEFAULT FALSE,
			calculated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_regional_assessments_level
			ON regional_risk_assessments (level, calculated_at DESC);
	`)
	return err
}

func (s *PostgresAssessmentStore) Upsert(ctx context.Context, a *Assessment) error {
	limitsJSON, err := json.Marshal(a.Limits)
	if err != nil {
		return fmt.Errorf("failed to encode limits: %w", err)
	}

	// needs_review is sticky across recalculations; it is cleared only via
	// SetNeedsReview.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO regional_risk_assessments
			(user_id, region_id, base_score, behavior_risk, churn_term, final_score, level, limits, needs_review, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			region_id = EXCLUDED.region_id,
			base_score = EXCLUDED.base_score,
			behavior_risk = EXCLUDED.behavior_risk,
			churn_term = EXCLUDED.churn_term,
			final_score = EXCLUDED.final_score,
			level = EXCLUDED.level,
			limits = EXCLUDED.limits,
			needs_review = regional_risk_assessments.needs_review OR EXCLUDED.needs_review,
			calculated_at = EXCLUDED.calculated_at
	`,
		a.UserID, a.RegionID, a.BaseScore, a.BehaviorRisk, a.ChurnTerm,
		a.FinalScore, string(a.Level), limitsJSON, a.NeedsReview, a.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert regional assessment: %w", err)
	}
	return nil
}

func (s *PostgresAssessmentStore) Get(ctx context.Context, userID string) (*Assessment, error) {
	var (
		a          Assessment
		level      string
		limitsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, region_id, base_score, behavior_risk, churn_term, final_score, level, limits, needs_review, calculated_at
		FROM regional_risk_assessments WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.RegionID, &a.BaseScore, &a.BehaviorRisk, &a.ChurnTerm,
		&a.FinalScore, &level, &limitsJSON, &a.NeedsReview, &a.CalculatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get regional assessment: %w", err)
	}
	a.Level = score.Level(level)
	_ = json.Unmarshal(limitsJSON, &a.Limits)
	return &a, nil
}

func (s *PostgresAssessmentStore) SetNeedsReview(ctx context.Context, userID string, needsReview bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE regional_risk_assessments SET needs_review = $2 WHERE user_id = $1
	`, userID, needsReview)
	if err != nil {
		return fmt.Errorf("failed to update review flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAssessmentNotFound
	}
	return nil
}
