package score

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lumely/riskcore/internal/pagination"
	"github.com/lumely/riskcore/internal/signal"
)

// PostgresStore persists user risk scores in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed score store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user_risk_scores table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_risk_scores (
			user_id          VARCHAR(64) PRIMARY KEY,
			risk_score       SMALLINT NOT NULL CHECK (risk_score BETWEEN 0 AND 100),
			level            VARCHAR(10) NOT NULL CHECK (level IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
			signal_count     INTEGER NOT NULL DEFAULT 0,
			last_signal_type VARCHAR(30),
			last_signal_date TIMESTAMPTZ,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_user_risk_scores_level
			ON user_risk_scores (level, updated_at DESC);
	`)
	return err
}

func (s *PostgresStore) Upsert(ctx context.Context, score *UserRiskScore) error {
	var (
		lastType sql.NullString
		lastDate sql.NullTime
	)
	if score.LastSignalType != "" {
		lastType = sql.NullString{String: string(score.LastSignalType), Valid: true}
	}
	if !score.LastSignalDate.IsZero() {
		lastDate = sql.NullTime{Time: score.LastSignalDate, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_risk_scores (user_id, risk_score, level, signal_count, last_signal_type, last_signal_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			level = EXCLUDED.level,
			signal_count = EXCLUDED.signal_count,
			last_signal_type = EXCLUDED.last_signal_type,
			last_signal_date = EXCLUDED.last_signal_date,
			updated_at = EXCLUDED.updated_at
	`,
		score.UserID,
		score.RiskScore,
		string(score.Level),
		score.SignalCount,
		lastType,
		lastDate,
		score.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert risk score: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*UserRiskScore, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, risk_score, level, signal_count, last_signal_type, last_signal_date, updated_at
		FROM user_risk_scores
		WHERE user_id = $1
	`, userID)

	score, err := scanScore(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk score: %w", err)
	}
	return score, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*UserRiskScore, string, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	cursor, err := pagination.Decode(f.Cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT user_id, risk_score, level, signal_count, last_signal_type, last_signal_date, updated_at
		FROM user_risk_scores
		WHERE 1=1`
	var args []any
	if f.MinScore > 0 {
		args = append(args, f.MinScore)
		query += fmt.Sprintf(" AND risk_score >= $%d", len(args))
	}
	if f.Level != "" {
		args = append(args, string(f.Level))
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(" AND (updated_at, user_id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, user_id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list risk scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*UserRiskScore
	for rows.Next() {
		score, err := scanScore(rows.Scan)
		if err != nil {
			continue
		}
		result = append(result, score)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	page, next, _ := pagination.ComputePage(result, limit, func(sc *UserRiskScore) (time.Time, string) {
		return sc.UpdatedAt, sc.UserID
	})
	return page, next, nil
}

func scanScore(scan func(...any) error) (*UserRiskScore, error) {
	var (
		score    UserRiskScore
		level    string
		lastType sql.NullString
		lastDate sql.NullTime
	)
	if err := scan(&score.UserID, &score.RiskScore, &level, &score.SignalCount,
		&lastType, &lastDate, &score.UpdatedAt); err != nil {
		return nil, err
	}
	score.Level = Level(level)
	if lastType.Valid {
		score.LastSignalType = signal.Type(lastType.String)
	}
	if lastDate.Valid {
		score.LastSignalDate = lastDate.Time
	}
	return &score, nil
}
