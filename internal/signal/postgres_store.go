package signal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lumely/riskcore/internal/pagination"
)

// PostgresStore persists signals in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed signal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_signals table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_signals (
			id           VARCHAR(64) PRIMARY KEY,
			user_id      VARCHAR(64) NOT NULL,
			source       VARCHAR(20) NOT NULL,
			signal_type  VARCHAR(30) NOT NULL,
			severity     SMALLINT NOT NULL CHECK (severity BETWEEN 1 AND 5),
			context_ref  TEXT NOT NULL DEFAULT '',
			metadata     JSONB NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_signals_user
			ON risk_signals (user_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_signals_user_type
			ON risk_signals (user_id, signal_type, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_signals_created
			ON risk_signals (created_at);
	`)
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, sig *Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	metadataJSON, err := json.Marshal(sig.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_signals (id, user_id, source, signal_type, severity, context_ref, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		sig.ID,
		sig.UserID,
		string(sig.Source),
		string(sig.Type),
		sig.Severity,
		sig.ContextRef,
		metadataJSON,
		sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*Signal, error) {
	query := `
		SELECT id, user_id, source, signal_type, severity, context_ref, metadata, created_at
		FROM risk_signals
		WHERE user_id = $1`
	args := []any{userID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSignals(rows)
}

func (s *PostgresStore) CountByUserAndType(ctx context.Context, userID string, t Type, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM risk_signals
		WHERE user_id = $1 AND signal_type = $2 AND created_at >= $3
	`, userID, string(t), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DistinctUsers(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM risk_signals
		WHERE created_at >= $1
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Signal, string, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	cursor, err := pagination.Decode(f.Cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT id, user_id, source, signal_type, severity, context_ref, metadata, created_at
		FROM risk_signals
		WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}
	if f.UserID != "" {
		add(" AND user_id = $%d", f.UserID)
	}
	if f.Type != "" {
		add(" AND signal_type = $%d", string(f.Type))
	}
	if f.MinSeverity > 0 {
		add(" AND severity >= $%d", f.MinSeverity)
	}
	if !f.From.IsZero() {
		add(" AND created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add(" AND created_at < $%d", f.To)
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list signals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	signals, err := scanSignals(rows)
	if err != nil {
		return nil, "", err
	}

	page, next, _ := pagination.ComputePage(signals, limit, func(sig *Signal) (time.Time, string) {
		return sig.CreatedAt, sig.ID
	})
	return page, next, nil
}

func (s *PostgresStore) Stats(ctx context.Context, from, to time.Time) (*Stats, error) {
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = time.Now().Add(time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_type, severity, COUNT(*)
		FROM risk_signals
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY signal_type, severity
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate signal stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &Stats{
		ByType:     make(map[Type]int64),
		BySeverity: make(map[string]int64),
	}
	for rows.Next() {
		var (
			sigType  string
			severity int
			count    int64
		)
		if err := rows.Scan(&sigType, &severity, &count); err != nil {
			continue
		}
		stats.Total += count
		stats.ByType[Type(sigType)] += count
		stats.BySeverity[strconv.Itoa(severity)] += count
	}
	return stats, rows.Err()
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM risk_signals WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanSignals(rows *sql.Rows) ([]*Signal, error) {
	var result []*Signal
	for rows.Next() {
		var (
			sig          Signal
			source       string
			sigType      string
			metadataJSON []byte
		)
		if err := rows.Scan(&sig.ID, &sig.UserID, &source, &sigType, &sig.Severity,
			&sig.ContextRef, &metadataJSON, &sig.CreatedAt); err != nil {
			continue
		}
		sig.Source = Source(source)
		sig.Type = Type(sigType)
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &sig.Metadata)
		}
		result = append(result, &sig)
	}
	return result, rows.Err()
}
