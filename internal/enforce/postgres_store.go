package enforce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists enforcement records in PostgreSQL. Freeze/reserve
// writes and the paired payout status mutation run in one transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed enforcement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the enforcement tables if they don't exist. The payouts
// table is owned by the payout service; it is created here only so
// standalone deployments and tests have the columns this store touches.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payout_freezes (
			id          VARCHAR(64) PRIMARY KEY,
			user_id     VARCHAR(64) NOT NULL,
			reason      TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ NOT NULL,
			status      VARCHAR(10) NOT NULL CHECK (status IN ('active', 'expired'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_payout_freezes_active_user
			ON payout_freezes (user_id) WHERE status = 'active';

		CREATE INDEX IF NOT EXISTS idx_payout_freezes_expiry
			ON payout_freezes (expires_at) WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS reserve_holds (
			id          VARCHAR(64) PRIMARY KEY,
			user_id     VARCHAR(64) NOT NULL,
			percentage  SMALLINT NOT NULL CHECK (percentage BETWEEN 1 AND 100),
			reason      TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ NOT NULL,
			status      VARCHAR(10) NOT NULL CHECK (status IN ('active', 'expired'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_reserve_holds_active_user
			ON reserve_holds (user_id) WHERE status = 'active';

		CREATE INDEX IF NOT EXISTS idx_reserve_holds_expiry
			ON reserve_holds (expires_at) WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS payouts (
			id          VARCHAR(64) PRIMARY KEY,
			user_id     VARCHAR(64) NOT NULL,
			status      VARCHAR(10) NOT NULL DEFAULT 'pending'
		);

		CREATE INDEX IF NOT EXISTS idx_payouts_user_status
			ON payouts (user_id, status);
	`)
	return err
}

func (s *PostgresStore) ApplyFreeze(ctx context.Context, f *Freeze) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Refresh the active freeze if one exists, otherwise insert.
		res, err := tx.ExecContext(ctx, `
			UPDATE payout_freezes SET expires_at = $2, reason = $3
			WHERE user_id = $1 AND status = 'active'
		`, f.UserID, f.ExpiresAt, f.Reason)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO payout_freezes (id, user_id, reason, applied_at, expires_at, status)
				VALUES ($1, $2, $3, $4, $5, 'active')
			`, f.ID, f.UserID, f.Reason, f.AppliedAt, f.ExpiresAt); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE payouts SET status = 'frozen'
			WHERE user_id = $1 AND status = 'pending'
		`, f.UserID)
		return err
	})
}

func (s *PostgresStore) ReleaseFreeze(ctx context.Context, freezeID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var userID string
		err := tx.QueryRowContext(ctx, `
			UPDATE payout_freezes SET status = 'expired'
			WHERE id = $1 AND status = 'active'
			RETURNING user_id
		`, freezeID).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE payouts SET status = 'pending'
			WHERE user_id = $1 AND status = 'frozen'
		`, userID)
		return err
	})
}

func (s *PostgresStore) ActiveFreeze(ctx context.Context, userID string) (*Freeze, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, reason, applied_at, expires_at, status
		FROM payout_freezes
		WHERE user_id = $1 AND status = 'active'
	`, userID)
	return scanFreeze(row.Scan)
}

func (s *PostgresStore) ExpiredFreezes(ctx context.Context, now time.Time, limit int) ([]*Freeze, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, reason, applied_at, expires_at, status
		FROM payout_freezes
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired freezes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Freeze
	for rows.Next() {
		f, err := scanFreeze(rows.Scan)
		if err != nil {
			continue
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ApplyReserve(ctx context.Context, r *Reserve) error {
	if r.Percentage < 1 || r.Percentage > 100 {
		return ErrInvalidPercent
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Refresh without ever weakening the active hold.
		res, err := tx.ExecContext(ctx, `
			UPDATE reserve_holds SET
				percentage = GREATEST(percentage, $2),
				expires_at = GREATEST(expires_at, $3)
			WHERE user_id = $1 AND status = 'active'
		`, r.UserID, r.Percentage, r.ExpiresAt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reserve_holds (id, user_id, percentage, reason, applied_at, expires_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'active')
		`, r.ID, r.UserID, r.Percentage, r.Reason, r.AppliedAt, r.ExpiresAt)
		return err
	})
}

func (s *PostgresStore) ReleaseReserve(ctx context.Context, reserveID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reserve_holds SET status = 'expired'
		WHERE id = $1 AND status = 'active'
	`, reserveID)
	if err != nil {
		return fmt.Errorf("failed to release reserve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ActiveReserve(ctx context.Context, userID string) (*Reserve, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, percentage, reason, applied_at, expires_at, status
		FROM reserve_holds
		WHERE user_id = $1 AND status = 'active'
	`, userID)
	return scanReserve(row.Scan)
}

func (s *PostgresStore) ExpiredReserves(ctx context.Context, now time.Time, limit int) ([]*Reserve, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, percentage, reason, applied_at, expires_at, status
		FROM reserve_holds
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reserves: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Reserve
	for rows.Next() {
		r, err := scanReserve(rows.Scan)
		if err != nil {
			continue
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanFreeze(scan func(...any) error) (*Freeze, error) {
	var (
		f      Freeze
		status string
	)
	err := scan(&f.ID, &f.UserID, &f.Reason, &f.AppliedAt, &f.ExpiresAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan freeze: %w", err)
	}
	f.Status = Status(status)
	return &f, nil
}

func scanReserve(scan func(...any) error) (*Reserve, error) {
	var (
		r      Reserve
		status string
	)
	err := scan(&r.ID, &r.UserID, &r.Percentage, &r.Reason, &r.AppliedAt, &r.ExpiresAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reserve: %w", err)
	}
	r.Status = Status(status)
	return &r, nil
}
