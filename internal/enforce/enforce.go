// Package enforce applies protective actions derived from risk scores:
// payout freezes, reserve holds, and per-action limits.
//
// Enforcement is asynchronous by design: it restricts future actions and
// never blocks the user action that produced a signal. The freeze/reserve
// record and the corresponding payout status mutation are applied in a
// single transaction, so a user is always either fully in or fully out of
// an enforcement state.
package enforce

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound       = errors.New("enforce: not found")
	ErrInvalidPercent = errors.New("enforce: reserve percentage must be 1-100")
)

// Status of an enforcement record.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Generic user-facing reason strings. End users never see engine internals,
// only the downstream effect.
const (
	ReasonSecurityConcerns     = "Account suspended due to security concerns"
	ReasonVerificationRequired = "Account requires verification before monetization"
	ReasonDailyLimitReached    = "Daily limit reached"
)

// DefaultFreezeDuration is the payout freeze window applied on auto-block.
const DefaultFreezeDuration = 14 * 24 * time.Hour

// Freeze suspends payout processing for a user until it expires.
type Freeze struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Reason    string    `json:"reason"`
	AppliedAt time.Time `json:"appliedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Status    Status    `json:"status"`
}

// Reserve withholds a percentage of payouts for a fixed duration as a
// chargeback buffer.
type Reserve struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Percentage int       `json:"percentage"` // 1-100
	Reason     string    `json:"reason"`
	AppliedAt  time.Time `json:"appliedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Status     Status    `json:"status"`
}

// Store persists enforcement records and performs the paired payout status
// mutation atomically with them. Payout records are externally owned; only
// their status transitions pending↔frozen here.
type Store interface {
	// ApplyFreeze inserts (or refreshes, when an active freeze exists for
	// the user) a freeze and marks the user's pending payouts frozen in the
	// same transaction.
	ApplyFreeze(ctx context.Context, f *Freeze) error

	// ReleaseFreeze marks the freeze expired and restores the user's frozen
	// payouts to pending in the same transaction.
	ReleaseFreeze(ctx context.Context, freezeID string) error

	// ActiveFreeze returns the user's active freeze or ErrNotFound.
	ActiveFreeze(ctx context.Context, userID string) (*Freeze, error)

	// ExpiredFreezes lists active freezes whose expiry has passed.
	ExpiredFreezes(ctx context.Context, now time.Time, limit int) ([]*Freeze, error)

	// ApplyReserve inserts or refreshes the user's reserve hold.
	ApplyReserve(ctx context.Context, r *Reserve) error

	// ReleaseReserve marks the reserve expired.
	ReleaseReserve(ctx context.Context, reserveID string) error

	// ActiveReserve returns the user's active reserve or ErrNotFound.
	ActiveReserve(ctx context.Context, userID string) (*Reserve, error)

	// ExpiredReserves lists active reserves whose expiry has passed.
	ExpiredReserves(ctx context.Context, now time.Time, limit int) ([]*Reserve, error)
}
