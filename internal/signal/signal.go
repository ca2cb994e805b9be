// Package signal defines the append-only risk signal log.
//
// A signal is a single immutable observation that an abuse pattern fired for
// a user. Detectors write signals, the aggregator reads them back to derive
// a risk score. Signals are never updated; retention cleanup is the only
// path that removes them.
package signal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a signal lookup has no match.
var ErrNotFound = errors.New("signal: not found")

// Source identifies the product surface a signal originated from.
type Source string

const (
	SourceChat     Source = "chat"
	SourceAIChat   Source = "ai-chat"
	SourceAIVoice  Source = "ai-voice"
	SourceAIVideo  Source = "ai-video"
	SourceCalendar Source = "calendar"
	SourceEvent    Source = "event"
	SourceWallet   Source = "wallet"
)

// Type identifies the abuse pattern a signal reports.
type Type string

const (
	TypeTokenDrain       Type = "token-drain"
	TypeMultiSessionSpam Type = "multi-session-spam"
	TypeCopyPaste        Type = "copy-paste-behavior"
	TypeFakeBookings     Type = "fake-bookings"
	TypeSelfRefunds      Type = "self-refunds"
	TypePayoutAbuse      Type = "payout-abuse"
	TypeIdentityMismatch Type = "identity-mismatch"
	TypePanicRateSpike   Type = "panic-rate-spike"
)

// DefaultRetention is how long signals are kept before the daily cleanup
// removes them.
const DefaultRetention = 365 * 24 * time.Hour

// Signal is an immutable risk observation for a user.
//
// ContextRef points at the originating record (a session, a message, a
// payout request) and is never dereferenced here. Metadata carries the raw
// counters the detector saw, for later audit; its shape is the detector's
// concern alone and is stored as an opaque blob.
type Signal struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Source     Source         `json:"source"`
	Type       Type           `json:"type"`
	Severity   int            `json:"severity"` // 1-5
	ContextRef string         `json:"contextRef,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Validate checks structural invariants before insert.
func (s *Signal) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("signal: userId is required")
	}
	if !validSource(s.Source) {
		return fmt.Errorf("signal: unknown source %q", s.Source)
	}
	if !validType(s.Type) {
		return fmt.Errorf("signal: unknown type %q", s.Type)
	}
	if s.Severity < 1 || s.Severity > 5 {
		return fmt.Errorf("signal: severity must be 1-5, got %d", s.Severity)
	}
	return nil
}

func validSource(s Source) bool {
	switch s {
	case SourceChat, SourceAIChat, SourceAIVoice, SourceAIVideo,
		SourceCalendar, SourceEvent, SourceWallet:
		return true
	}
	return false
}

func validType(t Type) bool {
	switch t {
	case TypeTokenDrain, TypeMultiSessionSpam, TypeCopyPaste, TypeFakeBookings,
		TypeSelfRefunds, TypePayoutAbuse, TypeIdentityMismatch, TypePanicRateSpike:
		return true
	}
	return false
}

// Filter narrows admin signal listings. Zero values mean "no constraint".
type Filter struct {
	UserID      string
	Type        Type
	MinSeverity int
	From        time.Time
	To          time.Time
	Limit       int
	Cursor      string
}

// Stats summarizes the signal log for the admin statistics endpoint.
type Stats struct {
	Total      int64            `json:"total"`
	ByType     map[Type]int64   `json:"byType"`
	BySeverity map[string]int64 `json:"bySeverity"`
}

// Store is the append-only signal log. There is deliberately no update
// operation.
type Store interface {
	// Insert appends one signal. The signal must already carry an ID and
	// CreatedAt.
	Insert(ctx context.Context, sig *Signal) error

	// ListByUser returns a user's signals newest-first, optionally bounded
	// by [from, to). A zero time means unbounded on that side.
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*Signal, error)

	// CountByUserAndType counts a user's signals of one type since a cutoff.
	// Detectors use this for their own windowed checks.
	CountByUserAndType(ctx context.Context, userID string, t Type, since time.Time) (int, error)

	// DistinctUsers returns user IDs with at least one signal after since,
	// capped at limit. The recompute sweep uses this to find stale scores.
	DistinctUsers(ctx context.Context, since time.Time, limit int) ([]string, error)

	// List returns signals matching the filter, newest-first, for admin
	// listings. Returns the page plus the next cursor ("" when exhausted).
	List(ctx context.Context, f Filter) ([]*Signal, string, error)

	// Stats aggregates counts for the admin statistics endpoint.
	Stats(ctx context.Context, from, to time.Time) (*Stats, error)

	// DeleteOlderThan removes signals created before the cutoff. Used only
	// by retention cleanup.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
