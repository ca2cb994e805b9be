// Package detector implements the abuse pattern detectors.
//
// Each detector reads a rolling window of domain facts for one user and
// decides whether to emit exactly one risk signal. Detectors run inline in
// the request path of the action that triggered them, so they never fail the
// caller: any provider error is logged and treated as "no signal", and
// signal emission is fire-and-forget through the signal emitter.
package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumely/riskcore/internal/metrics"
	"github.com/lumely/riskcore/internal/signal"
)

// SessionFact is one paid session as seen by the session surface.
type SessionFact struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	TokenCost float64
}

// SessionProvider exposes recent paid-session facts.
type SessionProvider interface {
	PaidSessions(ctx context.Context, userID string, since time.Time) ([]SessionFact, error)
}

// BookingProvider exposes booking cancellation and refund facts.
type BookingProvider interface {
	// CreatorCancellations counts bookings the creator cancelled since the cutoff.
	CreatorCancellations(ctx context.Context, userID string, since time.Time) (int, error)
	// RefundStats returns (refunded, total) booking counts since the cutoff.
	RefundStats(ctx context.Context, userID string, since time.Time) (refunded, total int, err error)
}

// PayoutProvider exposes payout attempt facts.
type PayoutProvider interface {
	PayoutAttempts(ctx context.Context, userID string, since time.Time) (int, error)
}

// ReportProvider exposes third-party safety report facts.
type ReportProvider interface {
	// DistinctIdentityReporters counts distinct users who reported identity
	// fraud against this user since the cutoff.
	DistinctIdentityReporters(ctx context.Context, userID string, since time.Time) (int, error)
}

// PanicProvider exposes panic-trigger facts.
type PanicProvider interface {
	PanicTriggers(ctx context.Context, userID string, since time.Time) (int, error)
}

// Providers bundles the fact sources the detectors read from. Individual
// fields may be nil; the corresponding detector then never fires.
type Providers struct {
	Sessions SessionProvider
	Bookings BookingProvider
	Payouts  PayoutProvider
	Reports  ReportProvider
	Panics   PanicProvider
}

// Detection windows and trigger thresholds per pattern.
const (
	tokenDrainWindow      = 24 * time.Hour
	tokenDrainMinSessions = 5
	tokenDrainMaxDuration = 30 * time.Second

	multiSessionWindow = 5 * time.Minute
	multiSessionMin    = 3

	copyPasteWindow    = 10 * time.Minute
	copyPasteMinChats  = 3
	copyPasteMinLength = 20

	fakeBookingWindow = 7 * 24 * time.Hour
	fakeBookingMin    = 5

	selfRefundMinRate  = 0.60
	selfRefundMinCount = 3
	selfRefundWindow   = 30 * 24 * time.Hour

	payoutAbuseWindow = time.Hour
	payoutAbuseMin    = 3

	identityWindow       = 30 * 24 * time.Hour
	identityMinReporters = 3

	panicWindow = 24 * time.Hour
	panicMin    = 3
)

// Emitter is the write side of the signal log as detectors see it.
type Emitter interface {
	Emit(sig *signal.Signal)
}

// Service runs the pattern detectors.
type Service struct {
	providers Providers
	emitter   Emitter
	dedup     *DedupCache
	logger    *slog.Logger
}

// NewService creates the detector service.
func NewService(providers Providers, emitter Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		providers: providers,
		emitter:   emitter,
		dedup:     NewDedupCache(),
		logger:    logger,
	}
}

// Dedup exposes the copy-paste dedup cache so the scheduler can sweep it.
func (s *Service) Dedup() *DedupCache {
	return s.dedup
}

// severityForCount maps an observed count to severity using the fixed
// breakpoints shared by the count-based detectors. Detectors never emit
// severity 1-2; those are reserved for manually curated signals.
func severityForCount(count int) int {
	switch {
	case count >= 10:
		return 5
	case count >= 7:
		return 4
	default:
		return 3
	}
}

// emit sends one signal through the emitter. Returned only so tests can
// inspect what fired.
func (s *Service) emit(src signal.Source, t signal.Type, userID, contextRef string, severity int, md map[string]any) *signal.Signal {
	sig := &signal.Signal{
		UserID:     userID,
		Source:     src,
		Type:       t,
		Severity:   severity,
		ContextRef: contextRef,
		Metadata:   md,
	}
	s.emitter.Emit(sig)
	metrics.DetectorFiredTotal.WithLabelValues(string(t)).Inc()
	return sig
}

// fail logs a provider failure and suppresses it. The product action that
// triggered the check must always proceed.
func (s *Service) fail(detector string, userID string, err error) {
	s.logger.Warn("detector check failed",
		"detector", detector, "user_id", userID, "error", err)
	metrics.DetectorErrorsTotal.WithLabelValues(detector).Inc()
}

// CheckTokenDrain fires when a user accumulates too many very short paid
// sessions inside 24h: the classic drain pattern of starting paid calls and
// hanging up immediately to farm per-session payouts.
func (s *Service) CheckTokenDrain(ctx context.Context, userID string) *signal.Signal {
	if s.providers.Sessions == nil {
		return nil
	}
	sessions, err := s.providers.Sessions.PaidSessions(ctx, userID, time.Now().Add(-tokenDrainWindow))
	if err != nil {
		s.fail("token_drain", userID, err)
		return nil
	}

	short := 0
	var drained float64
	for _, sess := range sessions {
		if sess.Duration < tokenDrainMaxDuration {
			short++
			drained += sess.TokenCost
		}
	}
	if short < tokenDrainMinSessions {
		return nil
	}

	return s.emit(signal.SourceAIVoice, signal.TypeTokenDrain, userID, "",
		severityForCount(short), map[string]any{
			"shortSessionCount": short,
			"totalSessions":     len(sessions),
			"tokensDrained":     drained,
			"windowHours":       24,
		})
}

// CheckMultiSessionSpam fires when a user runs three or more parallel
// sessions within a five-minute window.
func (s *Service) CheckMultiSessionSpam(ctx context.Context, userID string) *signal.Signal {
	if s.providers.Sessions == nil {
		return nil
	}
	sessions, err := s.providers.Sessions.PaidSessions(ctx, userID, time.Now().Add(-multiSessionWindow))
	if err != nil {
		s.fail("multi_session_spam", userID, err)
		return nil
	}
	if len(sessions) < multiSessionMin {
		return nil
	}

	return s.emit(signal.SourceAIChat, signal.TypeMultiSessionSpam, userID, "",
		severityForCount(len(sessions)), map[string]any{
			"parallelSessions": len(sessions),
			"windowMinutes":    5,
		})
}

// CheckCopyPaste fires when the same message text (20+ chars) reaches three
// or more distinct chats within ten minutes. Matching is by best-effort
// string hash, not exact text comparison; the dedup cache keeps one signal
// per (user, text-hash) burst and raises matchCount as further chats appear.
func (s *Service) CheckCopyPaste(ctx context.Context, userID, chatID, text string) *signal.Signal {
	if len(text) < copyPasteMinLength {
		return nil
	}

	match := s.dedup.Track(userID, text, chatID)
	if match == nil || match.Chats < copyPasteMinChats {
		return nil
	}
	if !match.NewChat {
		// Re-send into an already-counted chat: no new signal.
		return nil
	}

	return s.emit(signal.SourceChat, signal.TypeCopyPaste, userID, chatID,
		severityForCount(match.Chats), map[string]any{
			"matchCount":    match.Chats,
			"textHash":      match.Hash,
			"windowMinutes": 10,
		})
}

// CheckFakeBookings fires on five or more creator-initiated cancellations in
// seven days: bookings made and cancelled to inflate calendar activity.
func (s *Service) CheckFakeBookings(ctx context.Context, userID string) *signal.Signal {
	if s.providers.Bookings == nil {
		return nil
	}
	cancels, err := s.providers.Bookings.CreatorCancellations(ctx, userID, time.Now().Add(-fakeBookingWindow))
	if err != nil {
		s.fail("fake_bookings", userID, err)
		return nil
	}
	if cancels < fakeBookingMin {
		return nil
	}

	return s.emit(signal.SourceCalendar, signal.TypeFakeBookings, userID, "",
		severityForCount(cancels), map[string]any{
			"cancellations": cancels,
			"windowDays":    7,
		})
}

// CheckSelfRefunds fires when at least 60% of a user's bookings were
// refunded, with three or more refunds in the window.
func (s *Service) CheckSelfRefunds(ctx context.Context, userID string) *signal.Signal {
	if s.providers.Bookings == nil {
		return nil
	}
	refunded, total, err := s.providers.Bookings.RefundStats(ctx, userID, time.Now().Add(-selfRefundWindow))
	if err != nil {
		s.fail("self_refunds", userID, err)
		return nil
	}
	if refunded < selfRefundMinCount || total == 0 {
		return nil
	}
	rate := float64(refunded) / float64(total)
	if rate < selfRefundMinRate {
		return nil
	}

	return s.emit(signal.SourceEvent, signal.TypeSelfRefunds, userID, "",
		severityForCount(refunded), map[string]any{
			"refunds":    refunded,
			"total":      total,
			"refundRate": rate,
		})
}

// CheckPayoutAbuse fires on three or more payout attempts within one hour.
func (s *Service) CheckPayoutAbuse(ctx context.Context, userID string) *signal.Signal {
	if s.providers.Payouts == nil {
		return nil
	}
	attempts, err := s.providers.Payouts.PayoutAttempts(ctx, userID, time.Now().Add(-payoutAbuseWindow))
	if err != nil {
		s.fail("payout_abuse", userID, err)
		return nil
	}
	if attempts < payoutAbuseMin {
		return nil
	}

	return s.emit(signal.SourceWallet, signal.TypePayoutAbuse, userID, "",
		severityForCount(attempts), map[string]any{
			"attempts":    attempts,
			"windowHours": 1,
		})
}

// CheckIdentityMismatch fires when three or more distinct reporters flag
// identity fraud within thirty days.
func (s *Service) CheckIdentityMismatch(ctx context.Context, userID string) *signal.Signal {
	if s.providers.Reports == nil {
		return nil
	}
	reporters, err := s.providers.Reports.DistinctIdentityReporters(ctx, userID, time.Now().Add(-identityWindow))
	if err != nil {
		s.fail("identity_mismatch", userID, err)
		return nil
	}
	if reporters < identityMinReporters {
		return nil
	}

	return s.emit(signal.SourceEvent, signal.TypeIdentityMismatch, userID, "",
		severityForCount(reporters), map[string]any{
			"distinctReporters": reporters,
			"windowDays":        30,
		})
}

// CheckPanicSpike fires on three or more panic triggers within 24 hours.
func (s *Service) CheckPanicSpike(ctx context.Context, userID string) *signal.Signal {
	if s.providers.Panics == nil {
		return nil
	}
	triggers, err := s.providers.Panics.PanicTriggers(ctx, userID, time.Now().Add(-panicWindow))
	if err != nil {
		s.fail("panic_rate_spike", userID, err)
		return nil
	}
	if triggers < panicMin {
		return nil
	}

	return s.emit(signal.SourceEvent, signal.TypePanicRateSpike, userID, "",
		severityForCount(triggers), map[string]any{
			"panicTriggers": triggers,
			"windowHours":   24,
		})
}
