package signal

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumely/riskcore/internal/idgen"
	"github.com/lumely/riskcore/internal/metrics"
)

// DefaultQueueSize bounds the emitter's in-flight queue. Emission is
// fire-and-forget: when the queue is full the signal is dropped and logged
// rather than making the caller wait.
const DefaultQueueSize = 1024

// writeTimeout caps how long a single queued insert may take.
const writeTimeout = 5 * time.Second

// Emitter decouples signal persistence from the request path that produced
// the signal. Emit never blocks and never returns an error to the caller;
// insert failures are logged and counted, not retried.
type Emitter struct {
	store  Store
	logger *slog.Logger
	queue  chan *Signal
	done   chan struct{}
}

// NewEmitter creates an emitter with a bounded queue and starts its writer.
func NewEmitter(store Store, logger *slog.Logger) *Emitter {
	return NewEmitterSize(store, logger, DefaultQueueSize)
}

// NewEmitterSize creates an emitter with an explicit queue size.
func NewEmitterSize(store Store, logger *slog.Logger, size int) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		store:  store,
		logger: logger,
		queue:  make(chan *Signal, size),
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit enqueues a signal for persistence and returns immediately. A missing
// ID or CreatedAt is filled in. Invalid signals and queue overflow are
// logged; neither surfaces to the caller.
func (e *Emitter) Emit(sig *Signal) {
	if sig.ID == "" {
		sig.ID = idgen.WithPrefix("sig_")
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	if err := sig.Validate(); err != nil {
		e.logger.Warn("dropping invalid signal", "error", err, "user_id", sig.UserID)
		metrics.SignalsDroppedTotal.WithLabelValues("invalid").Inc()
		return
	}

	select {
	case e.queue <- sig:
	default:
		e.logger.Warn("signal queue full, dropping signal",
			"user_id", sig.UserID, "type", sig.Type)
		metrics.SignalsDroppedTotal.WithLabelValues("queue_full").Inc()
	}
}

// Close stops the writer after the queue drains.
func (e *Emitter) Close() {
	close(e.queue)
	<-e.done
}

func (e *Emitter) drain() {
	defer close(e.done)
	for sig := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := e.store.Insert(ctx, sig)
		cancel()
		if err != nil {
			// Not retried: the pattern will re-fire if the behavior persists.
			e.logger.Error("signal insert failed",
				"error", err, "user_id", sig.UserID, "type", sig.Type)
			metrics.SignalsDroppedTotal.WithLabelValues("insert_error").Inc()
			continue
		}
		metrics.SignalsEmittedTotal.WithLabelValues(string(sig.Type)).Inc()
	}
}
