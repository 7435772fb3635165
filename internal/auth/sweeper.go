package auth

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically purges expired refresh tokens.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	logger   *slog.Logger
	events   EventSink
	now      func() time.Time
}

// SweeperOption configures Sweeper behavior.
type SweeperOption func(*Sweeper)

// WithSweeperClock overrides the time source used to stamp sweep events.
func WithSweeperClock(fn func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSweeper constructs a Sweeper. A nil logger or sink disables that output.
func NewSweeper(ledger *Ledger, interval time.Duration, logger *slog.Logger, events EventSink, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if events == nil {
		events = discardSink{}
	}
	s := &Sweeper{ledger: ledger, interval: interval, logger: logger, events: events, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	removed, err := s.ledger.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("refresh token sweep failed", "error", err)
		s.events.Emit(ctx, Event{Type: EventSweep, Outcome: OutcomeFailure, Reason: ReasonInternal, OccurredAt: s.now().UTC()})
		return
	}
	if removed > 0 {
		s.logger.Info("refresh token sweep", "removed", removed)
	}
	s.events.Emit(ctx, Event{
		Type:       EventSweep,
		Outcome:    OutcomeSuccess,
		OccurredAt: s.now().UTC(),
		Fields:     map[string]any{"removed": removed},
	})
}
