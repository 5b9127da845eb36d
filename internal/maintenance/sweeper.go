package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// CartStore is the slice of the cart repository the sweeper needs.
type CartStore interface {
	DeleteIdle(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventStore is the slice of the webhook ledger the sweeper needs.
type EventStore interface {
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

type Config struct {
	Interval       time.Duration
	CartIdleAfter  time.Duration
	EventRetention time.Duration
}

// Sweeper periodically drops carts nobody touched and webhook ledger
// rows past their retention window.
type Sweeper struct {
	carts  CartStore
	events EventStore
	cfg    Config
}

func NewSweeper(carts CartStore, events EventStore, cfg Config) *Sweeper {
	return &Sweeper{carts: carts, events: events, cfg: cfg}
}

// Run sweeps once right away, then once per interval until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("cart_idle_after", s.cfg.CartIdleAfter).
		Dur("event_retention", s.cfg.EventRetention).
		Msg("Maintenance sweeper started")

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Maintenance sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()

	carts, err := s.carts.DeleteIdle(ctx, now.Add(-s.cfg.CartIdleAfter))
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep idle carts")
	} else if carts > 0 {
		log.Info().Int64("carts", carts).Msg("Swept idle carts")
	}

	events, err := s.events.DeleteOlderThan(ctx, now.Add(-s.cfg.EventRetention))
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep webhook ledger")
	} else if events > 0 {
		log.Info().Int64("events", events).Msg("Swept webhook ledger")
	}
}
