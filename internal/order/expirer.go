package order

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/restaurant-orders/internal/auth"
)

const expirerBatchSize = 100

// Expirer cancels orders that stayed pending (unpaid) longer than a
// configured TTL. There is no default policy: the expirer only runs when
// PENDING_ORDER_TTL is set, otherwise abandoned orders stay pending and
// remain visible to their owner and restaurant.
type Expirer struct {
	repo     Repository
	svc      Service
	ttl      time.Duration
	interval time.Duration
}

func NewExpirer(repo Repository, svc Service, ttl, interval time.Duration) *Expirer {
	return &Expirer{repo: repo, svc: svc, ttl: ttl, interval: interval}
}

// Run sweeps on a ticker until the context is cancelled.
func (e *Expirer) Run(ctx context.Context) {
	if e.ttl <= 0 {
		return
	}

	log.Info().Dur("ttl", e.ttl).Dur("interval", e.interval).Msg("expirer: started")
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expirer: stopped")
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep cancels one batch of stale pending orders through the engine, so
// every cancellation goes through the same authorization, compare-and-swap
// and fan-out path as a user-initiated one.
func (e *Expirer) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-e.ttl)

	stale, err := e.repo.ListStalePending(ctx, cutoff, expirerBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("expirer: failed to list stale pending orders")
		return
	}

	for _, ord := range stale {
		_, err := e.svc.RequestTransition(ctx, auth.SystemActor(), ord.ID, StatusCancelled)
		switch {
		case err == nil:
			log.Info().Stringer("order_id", ord.ID).Time("created_at", ord.CreatedAt).
				Msg("expirer: cancelled stale pending order")
		case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrInvalidTransition):
			// Someone paid or cancelled it while we were sweeping. Fine.
		default:
			log.Error().Err(err).Stringer("order_id", ord.ID).Msg("expirer: failed to cancel stale order")
		}
	}
}
