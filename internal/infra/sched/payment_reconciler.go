package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/infra/worker"
	"vpn-subscription-shop/internal/usecase"
)

// PaymentReconciler periodically scans for stale awaiting_payment orders
// and tries to finalize them through the confirm flow. This covers
// customers who never came back from the gateway redirect, lost
// callbacks, and crashes mid-confirm. Confirm is idempotent, so racing a
// live callback is harmless.
type PaymentReconciler struct {
	uc         usecase.ReconcileUseCase
	pool       *worker.Pool
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old an awaiting order must be to retry
	log        zerolog.Logger
}

func NewPaymentReconciler(uc usecase.ReconcileUseCase, pool *worker.Pool, interval, staleAfter time.Duration, log zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &PaymentReconciler{
		uc:         uc,
		pool:       pool,
		interval:   interval,
		staleAfter: staleAfter,
		log:        log.With().Str("component", "payment_reconciler").Logger(),
	}
}

func (w *PaymentReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.uc.ListStale(ctx, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale orders failed")
		return
	}
	for _, s := range stale {
		if s.Authority == "" {
			continue
		}
		authority := s.Authority
		orderRef := s.OrderRef
		err := w.pool.Submit(func(ctx context.Context) error {
			_, cerr := w.uc.Confirm(ctx, authority)
			if errors.Is(cerr, domain.ErrLockBusy) {
				// Someone else is already confirming it; next sweep will see
				// the result.
				return nil
			}
			if cerr != nil {
				w.log.Warn().Str("order_ref", orderRef).Err(cerr).Msg("reconcile confirm failed")
			} else {
				w.log.Info().Str("order_ref", orderRef).Msg("order reconciled")
			}
			return nil
		})
		if err != nil {
			w.log.Warn().Err(err).Msg("reconcile submit dropped")
			return
		}
	}
}
