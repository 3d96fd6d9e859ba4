package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/logging"
	"vpn-subscription-shop/internal/infra/metrics"
	"vpn-subscription-shop/internal/infra/redis"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

type ReconcileUseCase interface {
	// Confirm drives one order from awaiting_payment as far as it can get:
	// verify with the gateway, flip to paid, provision the panel account,
	// activate, notify. Safe to call concurrently and repeatedly for the
	// same authority; the money is captured at most once and the panel
	// account is created at most once.
	Confirm(ctx context.Context, authority string) (*model.Subscription, error)

	// RetryProvision re-runs only the provisioning step for an order whose
	// payment is captured but whose panel call failed.
	RetryProvision(ctx context.Context, id string) (*model.Subscription, error)

	// ListStale returns awaiting_payment orders old enough for the sweep.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.Subscription, error)
}

type reconcileUC struct {
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	gateways map[model.PaymentMethod]adapter.PaymentGateway
	panel    adapter.PanelClient
	sinks    []adapter.EventSink
	locker   redis.Locker
	lockTTL  time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewReconcileUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	gateways map[model.PaymentMethod]adapter.PaymentGateway,
	panel adapter.PanelClient,
	sinks []adapter.EventSink,
	locker redis.Locker,
	lockTTL time.Duration,
	log zerolog.Logger,
) *reconcileUC {
	return &reconcileUC{
		subs:     subs,
		plans:    plans,
		gateways: gateways,
		panel:    panel,
		sinks:    sinks,
		locker:   locker,
		lockTTL:  lockTTL,
		log:      log.With().Str("component", "reconcile_uc").Logger(),
		now:      time.Now,
	}
}

func (u *reconcileUC) Confirm(ctx context.Context, authority string) (*model.Subscription, error) {
	if authority == "" {
		return nil, domain.ErrInvalidArgument
	}
	ctx = logging.WithAuthority(ctx, authority)

	token, err := u.locker.TryLock(ctx, redis.ConfirmKey(authority), u.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockBusy) {
			u.log.Debug().Str("authority", authority).Msg("confirm already in flight")
		}
		return nil, err
	}
	defer func() { _ = u.locker.Unlock(ctx, redis.ConfirmKey(authority), token) }()

	sub, err := u.subs.FindByAuthority(ctx, repository.NoTX, authority)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithOrderRef(ctx, sub.OrderRef)
	log := logging.With(ctx, &u.log)

	switch sub.Status {
	case model.StatusActive, model.StatusFailed, model.StatusRejected:
		// Terminal for this flow; repeat callbacks are no-ops.
		return sub, nil
	case model.StatusPaid, model.StatusProvisionFailed:
		// Money captured on a previous attempt; only provisioning is left.
		return u.provision(ctx, sub)
	case model.StatusAwaitingPayment:
		// fall through to verification
	default:
		return sub, fmt.Errorf("%w: order %s is %s", domain.ErrConflict, sub.OrderRef, sub.Status)
	}

	gw, ok := u.gateways[sub.Method]
	if !ok {
		return sub, fmt.Errorf("%w: no gateway for method %q", domain.ErrInvalidArgument, sub.Method)
	}

	outcome, err := gw.Verify(ctx, authority, sub.AmountIRR)
	if err != nil {
		// Transport failure: leave the row awaiting so a later sweep retries.
		log.Warn().Err(err).Msg("verify transport failure, will retry")
		return sub, err
	}

	switch outcome.State {
	case adapter.VerifyPending:
		// Not settled yet; the row stays awaiting and the sweep retries.
		log.Debug().Str("reason", outcome.Reason).Msg("payment still pending at provider")
		return sub, nil

	case adapter.VerifyMalformed:
		log.Warn().Str("raw_body", outcome.RawBody).Msg("gateway returned malformed verify response")
		return sub, fmt.Errorf("%w: malformed verify response", domain.ErrOperationFailed)

	case adapter.VerifyFailed:
		won, uerr := u.subs.UpdateStatusIfAwaiting(ctx, repository.NoTX, sub.ID, model.StatusFailed, nil, nil)
		if uerr != nil {
			return sub, uerr
		}
		if won {
			metrics.IncPayment(sub.Provider, "failed")
			log.Info().Str("reason", outcome.Reason).Int("status_code", outcome.StatusCode).Msg("payment failed")
			sub.Status = model.StatusFailed
		}
		return sub, nil

	case adapter.VerifyPaid:
		paidAt := u.now()
		won, uerr := u.subs.UpdateStatusIfAwaiting(ctx, repository.NoTX, sub.ID, model.StatusPaid, &outcome.RefID, &paidAt)
		if uerr != nil {
			return sub, uerr
		}
		if !won {
			// Another confirmer beat us between FindByAuthority and here.
			// Re-read and let the winner's state stand.
			fresh, ferr := u.subs.FindByAuthority(ctx, repository.NoTX, authority)
			if ferr != nil {
				return sub, ferr
			}
			return fresh, nil
		}
		sub.Status = model.StatusPaid
		sub.RefID = outcome.RefID
		sub.PaidAt = &paidAt
		metrics.IncPayment(sub.Provider, "paid")
		metrics.AddRevenue(sub.Provider, sub.AmountIRR)
		log.Info().Str("ref_id", outcome.RefID).Int64("amount_irr", sub.AmountIRR).Msg("payment verified")
		return u.provision(ctx, sub)

	default:
		return sub, fmt.Errorf("%w: unknown verify state %d", domain.ErrOperationFailed, outcome.State)
	}
}

func (u *reconcileUC) RetryProvision(ctx context.Context, id string) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.StatusProvisionFailed && sub.Status != model.StatusPaid {
		return sub, fmt.Errorf("%w: order %s is %s, nothing to provision", domain.ErrConflict, sub.OrderRef, sub.Status)
	}
	ctx = logging.WithOrderRef(ctx, sub.OrderRef)
	return u.provision(ctx, sub)
}

func (u *reconcileUC) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.Subscription, error) {
	return u.subs.ListAwaitingOlderThan(ctx, repository.NoTX, olderThan, limit)
}

// provision creates the panel account and activates the row. The active
// write and the account merge are one conditional statement, so a repeat
// call after activation changes nothing.
func (u *reconcileUC) provision(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	log := logging.With(ctx, &u.log)

	// An account may already exist from a half-finished earlier attempt
	// (panel created the user, activation write lost). Reuse it.
	username := panelUsername(sub)
	acc, err := u.panel.GetUser(ctx, username)
	if err != nil {
		acc, err = u.panel.CreateUser(ctx, adapter.CreateUserParams{
			Username:     username,
			DataLimitGB:  sub.DataLimitGB,
			DurationDays: sub.DurationDays,
			Note:         "order " + sub.OrderRef,
		})
	}
	if err != nil {
		detail := err.Error()
		if _, uerr := u.subs.MarkProvisionFailed(ctx, repository.NoTX, sub.ID, detail); uerr != nil {
			log.Error().Err(uerr).Msg("mark provision_failed write failed")
		}
		sub.Status = model.StatusProvisionFailed
		log.Error().Err(err).Msg("panel provisioning failed, payment kept")
		return sub, err
	}

	won, err := u.subs.MergeAccountIfPaid(ctx, repository.NoTX, sub.ID, acc)
	if err != nil {
		return sub, err
	}
	if !won {
		fresh, ferr := u.subs.FindByID(ctx, repository.NoTX, sub.ID)
		if ferr != nil {
			return sub, ferr
		}
		return fresh, nil
	}
	if merr := sub.MergeAccount(acc); merr != nil {
		return sub, merr
	}
	sub.Status = model.StatusActive
	metrics.IncActivated(string(acc.Panel))
	log.Info().Str("panel_username", acc.Username).Msg("subscription activated")

	u.notifyActivated(sub)
	return sub, nil
}

// notifyActivated pushes the sale report after the active write has
// committed. Delivery runs detached; a down webhook endpoint must never
// stall or fail confirmation.
func (u *reconcileUC) notifyActivated(sub *model.Subscription) {
	planName := sub.PlanID
	if plan, err := u.plans.FindByID(context.Background(), repository.NoTX, sub.PlanID); err == nil {
		planName = plan.Name
	}
	ev := model.NewSubscriptionEvent(sub, planName)
	for _, sink := range u.sinks {
		go func(s adapter.EventSink) {
			res := s.Deliver(context.Background(), ev)
			if !res.Delivered {
				u.log.Warn().Str("order_ref", sub.OrderRef).Str("last_err", res.LastErr).Msg("sale notification not delivered")
			}
		}(sink)
	}
}

func panelUsername(sub *model.Subscription) string {
	if sub.PanelUsername != "" {
		return sub.PanelUsername
	}
	return "s_" + strings.ToLower(sub.OrderRef)
}
