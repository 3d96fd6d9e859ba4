package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/logging"
)

// Compile-time check
var _ AdminUseCase = (*adminUC)(nil)

type AdminUseCase interface {
	// Decide records the operator's verdict on an order. Approving a manual
	// transfer captures it (awaiting_payment -> paid) and hands it to the
	// reconciler for provisioning; rejecting is terminal.
	Decide(ctx context.Context, id string, decision model.Decision) (*model.Subscription, error)
	ListByStatus(ctx context.Context, status model.SubscriptionStatus, offset, limit int) ([]*model.Subscription, error)
}

type adminUC struct {
	subs      repository.SubscriptionRepository
	txm       repository.TransactionManager
	reconcile ReconcileUseCase
	log       zerolog.Logger
}

func NewAdminUseCase(subs repository.SubscriptionRepository, txm repository.TransactionManager, reconcile ReconcileUseCase, log zerolog.Logger) *adminUC {
	return &adminUC{
		subs:      subs,
		txm:       txm,
		reconcile: reconcile,
		log:       log.With().Str("component", "admin_uc").Logger(),
	}
}

func (u *adminUC) Decide(ctx context.Context, id string, decision model.Decision) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithOrderRef(ctx, sub.OrderRef)
	log := logging.With(ctx, &u.log)

	switch decision {
	case model.DecisionApproved:
		if sub.Method != model.MethodTransfer {
			return sub, fmt.Errorf("%w: only manual transfers need approval", domain.ErrInvalidArgument)
		}
		// Capture and decision record commit together; a crash between them
		// must not leave a paid row without an operator trail.
		paidAt := time.Now()
		err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			won, uerr := u.subs.UpdateStatusIfAwaiting(ctx, tx, sub.ID, model.StatusPaid, nil, &paidAt)
			if uerr != nil {
				return uerr
			}
			if !won {
				return fmt.Errorf("%w: order %s already decided", domain.ErrConflict, sub.OrderRef)
			}
			_, derr := u.subs.UpdateDecisionIf(ctx, tx, sub.ID, decision, model.StatusPaid,
				[]model.SubscriptionStatus{model.StatusPaid})
			return derr
		})
		if err != nil {
			return sub, err
		}
		log.Info().Msg("transfer approved")
		return u.reconcile.RetryProvision(ctx, sub.ID)

	case model.DecisionRejected:
		// Rejecting an unverified transfer fails the order; rejecting a
		// captured one records the terminal rejected state for refund
		// handling outside the system.
		newStatus := model.StatusRejected
		from := []model.SubscriptionStatus{model.StatusPaid, model.StatusProvisionFailed, model.StatusActive}
		if sub.Status == model.StatusAwaitingPayment {
			newStatus = model.StatusFailed
			from = []model.SubscriptionStatus{model.StatusAwaitingPayment}
		}
		won, uerr := u.subs.UpdateDecisionIf(ctx, repository.NoTX, sub.ID, decision, newStatus, from)
		if uerr != nil {
			return sub, uerr
		}
		if !won {
			return sub, fmt.Errorf("%w: order %s changed concurrently", domain.ErrConflict, sub.OrderRef)
		}
		sub.Status = newStatus
		sub.Decision = decision
		log.Info().Str("status", string(newStatus)).Msg("order rejected")
		return sub, nil

	default:
		return sub, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidArgument, decision)
	}
}

func (u *adminUC) ListByStatus(ctx context.Context, status model.SubscriptionStatus, offset, limit int) ([]*model.Subscription, error) {
	return u.subs.ListByStatus(ctx, repository.NoTX, status, offset, limit)
}
