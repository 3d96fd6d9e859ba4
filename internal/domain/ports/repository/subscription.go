package repository

import (
	"context"
	"time"

	"vpn-subscription-shop/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByAuthority(ctx context.Context, tx Tx, authority string) (*model.Subscription, error)
	FindByOrderRef(ctx context.Context, tx Tx, orderRef string) (*model.Subscription, error)

	// MarkAwaiting records the gateway handle obtained during initiation
	// (initiated -> awaiting_payment).
	MarkAwaiting(ctx context.Context, tx Tx, id, provider, authority string) error

	// UpdateStatusIfAwaiting atomically moves awaiting_payment -> newStatus
	// and reports whether this caller won the write. Racing verification
	// callbacks for one authority are serialized by this conditional update.
	UpdateStatusIfAwaiting(ctx context.Context, tx Tx, id string, newStatus model.SubscriptionStatus, refID *string, paidAt *time.Time) (bool, error)

	// MergeAccountIfPaid writes the provisioned account and moves
	// paid|provision_failed -> active in one statement.
	MergeAccountIfPaid(ctx context.Context, tx Tx, id string, acc *model.ProvisionedAccount) (bool, error)

	// MarkProvisionFailed moves paid -> provision_failed, keeping the
	// panel's error detail for operators.
	MarkProvisionFailed(ctx context.Context, tx Tx, id string, detail string) (bool, error)

	// UpdateDecisionIf records the admin decision only when the row is
	// still in one of fromStatuses.
	UpdateDecisionIf(ctx context.Context, tx Tx, id string, decision model.Decision, newStatus model.SubscriptionStatus, fromStatuses []model.SubscriptionStatus) (bool, error)

	// ListAwaitingOlderThan feeds the stale-payment reconciliation worker.
	ListAwaitingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Subscription, error)
	ListByStatus(ctx context.Context, tx Tx, status model.SubscriptionStatus, offset, limit int) ([]*model.Subscription, error)
}
