package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, order_ref, mobile, email, plan_id, data_limit_gb, duration_days, method, amount_irr, status, provider, authority, ref_id, panel_kind, panel_username, subscription_url, expire_at, created_at, updated_at, paid_at, decision, decided_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, order_ref, mobile, email, plan_id, data_limit_gb, duration_days, method, amount_irr, status, provider, authority, ref_id, panel_kind, panel_username, subscription_url, expire_at, created_at, updated_at, paid_at, decision, decided_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
) ON CONFLICT (id) DO UPDATE SET
  mobile=$3, email=$4, status=$10, provider=$11, authority=$12, ref_id=$13, panel_kind=$14, panel_username=$15, subscription_url=$16, expire_at=$17, updated_at=$19, paid_at=$20, decision=$21, decided_at=$22;`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.OrderRef, s.Mobile, s.Email, s.PlanID, s.DataLimitGB, s.DurationDays,
		string(s.Method), s.AmountIRR, string(s.Status), s.Provider, s.Authority, s.RefID,
		string(s.PanelKind), s.PanelUsername, s.SubscriptionURL, s.ExpireAt,
		s.CreatedAt, s.UpdatedAt, s.PaidAt, string(s.Decision), s.DecidedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	return r.findBy(ctx, tx, "id", id)
}

func (r *subscriptionRepo) FindByAuthority(ctx context.Context, tx repository.Tx, authority string) (*model.Subscription, error) {
	return r.findBy(ctx, tx, "authority", authority)
}

func (r *subscriptionRepo) FindByOrderRef(ctx context.Context, tx repository.Tx, orderRef string) (*model.Subscription, error) {
	return r.findBy(ctx, tx, "order_ref", orderRef)
}

func (r *subscriptionRepo) findBy(ctx context.Context, tx repository.Tx, column, value string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + column + `=$1 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, value)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) MarkAwaiting(ctx context.Context, tx repository.Tx, id, provider, authority string) error {
	const q = `
UPDATE subscriptions
   SET status='awaiting_payment', provider=$2, authority=$3, updated_at=NOW()
 WHERE id=$1 AND status='initiated';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, provider, authority)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// UpdateStatusIfAwaiting atomically updates status only when the current
// status is 'awaiting_payment'. Returns true when this caller won the
// write; a false with nil error means another confirmer got there first.
func (r *subscriptionRepo) UpdateStatusIfAwaiting(
	ctx context.Context, tx repository.Tx, id string, newStatus model.SubscriptionStatus, refID *string, paidAt *time.Time,
) (bool, error) {
	const q = `
UPDATE subscriptions
   SET status = $2,
       ref_id = COALESCE($3, ref_id),
       paid_at = COALESCE($4, paid_at),
       updated_at = NOW()
 WHERE id = $1
   AND status = 'awaiting_payment';`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(newStatus), refID, paidAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

// MergeAccountIfPaid writes the panel account and activates in one
// statement so a crash cannot leave an active row without an account.
func (r *subscriptionRepo) MergeAccountIfPaid(ctx context.Context, tx repository.Tx, id string, acc *model.ProvisionedAccount) (bool, error) {
	if acc == nil || acc.Username == "" {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE subscriptions
   SET status = 'active',
       panel_kind = $2,
       panel_username = $3,
       subscription_url = $4,
       expire_at = $5,
       updated_at = NOW()
 WHERE id = $1
   AND status IN ('paid','provision_failed');`

	expire := time.Unix(acc.ExpireAt, 0)
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(acc.Panel), acc.Username, acc.SubscriptionURL, expire)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *subscriptionRepo) MarkProvisionFailed(ctx context.Context, tx repository.Tx, id string, detail string) (bool, error) {
	const q = `
UPDATE subscriptions
   SET status = 'provision_failed',
       provision_error = $2,
       updated_at = NOW()
 WHERE id = $1
   AND status = 'paid';`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, detail)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *subscriptionRepo) UpdateDecisionIf(
	ctx context.Context, tx repository.Tx, id string, decision model.Decision, newStatus model.SubscriptionStatus, fromStatuses []model.SubscriptionStatus,
) (bool, error) {
	if len(fromStatuses) == 0 {
		return false, domain.ErrInvalidArgument
	}
	placeholders := make([]string, len(fromStatuses))
	args := []interface{}{id, string(decision), string(newStatus)}
	for i, st := range fromStatuses {
		placeholders[i] = fmt.Sprintf("$%d", 4+i)
		args = append(args, string(st))
	}
	q := `
UPDATE subscriptions
   SET decision = $2,
       status = $3,
       decided_at = NOW(),
       updated_at = NOW()
 WHERE id = $1
   AND status IN (` + strings.Join(placeholders, ",") + `);`

	cmd, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *subscriptionRepo) ListAwaitingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status='awaiting_payment' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (r *subscriptionRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.SubscriptionStatus, offset, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status=$1 ORDER BY created_at DESC OFFSET $2 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, string(status), offset, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var method, status, panelKind, decision string
	err := row.Scan(
		&s.ID, &s.OrderRef, &s.Mobile, &s.Email, &s.PlanID, &s.DataLimitGB, &s.DurationDays,
		&method, &s.AmountIRR, &status, &s.Provider, &s.Authority, &s.RefID,
		&panelKind, &s.PanelUsername, &s.SubscriptionURL, &s.ExpireAt,
		&s.CreatedAt, &s.UpdatedAt, &s.PaidAt, &decision, &s.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Method = model.PaymentMethod(method)
	s.Status = model.SubscriptionStatus(status)
	s.PanelKind = model.PanelKind(panelKind)
	s.Decision = model.Decision(decision)
	return s, nil
}

func scanSubscriptions(rows pgx.Rows) ([]*model.Subscription, error) {
	var out []*model.Subscription
	for rows.Next() {
		s := &model.Subscription{}
		var method, status, panelKind, decision string
		if err := rows.Scan(
			&s.ID, &s.OrderRef, &s.Mobile, &s.Email, &s.PlanID, &s.DataLimitGB, &s.DurationDays,
			&method, &s.AmountIRR, &status, &s.Provider, &s.Authority, &s.RefID,
			&panelKind, &s.PanelUsername, &s.SubscriptionURL, &s.ExpireAt,
			&s.CreatedAt, &s.UpdatedAt, &s.PaidAt, &decision, &s.DecidedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		s.Method = model.PaymentMethod(method)
		s.Status = model.SubscriptionStatus(status)
		s.PanelKind = model.PanelKind(panelKind)
		s.Decision = model.Decision(decision)
		out = append(out, s)
	}
	return out, nil
}
