package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/logging"
	"vpn-subscription-shop/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Initiate creates the order row and returns it together with the
	// gateway redirect URL. A non-empty redirect URL implies the row holds
	// the matching authority.
	Initiate(ctx context.Context, planID, mobile, email string, method model.PaymentMethod) (*model.Subscription, string, error)
	// ListPlans returns the sellable catalog.
	ListPlans(ctx context.Context) ([]*model.Plan, error)
	// FindByOrderRef looks an order up by its customer-facing reference.
	FindByOrderRef(ctx context.Context, orderRef string) (*model.Subscription, error)
}

type paymentUC struct {
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	gateways map[model.PaymentMethod]adapter.PaymentGateway
	callback string
	log      zerolog.Logger
	entropy  *ulid.MonotonicEntropy
	now      func() time.Time
}

func NewPaymentUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	gateways map[model.PaymentMethod]adapter.PaymentGateway,
	callbackURL string,
	log zerolog.Logger,
) *paymentUC {
	return &paymentUC{
		subs:     subs,
		plans:    plans,
		gateways: gateways,
		callback: callbackURL,
		log:      log.With().Str("component", "payment_uc").Logger(),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:      time.Now,
	}
}

func (u *paymentUC) Initiate(ctx context.Context, planID, mobile, email string, method model.PaymentMethod) (*model.Subscription, string, error) {
	gw, ok := u.gateways[method]
	if !ok {
		return nil, "", fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidArgument, method)
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, "", err
	}
	if plan.TestPlan {
		return nil, "", fmt.Errorf("%w: test plans are not sellable", domain.ErrInvalidArgument)
	}

	orderRef := ulid.MustNew(ulid.Timestamp(u.now()), u.entropy).String()
	sub, err := model.NewSubscription(uuid.NewString(), orderRef, mobile, email, plan, method)
	if err != nil {
		return nil, "", err
	}
	if err := u.subs.Save(ctx, repository.NoTX, sub); err != nil {
		return nil, "", err
	}
	ctx = logging.WithOrderRef(ctx, orderRef)

	authority, payURL, err := gw.Request(ctx, adapter.PaymentRequest{
		AmountIRR:   sub.AmountIRR,
		Mobile:      mobile,
		Email:       email,
		CallbackURL: u.callback,
		Description: fmt.Sprintf("%s (%s)", plan.Name, orderRef),
	})
	if err != nil {
		metrics.IncPayment(gw.Name(), "request_error")
		u.log.Error().Str("order_ref", orderRef).Err(err).Msg("gateway request failed")
		// Row stays in initiated; it never reaches the reconciler.
		return nil, "", err
	}

	if err := u.subs.MarkAwaiting(ctx, repository.NoTX, sub.ID, gw.Name(), authority); err != nil {
		u.log.Error().Str("order_ref", orderRef).Err(err).Msg("mark awaiting failed")
		return nil, "", err
	}
	sub.Status = model.StatusAwaitingPayment
	sub.Provider = gw.Name()
	sub.Authority = authority

	metrics.IncPayment(gw.Name(), "initiated")
	u.log.Info().Str("order_ref", orderRef).Str("provider", gw.Name()).
		Str("authority", authority).Int64("amount_irr", sub.AmountIRR).
		Msg("payment initiated")
	return sub, payURL, nil
}

func (u *paymentUC) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	plans, err := u.plans.List(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	out := plans[:0]
	for _, p := range plans {
		if !p.TestPlan {
			out = append(out, p)
		}
	}
	return out, nil
}

func (u *paymentUC) FindByOrderRef(ctx context.Context, orderRef string) (*model.Subscription, error) {
	return u.subs.FindByOrderRef(ctx, repository.NoTX, orderRef)
}
