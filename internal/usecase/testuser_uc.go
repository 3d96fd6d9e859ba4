package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

// Compile-time check
var _ TestUserUseCase = (*testUserUC)(nil)

type TestUserUseCase interface {
	// Create provisions a free trial account on the configured test plan
	// and reports it to the operator sinks. No order row is written; trials
	// live only on the panel.
	Create(ctx context.Context) (*model.ProvisionedAccount, error)
}

type testUserUC struct {
	plans repository.PlanRepository
	panel adapter.PanelClient
	sinks []adapter.EventSink
	log   zerolog.Logger
	rnd   *rand.Rand
}

func NewTestUserUseCase(plans repository.PlanRepository, panel adapter.PanelClient, sinks []adapter.EventSink, log zerolog.Logger) *testUserUC {
	return &testUserUC{
		plans: plans,
		panel: panel,
		sinks: sinks,
		log:   log.With().Str("component", "testuser_uc").Logger(),
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

const usernameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func (u *testUserUC) Create(ctx context.Context) (*model.ProvisionedAccount, error) {
	plan, err := u.plans.FindTestPlan(ctx, repository.NoTX)
	if err != nil {
		return nil, fmt.Errorf("test plan lookup: %w", err)
	}

	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = usernameAlphabet[u.rnd.Intn(len(usernameAlphabet))]
	}
	username := "test_" + string(suffix)

	acc, err := u.panel.CreateUser(ctx, adapter.CreateUserParams{
		Username:     username,
		DataLimitGB:  plan.DataLimitGB,
		DurationDays: plan.DurationDays,
		Note:         "trial",
	})
	if err != nil {
		u.log.Error().Err(err).Msg("trial provisioning failed")
		return nil, err
	}
	u.log.Info().Str("panel_username", acc.Username).Msg("trial account created")

	ev := model.NewTestUserEvent(acc)
	for _, sink := range u.sinks {
		go func(s adapter.EventSink) {
			if res := s.Deliver(context.Background(), ev); !res.Delivered {
				u.log.Warn().Str("panel_username", acc.Username).Str("last_err", res.LastErr).Msg("trial notification not delivered")
			}
		}(sink)
	}
	return acc, nil
}
