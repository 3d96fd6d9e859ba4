//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

func goldPlan() *model.Plan {
	return &model.Plan{ID: "11111111-1111-1111-1111-111111111111", Name: "Gold 50GB", DataLimitGB: 50, DurationDays: 30, PriceIRR: 1500000}
}

func newPaymentUC(subs *MockSubscriptionRepo, gw *MockGateway, plans ...*model.Plan) *paymentUC {
	return NewPaymentUseCase(subs, NewMockPlanRepo(plans...),
		map[model.PaymentMethod]adapter.PaymentGateway{model.MethodCard: gw},
		"https://shop.example/api/payment/callback", zerolog.Nop())
}

func TestPaymentUC_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path leaves an awaiting row holding the authority", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		gw := &MockGateway{RequestFunc: func(ctx context.Context, req adapter.PaymentRequest) (string, string, error) {
			if req.AmountIRR != 1500000 {
				t.Errorf("gateway got amount %d", req.AmountIRR)
			}
			return "A100", "https://pay.example/StartPay/A100", nil
		}}
		uc := newPaymentUC(subs, gw, goldPlan())

		sub, payURL, err := uc.Initiate(ctx, goldPlan().ID, "09120000000", "", model.MethodCard)
		if err != nil {
			t.Fatalf("Initiate: %v", err)
		}
		if payURL == "" {
			t.Fatal("expected a redirect URL")
		}
		if sub.OrderRef == "" {
			t.Error("order ref not assigned")
		}

		stored, err := subs.FindByAuthority(ctx, nil, "A100")
		if err != nil {
			t.Fatalf("row not findable by authority: %v", err)
		}
		if stored.Status != model.StatusAwaitingPayment {
			t.Errorf("status = %s, want awaiting_payment", stored.Status)
		}
		if stored.Provider != "mockpay" {
			t.Errorf("provider = %q", stored.Provider)
		}
	})

	t.Run("gateway failure keeps the row in initiated with no redirect", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		gw := &MockGateway{RequestFunc: func(ctx context.Context, req adapter.PaymentRequest) (string, string, error) {
			return "", "", errors.New("gateway down")
		}}
		uc := newPaymentUC(subs, gw, goldPlan())

		_, payURL, err := uc.Initiate(ctx, goldPlan().ID, "09120000000", "", model.MethodCard)
		if err == nil {
			t.Fatal("expected an error")
		}
		if payURL != "" {
			t.Error("must not hand out a redirect URL without an authority")
		}
		rows, _ := subs.ListByStatus(ctx, nil, model.StatusInitiated, 0, 10)
		if len(rows) != 1 {
			t.Fatalf("expected one initiated row, got %d", len(rows))
		}
		if rows[0].Authority != "" {
			t.Error("initiated row must not carry an authority")
		}
	})

	t.Run("unknown plan is rejected before touching the gateway", func(t *testing.T) {
		called := false
		gw := &MockGateway{RequestFunc: func(ctx context.Context, req adapter.PaymentRequest) (string, string, error) {
			called = true
			return "A1", "u", nil
		}}
		uc := newPaymentUC(NewMockSubscriptionRepo(), gw, goldPlan())

		_, _, err := uc.Initiate(ctx, "missing-plan", "09120000000", "", model.MethodCard)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if called {
			t.Error("gateway must not be called for an unknown plan")
		}
	})

	t.Run("test plans are not sellable", func(t *testing.T) {
		trial := &model.Plan{ID: "trial", Name: "Trial", DataLimitGB: 1, DurationDays: 1, TestPlan: true}
		uc := newPaymentUC(NewMockSubscriptionRepo(), &MockGateway{}, trial)
		_, _, err := uc.Initiate(ctx, "trial", "09120000000", "", model.MethodCard)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("unsupported method is rejected", func(t *testing.T) {
		uc := newPaymentUC(NewMockSubscriptionRepo(), &MockGateway{}, goldPlan())
		_, _, err := uc.Initiate(ctx, goldPlan().ID, "09120000000", "", model.MethodCrypto)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("order refs are unique across initiations", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		n := 0
		gw := &MockGateway{RequestFunc: func(ctx context.Context, req adapter.PaymentRequest) (string, string, error) {
			n++
			return "A" + string(rune('0'+n)), "https://pay.example/A", nil
		}}
		uc := newPaymentUC(subs, gw, goldPlan())

		seen := map[string]bool{}
		for i := 0; i < 10; i++ {
			sub, _, err := uc.Initiate(ctx, goldPlan().ID, "09120000000", "", model.MethodCard)
			if err != nil {
				t.Fatalf("Initiate #%d: %v", i, err)
			}
			if seen[sub.OrderRef] {
				t.Fatalf("duplicate order ref %s", sub.OrderRef)
			}
			seen[sub.OrderRef] = true
		}
	})
}

func TestPaymentUC_ListPlans(t *testing.T) {
	trial := &model.Plan{ID: "trial", Name: "Trial", TestPlan: true}
	uc := newPaymentUC(NewMockSubscriptionRepo(), &MockGateway{}, goldPlan(), trial)

	plans, err := uc.ListPlans(context.Background())
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	for _, p := range plans {
		if p.TestPlan {
			t.Error("trial plan leaked into the public catalog")
		}
	}
	if len(plans) != 1 {
		t.Errorf("expected 1 sellable plan, got %d", len(plans))
	}
}
