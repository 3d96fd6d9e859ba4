//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/infra/redis"
)

func awaitingRow(subs *MockSubscriptionRepo, authority string) *model.Subscription {
	sub := &model.Subscription{
		ID:           "22222222-2222-2222-2222-222222222222",
		OrderRef:     "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Mobile:       "09120000000",
		PlanID:       goldPlan().ID,
		DataLimitGB:  50,
		DurationDays: 30,
		Method:       model.MethodCard,
		AmountIRR:    1500000,
		Status:       model.StatusAwaitingPayment,
		Provider:     "mockpay",
		Authority:    authority,
		CreatedAt:    time.Now().Add(-time.Hour),
		UpdatedAt:    time.Now().Add(-time.Hour),
	}
	_ = subs.Save(context.Background(), nil, sub)
	return sub
}

func workingPanel() *MockPanel {
	return &MockPanel{CreateFunc: func(ctx context.Context, p adapter.CreateUserParams) (*model.ProvisionedAccount, error) {
		return &model.ProvisionedAccount{
			Panel:           model.PanelMarzban,
			Username:        p.Username,
			SubscriptionURL: "https://panel.example/sub/" + p.Username,
			DataLimitBytes:  int64(p.DataLimitGB) * 1073741824,
			ExpireAt:        time.Now().Unix() + int64(p.DurationDays)*86400,
		}, nil
	}}
}

func newReconcileUC(subs *MockSubscriptionRepo, gw *MockGateway, panel *MockPanel, sink *MockSink) *reconcileUC {
	var sinks []adapter.EventSink
	if sink != nil {
		sinks = append(sinks, sink)
	}
	return NewReconcileUseCase(subs, NewMockPlanRepo(goldPlan()),
		map[model.PaymentMethod]adapter.PaymentGateway{model.MethodCard: gw},
		panel, sinks, NewMockLocker(), 30*time.Second, zerolog.Nop())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestReconcileUC_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("verified payment is provisioned and activated", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.Paid("ref-777", amount), nil
		}}
		panel := workingPanel()
		sink := &MockSink{}
		uc := newReconcileUC(subs, gw, panel, sink)

		sub, err := uc.Confirm(ctx, "A100")
		if err != nil {
			t.Fatalf("Confirm: %v", err)
		}
		if sub.Status != model.StatusActive {
			t.Fatalf("status = %s, want active", sub.Status)
		}
		if sub.RefID != "ref-777" {
			t.Errorf("ref id = %q", sub.RefID)
		}
		if sub.PaidAt == nil {
			t.Error("paid_at not set")
		}
		if sub.SubscriptionURL == "" || sub.PanelUsername == "" {
			t.Errorf("panel account not merged: %+v", sub)
		}

		waitFor(t, func() bool { return sink.Count() == 1 }, "sale notification never delivered")
		if sink.Events[0].Type != model.EventNewSubscription {
			t.Errorf("event type = %s", sink.Events[0].Type)
		}
		if sink.Events[0].PlanName != "Gold 50GB" {
			t.Errorf("plan name = %q", sink.Events[0].PlanName)
		}
	})

	t.Run("repeat confirm after activation is a no-op", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.Paid("ref-777", amount), nil
		}}
		panel := workingPanel()
		uc := newReconcileUC(subs, gw, panel, nil)

		if _, err := uc.Confirm(ctx, "A100"); err != nil {
			t.Fatalf("first Confirm: %v", err)
		}
		sub, err := uc.Confirm(ctx, "A100")
		if err != nil {
			t.Fatalf("second Confirm: %v", err)
		}
		if sub.Status != model.StatusActive {
			t.Fatalf("status = %s", sub.Status)
		}
		if gw.VerifyCalls != 1 {
			t.Errorf("gateway verified %d times, want 1", gw.VerifyCalls)
		}
		if panel.CreateCalls != 1 {
			t.Errorf("panel create called %d times, want 1", panel.CreateCalls)
		}
		if subs.PaidWrites != 1 || subs.ActiveWrites != 1 {
			t.Errorf("paid writes = %d, active writes = %d, want 1 and 1", subs.PaidWrites, subs.ActiveWrites)
		}
	})

	t.Run("failed verification marks the order failed", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.Failed("session expired", 0), nil
		}}
		panel := workingPanel()
		uc := newReconcileUC(subs, gw, panel, nil)

		sub, err := uc.Confirm(ctx, "A100")
		if err != nil {
			t.Fatalf("Confirm: %v", err)
		}
		if sub.Status != model.StatusFailed {
			t.Fatalf("status = %s, want failed", sub.Status)
		}
		if panel.CreateCalls != 0 {
			t.Error("failed payment must not be provisioned")
		}
	})

	t.Run("pending payment leaves the order awaiting", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.Pending("payment_status=confirming"), nil
		}}
		panel := workingPanel()
		uc := newReconcileUC(subs, gw, panel, nil)

		sub, err := uc.Confirm(ctx, "A100")
		if err != nil {
			t.Fatalf("Confirm: %v", err)
		}
		if sub.Status != model.StatusAwaitingPayment {
			t.Fatalf("status = %s, want awaiting_payment", sub.Status)
		}
		if panel.CreateCalls != 0 {
			t.Error("pending payment must not be provisioned")
		}
	})

	t.Run("malformed verify response leaves the order awaiting", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.Malformed("<html>oops</html>"), nil
		}}
		uc := newReconcileUC(subs, gw, workingPanel(), nil)

		_, err := uc.Confirm(ctx, "A100")
		if err == nil {
			t.Fatal("expected an error for a malformed response")
		}
		stored, _ := subs.FindByAuthority(ctx, nil, "A100")
		if stored.Status != model.StatusAwaitingPayment {
			t.Errorf("status = %s, want awaiting_payment for later retry", stored.Status)
		}
	})

	t.Run("verify transport error leaves the order awaiting", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.VerifyOutcome{}, errors.New("connection refused")
		}}
		uc := newReconcileUC(subs, gw, workingPanel(), nil)

		if _, err := uc.Confirm(ctx, "A100"); err == nil {
			t.Fatal("expected transport error to surface")
		}
		stored, _ := subs.FindByAuthority(ctx, nil, "A100")
		if stored.Status != model.StatusAwaitingPayment {
			t.Errorf("status = %s, want awaiting_payment", stored.Status)
		}
	})

	t.Run("panel failure keeps the captured payment in provision_failed", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.Paid("ref-1", amount), nil
		}}
		panel := &MockPanel{CreateFunc: func(ctx context.Context, p adapter.CreateUserParams) (*model.ProvisionedAccount, error) {
			return nil, &adapter.PanelError{Panel: model.PanelMarzban, Kind: adapter.PanelErrCreate, Detail: "quota exceeded"}
		}}
		uc := newReconcileUC(subs, gw, panel, nil)

		sub, err := uc.Confirm(ctx, "A100")
		if err == nil {
			t.Fatal("expected the panel error to surface")
		}
		if sub.Status != model.StatusProvisionFailed {
			t.Fatalf("status = %s, want provision_failed", sub.Status)
		}
		stored, _ := subs.FindByAuthority(ctx, nil, "A100")
		if stored.RefID != "ref-1" || stored.PaidAt == nil {
			t.Error("captured payment details were lost")
		}
	})

	t.Run("retry provision recovers a provision_failed order", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		row := awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.Paid("ref-1", amount), nil
		}}
		broken := true
		panel := workingPanel()
		create := panel.CreateFunc
		panel.CreateFunc = func(ctx context.Context, p adapter.CreateUserParams) (*model.ProvisionedAccount, error) {
			if broken {
				return nil, &adapter.PanelError{Panel: model.PanelMarzban, Kind: adapter.PanelErrAuth, Detail: "panel down"}
			}
			return create(ctx, p)
		}
		uc := newReconcileUC(subs, gw, panel, nil)

		if _, err := uc.Confirm(ctx, "A100"); err == nil {
			t.Fatal("expected first confirm to fail provisioning")
		}
		broken = false

		sub, err := uc.RetryProvision(ctx, row.ID)
		if err != nil {
			t.Fatalf("RetryProvision: %v", err)
		}
		if sub.Status != model.StatusActive {
			t.Fatalf("status = %s, want active", sub.Status)
		}
		if gw.VerifyCalls != 1 {
			t.Errorf("retry must not re-verify, got %d calls", gw.VerifyCalls)
		}
	})

	t.Run("busy lock backs off without touching anything", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		awaitingRow(subs, "A100")
		gw := &MockGateway{VerifyFunc: func(ctx context.Context, authority string, amount int64) (adapter.VerifyOutcome, error) {
			return adapter.Paid("r", amount), nil
		}}
		uc := newReconcileUC(subs, gw, workingPanel(), nil)

		locker := NewMockLocker()
		uc.locker = locker
		if _, err := locker.TryLock(ctx, redis.ConfirmKey("A100"), time.Minute); err != nil {
			t.Fatalf("pre-lock: %v", err)
		}

		_, err := uc.Confirm(ctx, "A100")
		if !errors.Is(err, domain.ErrLockBusy) {
			t.Fatalf("expected ErrLockBusy, got %v", err)
		}
		if gw.VerifyCalls != 0 {
			t.Error("must not verify while another confirm holds the lock")
		}
	})

	t.Run("unknown authority is not found", func(t *testing.T) {
		uc := newReconcileUC(NewMockSubscriptionRepo(), &MockGateway{}, workingPanel(), nil)
		_, err := uc.Confirm(ctx, "A404")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
