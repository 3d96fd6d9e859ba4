package model

import (
	"fmt"
	"time"

	"vpn-subscription-shop/internal/domain"
)

type SubscriptionStatus string

const (
	// StatusInitiated means the order row exists but no gateway handle yet.
	StatusInitiated SubscriptionStatus = "initiated"
	// StatusAwaitingPayment means the customer was redirected to the gateway.
	StatusAwaitingPayment SubscriptionStatus = "awaiting_payment"
	// StatusPaid means the gateway verified the payment; provisioning pending.
	StatusPaid SubscriptionStatus = "paid"
	// StatusActive means payment verified AND a panel account exists.
	StatusActive SubscriptionStatus = "active"
	// StatusProvisionFailed means the money is captured but the panel call
	// failed; operators retry provisioning without re-charging.
	StatusProvisionFailed SubscriptionStatus = "provision_failed"
	// StatusFailed means the gateway reported the payment as failed.
	StatusFailed SubscriptionStatus = "failed"
	// StatusRejected is the terminal admin-decision state.
	StatusRejected SubscriptionStatus = "rejected"
)

type PaymentMethod string

const (
	MethodCard     PaymentMethod = "card"
	MethodCrypto   PaymentMethod = "crypto"
	MethodTransfer PaymentMethod = "transfer" // manual card-to-card, admin approved
)

type Decision string

const (
	DecisionNone     Decision = ""
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// StateTransitionError reports an attempt to move a subscription between
// two states the machine does not connect.
type StateTransitionError struct {
	From SubscriptionStatus
	To   SubscriptionStatus
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid subscription transition %s -> %s", e.From, e.To)
}

// validNext enumerates the whole state machine in one place so no handler
// can invent a transition by writing the status column directly.
var validNext = map[SubscriptionStatus][]SubscriptionStatus{
	StatusInitiated:       {StatusAwaitingPayment},
	StatusAwaitingPayment: {StatusPaid, StatusFailed},
	StatusPaid:            {StatusActive, StatusProvisionFailed, StatusRejected},
	StatusProvisionFailed: {StatusActive, StatusRejected},
	StatusActive:          {StatusRejected},
	StatusFailed:          {},
	StatusRejected:        {},
}

// Transition validates from -> to against the state machine.
func Transition(from, to SubscriptionStatus) error {
	for _, n := range validNext[from] {
		if n == to {
			return nil
		}
	}
	return &StateTransitionError{From: from, To: to}
}

// Subscription is the single persisted record per purchase attempt. It is
// created on payment initiation and mutated only by the reconciler and the
// admin decision path; rows are never deleted.
type Subscription struct {
	ID           string // UUID
	OrderRef     string // ULID, shown to the customer and the operator
	Mobile       string
	Email        string
	PlanID       string
	DataLimitGB  int
	DurationDays int
	Method       PaymentMethod
	AmountIRR    int64
	Status       SubscriptionStatus
	Provider     string // gateway name, e.g. "zarinpal"
	Authority    string // gateway session token bridging redirect -> verify
	RefID        string // gateway reference id after verification

	// Filled by the reconciler from the panel's ProvisionedAccount.
	PanelKind       PanelKind
	PanelUsername   string
	SubscriptionURL string
	ExpireAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
	Decision  Decision
	DecidedAt *time.Time
}

// NewSubscription builds the initiated row for a plan purchase.
func NewSubscription(id, orderRef, mobile, email string, plan *Plan, method PaymentMethod) (*Subscription, error) {
	if id == "" || orderRef == "" || plan == nil {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:           id,
		OrderRef:     orderRef,
		Mobile:       mobile,
		Email:        email,
		PlanID:       plan.ID,
		DataLimitGB:  plan.DataLimitGB,
		DurationDays: plan.DurationDays,
		Method:       method,
		AmountIRR:    plan.PriceIRR,
		Status:       StatusInitiated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Expired is derived at read time; it is never a stored status.
func (s *Subscription) Expired(at time.Time) bool {
	return s.ExpireAt != nil && at.After(*s.ExpireAt)
}

// MergeAccount copies the panel's returned account into the row. The
// reconciler calls this exactly once, inside the paid -> active write.
func (s *Subscription) MergeAccount(acc *ProvisionedAccount) error {
	if acc == nil || acc.Username == "" {
		return domain.ErrInvalidArgument
	}
	s.PanelKind = acc.Panel
	s.PanelUsername = acc.Username
	s.SubscriptionURL = acc.SubscriptionURL
	exp := time.Unix(acc.ExpireAt, 0)
	s.ExpireAt = &exp
	return nil
}
