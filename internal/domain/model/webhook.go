package model

import "time"

type WebhookEventType string

const (
	EventNewSubscription WebhookEventType = "new_subscription"
	EventNewTestUser     WebhookEventType = "new_test_user"
	EventTest            WebhookEventType = "test"
)

// WebhookEvent is the discriminated payload pushed to the operator
// endpoint. Built fresh per notification attempt and never persisted;
// delivery is fire-and-forget with local retry only.
type WebhookEvent struct {
	Type      WebhookEventType `json:"type"`
	CreatedAt string           `json:"created_at"` // RFC 3339

	// new_subscription / new_test_user fields (denormalized snapshot).
	OrderRef        string `json:"order_ref,omitempty"`
	Mobile          string `json:"mobile,omitempty"`
	PlanName        string `json:"plan_name,omitempty"`
	AmountIRR       int64  `json:"amount_irr,omitempty"`
	Method          string `json:"method,omitempty"`
	PanelUsername   string `json:"panel_username,omitempty"`
	SubscriptionURL string `json:"subscription_url,omitempty"`
	ExpireAt        int64  `json:"expire_at,omitempty"` // epoch seconds
}

// NewSubscriptionEvent snapshots a just-activated subscription. The caller
// must have committed the active write first; the payload is built from
// post-provisioning state.
func NewSubscriptionEvent(s *Subscription, planName string) WebhookEvent {
	ev := WebhookEvent{
		Type:          EventNewSubscription,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		OrderRef:      s.OrderRef,
		Mobile:        s.Mobile,
		PlanName:      planName,
		AmountIRR:     s.AmountIRR,
		Method:        string(s.Method),
		PanelUsername: s.PanelUsername,
	}
	ev.SubscriptionURL = s.SubscriptionURL
	if s.ExpireAt != nil {
		ev.ExpireAt = s.ExpireAt.Unix()
	}
	return ev
}

// NewTestUserEvent snapshots a trial account created by an operator.
func NewTestUserEvent(acc *ProvisionedAccount) WebhookEvent {
	return WebhookEvent{
		Type:            EventNewTestUser,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		PanelUsername:   acc.Username,
		SubscriptionURL: acc.SubscriptionURL,
		ExpireAt:        acc.ExpireAt,
	}
}

// TestEvent is the connectivity probe payload.
func TestEvent() WebhookEvent {
	return WebhookEvent{
		Type:      EventTest,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
