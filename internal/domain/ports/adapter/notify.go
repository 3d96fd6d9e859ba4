package adapter

import (
	"context"

	"vpn-subscription-shop/internal/domain/model"
)

// AttemptLog is one structured delivery-attempt record.
type AttemptLog struct {
	N       int
	Err     string // empty on success
	Elapsed int64  // milliseconds
}

// DeliveryResult is returned instead of an error so callers are forced to
// check the flag; the notifier never panics past its own boundary.
type DeliveryResult struct {
	Delivered bool
	Attempts  []AttemptLog
	LastErr   string
}

// EventSink delivers operator-facing events. Deliver applies the sink's
// own bounded retry; Probe is a single-attempt connectivity check.
type EventSink interface {
	Deliver(ctx context.Context, ev model.WebhookEvent) DeliveryResult
	Probe(ctx context.Context) DeliveryResult
}
