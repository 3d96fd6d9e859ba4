package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/infra/metrics"
)

const probeTimeout = 3 * time.Second

// RetryPolicy controls the notifier's bounded delivery loop. Backoff
// receives the attempt number starting at 1 and returns the sleep before
// the NEXT attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     func(base time.Duration, attempt int) time.Duration
}

// LinearBackoff waits base*attempt between attempts: 2s, 4s, 6s with the
// default 2s base.
func LinearBackoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Backoff: LinearBackoff}
}

// Notifier posts JSON events to a single operator-configured URL and
// implements adapter.EventSink. Delivery failures are reported in the
// result, never raised; the payment pipeline must not fail because the
// notification endpoint is down.
type Notifier struct {
	url    string
	policy RetryPolicy
	client *http.Client
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewNotifier(url string, policy RetryPolicy, log zerolog.Logger) *Notifier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 2 * time.Second
	}
	if policy.Backoff == nil {
		policy.Backoff = LinearBackoff
	}
	return &Notifier{
		url:    url,
		policy: policy,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "webhook").Logger(),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver posts the event, retrying up to MaxAttempts. A non-2xx status
// or a {"success":false} body counts as a failed attempt the same as a
// transport error.
func (n *Notifier) Deliver(ctx context.Context, ev model.WebhookEvent) adapter.DeliveryResult {
	if n.url == "" {
		return adapter.DeliveryResult{Delivered: false, LastErr: "webhook url not configured"}
	}

	res := adapter.DeliveryResult{}
	for attempt := 1; attempt <= n.policy.MaxAttempts; attempt++ {
		start := time.Now()
		err := n.post(ctx, ev)
		elapsed := time.Since(start).Milliseconds()

		log := adapter.AttemptLog{N: attempt, Elapsed: elapsed}
		if err == nil {
			res.Attempts = append(res.Attempts, log)
			res.Delivered = true
			metrics.IncWebhookAttempt(string(ev.Type), "ok")
			metrics.IncWebhookDelivery(string(ev.Type), true)
			n.log.Debug().Str("event", string(ev.Type)).Int("attempt", attempt).Msg("webhook delivered")
			return res
		}

		log.Err = err.Error()
		res.Attempts = append(res.Attempts, log)
		res.LastErr = err.Error()
		metrics.IncWebhookAttempt(string(ev.Type), "error")
		n.log.Warn().Str("event", string(ev.Type)).Int("attempt", attempt).Err(err).Msg("webhook attempt failed")

		if attempt < n.policy.MaxAttempts {
			if serr := n.sleep(ctx, n.policy.Backoff(n.policy.BaseDelay, attempt)); serr != nil {
				res.LastErr = serr.Error()
				break
			}
		}
	}
	metrics.IncWebhookDelivery(string(ev.Type), false)
	n.log.Error().Str("event", string(ev.Type)).Int("attempts", len(res.Attempts)).Str("last_err", res.LastErr).Msg("webhook delivery gave up")
	return res
}

// Probe sends a single test event with a short timeout. No retry: the
// caller wants an immediate health signal.
func (n *Notifier) Probe(ctx context.Context) adapter.DeliveryResult {
	if n.url == "" {
		return adapter.DeliveryResult{Delivered: false, LastErr: "webhook url not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := n.post(ctx, model.TestEvent())
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return adapter.DeliveryResult{
			Delivered: false,
			Attempts:  []adapter.AttemptLog{{N: 1, Err: err.Error(), Elapsed: elapsed}},
			LastErr:   err.Error(),
		}
	}
	return adapter.DeliveryResult{
		Delivered: true,
		Attempts:  []adapter.AttemptLog{{N: 1, Elapsed: elapsed}},
	}
}

func (n *Notifier) post(ctx context.Context, ev model.WebhookEvent) error {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}

	// An explicit success:false from the receiver counts as a failure even
	// on a 2xx status. Anything else on 2xx is accepted.
	var ack struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &ack); err == nil && ack.Success != nil && !*ack.Success {
		return fmt.Errorf("receiver rejected event: %s", raw)
	}
	return nil
}
