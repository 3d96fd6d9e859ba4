//go:build !integration

package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/model"
)

func newTestNotifier(url string, maxAttempts int) *Notifier {
	n := NewNotifier(url, RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Backoff:     LinearBackoff,
	}, zerolog.Nop())
	n.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return n
}

func TestNotifier_Deliver(t *testing.T) {
	ctx := context.Background()

	t.Run("two failures then success delivers on the third attempt", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) <= 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"success":true}`))
		}))
		defer srv.Close()

		n := newTestNotifier(srv.URL, 3)
		res := n.Deliver(ctx, model.TestEvent())

		if !res.Delivered {
			t.Fatalf("expected delivery, last err: %s", res.LastErr)
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("expected exactly 3 calls, got %d", got)
		}
		if len(res.Attempts) != 3 {
			t.Errorf("expected 3 attempt logs, got %d", len(res.Attempts))
		}
		if res.Attempts[0].Err == "" || res.Attempts[1].Err == "" || res.Attempts[2].Err != "" {
			t.Errorf("attempt logs malformed: %+v", res.Attempts)
		}
	})

	t.Run("all attempts failing reports failure with the last error", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("down"))
		}))
		defer srv.Close()

		n := newTestNotifier(srv.URL, 3)
		res := n.Deliver(ctx, model.TestEvent())

		if res.Delivered {
			t.Fatal("expected failed delivery")
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("expected exactly 3 calls, no fourth, got %d", got)
		}
		if !strings.Contains(res.LastErr, "502") {
			t.Errorf("last error does not carry the status: %q", res.LastErr)
		}
	})

	t.Run("success false on 2xx counts as a failed attempt", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Write([]byte(`{"success":false,"error":"unknown event"}`))
		}))
		defer srv.Close()

		n := newTestNotifier(srv.URL, 2)
		res := n.Deliver(ctx, model.TestEvent())

		if res.Delivered {
			t.Fatal("expected failed delivery")
		}
		if got := atomic.LoadInt32(&calls); got != 2 {
			t.Errorf("expected 2 calls, got %d", got)
		}
		if !strings.Contains(res.LastErr, "rejected") {
			t.Errorf("unexpected last error %q", res.LastErr)
		}
	})

	t.Run("missing url fails immediately without panicking", func(t *testing.T) {
		n := newTestNotifier("", 3)
		res := n.Deliver(ctx, model.TestEvent())
		if res.Delivered || len(res.Attempts) != 0 {
			t.Errorf("expected immediate failure, got %+v", res)
		}
	})
}

func TestNotifier_Probe(t *testing.T) {
	t.Run("single attempt only", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		n := newTestNotifier(srv.URL, 3)
		res := n.Probe(context.Background())

		if res.Delivered {
			t.Fatal("expected probe failure")
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("probe must not retry, got %d calls", got)
		}
	})

	t.Run("sends the test event type", func(t *testing.T) {
		var gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := make([]byte, r.ContentLength)
			r.Body.Read(b)
			gotBody = string(b)
			w.Write([]byte(`{"success":true}`))
		}))
		defer srv.Close()

		n := newTestNotifier(srv.URL, 3)
		res := n.Probe(context.Background())
		if !res.Delivered {
			t.Fatalf("probe failed: %s", res.LastErr)
		}
		if !strings.Contains(gotBody, `"type":"test"`) {
			t.Errorf("probe body %q missing test type", gotBody)
		}
	})
}

func TestLinearBackoff(t *testing.T) {
	base := 2 * time.Second
	for attempt, want := range map[int]time.Duration{1: 2 * time.Second, 2: 4 * time.Second, 3: 6 * time.Second} {
		if got := LinearBackoff(base, attempt); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}
