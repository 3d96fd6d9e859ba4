// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"vpn-subscription-shop/internal/config"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, _ := zerolog.ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if cfg.Sampling && !dev {
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

type ctxKey string

const (
	ctxOrderRef  ctxKey = "order_ref"
	ctxAuthority ctxKey = "authority"
)

// With attaches request-scoped correlation fields when present in ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v := ctx.Value(ctxOrderRef); v != nil {
		l = l.Str("order_ref", v.(string))
	}
	if v := ctx.Value(ctxAuthority); v != nil {
		l = l.Str("authority", v.(string))
	}
	logger := l.Logger()
	return &logger
}

func WithOrderRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, ctxOrderRef, ref)
}

func WithAuthority(ctx context.Context, authority string) context.Context {
	return context.WithValue(ctx, ctxAuthority, authority)
}

// Redact hides customer identifiers when not in dev; keep short/preview.
func Redact(s string, dev bool) string {
	if dev {
		return s
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}
