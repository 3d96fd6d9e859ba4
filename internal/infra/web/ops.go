package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vpn-subscription-shop/internal/infra/redis"
)

// OpsRouter serves the operational endpoints. These stay off the public
// POST-only surface: Prometheus scrapes and load balancer checks are GET.
func OpsRouter(pool *pgxpool.Pool, rds redis.RedisClient) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"database": "ok", "redis": "ok"}
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				checks["database"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if rds != nil {
			if err := rds.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if status == http.StatusOK {
			writeData(w, status, checks)
		} else {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"success":false,"error":"dependency check failed","status":503}`))
		}
	})
	return r
}
