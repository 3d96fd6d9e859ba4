package web

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/infra/redis"
	"vpn-subscription-shop/internal/usecase"
)

const (
	requestRateLimit  = 20
	requestRateWindow = time.Minute
)

type Server struct {
	paymentUC   usecase.PaymentUseCase
	reconcile   usecase.ReconcileUseCase
	adminUC     usecase.AdminUseCase
	testUserUC  usecase.TestUserUseCase
	webhookSink adapter.EventSink

	auth          *AuthManager
	adminPassword string
	limiter       *redis.RateLimiter
	log           zerolog.Logger
}

func NewServer(
	paymentUC usecase.PaymentUseCase,
	reconcile usecase.ReconcileUseCase,
	adminUC usecase.AdminUseCase,
	testUserUC usecase.TestUserUseCase,
	webhookSink adapter.EventSink,
	auth *AuthManager,
	adminPassword string,
	limiter *redis.RateLimiter,
	log zerolog.Logger,
) *Server {
	return &Server{
		paymentUC:     paymentUC,
		reconcile:     reconcile,
		adminUC:       adminUC,
		testUserUC:    testUserUC,
		webhookSink:   webhookSink,
		auth:          auth,
		adminPassword: adminPassword,
		limiter:       limiter,
		log:           log.With().Str("component", "web").Logger(),
	}
}

// Router builds the public API router. The storefront talks to the API
// exclusively via POST; OPTIONS is answered for CORS preflight and every
// other verb gets 405.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsPostOnly)

	r.Post("/api/plans", s.handleListPlans)
	r.With(s.rateLimit).Post("/api/payment/request", s.handlePaymentRequest)
	r.Post("/api/payment/callback", s.handlePaymentCallback)
	r.Post("/api/order/status", s.handleOrderStatus)

	r.Route("/api/admin", func(ar chi.Router) {
		ar.Post("/login", s.handleAdminLogin)
		ar.Group(func(pr chi.Router) {
			pr.Use(s.requireAdmin)
			pr.Post("/logout", s.handleAdminLogout)
			pr.Post("/orders", s.handleAdminOrders)
			pr.Post("/decide", s.handleAdminDecide)
			pr.Post("/retry-provision", s.handleAdminRetryProvision)
			pr.Post("/testuser", s.handleAdminTestUser)
			pr.Post("/webhook/test", s.handleAdminWebhookTest)
		})
	})

	return r
}

// corsPostOnly answers CORS preflight permissively and refuses every
// method except POST before any handler runs.
func (s *Server) corsPostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "only POST is accepted")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			ok, lerr := s.limiter.Allow(r.Context(), redis.ClientRequestKey(ip, r.URL.Path), requestRateLimit, requestRateWindow)
			if lerr != nil {
				// Redis being down must not take payments down with it.
				s.log.Warn().Err(lerr).Msg("rate limiter unavailable, letting request through")
			} else if !ok {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
