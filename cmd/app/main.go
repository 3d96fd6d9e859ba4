package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vpn-subscription-shop/internal/config"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	pg "vpn-subscription-shop/internal/infra/db/postgres"
	"vpn-subscription-shop/internal/infra/logging"
	"vpn-subscription-shop/internal/infra/metrics"
	"vpn-subscription-shop/internal/infra/panel"
	pay "vpn-subscription-shop/internal/infra/payment"
	red "vpn-subscription-shop/internal/infra/redis"
	"vpn-subscription-shop/internal/infra/sched"
	tele "vpn-subscription-shop/internal/infra/telegram"
	"vpn-subscription-shop/internal/infra/web"
	"vpn-subscription-shop/internal/infra/webhook"
	"vpn-subscription-shop/internal/infra/worker"
	"vpn-subscription-shop/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	subRepo := pg.NewSubscriptionRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Payment gateways ----
	zarinpal, err := pay.NewZarinPalGateway(cfg.Payment.ZarinPal.MerchantID, cfg.Payment.ZarinPal.Sandbox)
	if err != nil {
		log.Fatalf("zarinpal gateway: %v", err)
	}
	gateways := map[model.PaymentMethod]adapter.PaymentGateway{
		model.MethodCard:     zarinpal,
		model.MethodTransfer: pay.NewTransferGateway(""),
	}
	if cfg.Payment.NowPayments.APIKey != "" {
		nowpay, err := pay.NewNowPaymentsGateway(cfg.Payment.NowPayments.APIKey, cfg.Payment.NowPayments.BaseURL)
		if err != nil {
			log.Fatalf("nowpayments gateway: %v", err)
		}
		gateways[model.MethodCrypto] = nowpay
	}

	// ---- VPN panels ----
	panels, err := panel.BuildClients(cfg.Panels)
	if err != nil {
		log.Fatalf("panels: %v", err)
	}
	// Provisioning goes to the first configured panel kind.
	primary := panels[model.PanelKind(cfg.Panels[0].Kind)]

	// ---- Operator notification sinks ----
	notifier := webhook.NewNotifier(cfg.Webhook.URL, webhook.RetryPolicy{
		MaxAttempts: cfg.Webhook.MaxAttempts,
		BaseDelay:   cfg.Webhook.BaseDelay,
		Backoff:     webhook.LinearBackoff,
	}, *logger)
	sinks := []adapter.EventSink{notifier}
	if cfg.Telegram.Token != "" {
		channel, err := tele.NewChannelSink(cfg.Telegram.Token, cfg.Telegram.ChannelID, *logger)
		if err != nil {
			log.Fatalf("telegram sink: %v", err)
		}
		sinks = append(sinks, channel)
	}

	// ---- Use cases ----
	paymentUC := usecase.NewPaymentUseCase(subRepo, planRepo, gateways, cfg.Payment.CallbackURL, *logger)
	reconcileUC := usecase.NewReconcileUseCase(subRepo, planRepo, gateways, primary, sinks, locker, cfg.Redis.LockTTL, *logger)
	adminUC := usecase.NewAdminUseCase(subRepo, txManager, reconcileUC, *logger)
	testUserUC := usecase.NewTestUserUseCase(planRepo, primary, sinks, *logger)

	// ---- HTTP servers ----
	auth := web.NewAuthManager(cfg.Admin.JWTSecret, !cfg.Runtime.Dev, cfg.Admin.SessionTTL)
	apiServer := web.NewServer(paymentUC, reconcileUC, adminUC, testUserUC, notifier, auth, cfg.Admin.Password, rateLimiter, *logger)

	public := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: apiServer.Router()}
	go func() {
		logger.Info().Str("addr", public.Addr).Msg("public api listening")
		if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("public server stopped")
		}
	}()

	ops := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.AdminPort), Handler: web.OpsRouter(pool, redisClient)}
	go func() {
		logger.Info().Str("addr", ops.Addr).Msg("ops endpoints listening")
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	// ---- Reconciliation worker ----
	workerPool := worker.NewPool(cfg.Reconciler.Workers, *logger)
	workerPool.Start(ctx)
	reconciler := sched.NewPaymentReconciler(reconcileUC, workerPool, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, *logger)
	go reconciler.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = public.Shutdown(shutdownCtx)
	_ = ops.Shutdown(shutdownCtx)
	workerPool.Stop()
}
