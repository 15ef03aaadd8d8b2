package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/outline-bot/subscription-service/internal/adapters/logging"
	"github.com/outline-bot/subscription-service/internal/adapters/outline"
	"github.com/outline-bot/subscription-service/internal/adapters/postgres"
	"github.com/outline-bot/subscription-service/internal/adapters/telegram"
	"github.com/outline-bot/subscription-service/internal/config"
	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	bothandler "github.com/outline-bot/subscription-service/internal/handlers/bot"
	cronhandler "github.com/outline-bot/subscription-service/internal/handlers/cron"
	paymenthandler "github.com/outline-bot/subscription-service/internal/handlers/payment"
	"github.com/outline-bot/subscription-service/internal/scheduler"
	paymentservice "github.com/outline-bot/subscription-service/internal/services/payment"
	referralservice "github.com/outline-bot/subscription-service/internal/services/referral"
	subscriptionservice "github.com/outline-bot/subscription-service/internal/services/subscription"
	userservice "github.com/outline-bot/subscription-service/internal/services/user"
	"github.com/outline-bot/subscription-service/pkg/httpclient"
	"github.com/outline-bot/subscription-service/pkg/observability"
	"github.com/outline-bot/subscription-service/pkg/resilience"
	"github.com/outline-bot/subscription-service/pkg/shutdown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer appLogger.Sync()
	zapLogger := appLogger.Zap()

	zapLogger.Info("starting subscription service",
		zap.String("mode", string(cfg.Mode)),
		zap.String("server_port", cfg.ServerPort),
		zap.String("metrics_port", cfg.MetricsPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		zapLogger.Fatal("failed to parse database config", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.DB.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		zapLogger.Fatal("failed to create database pool", zap.Error(err))
	}
	if err := pool.Ping(ctx); err != nil {
		zapLogger.Fatal("failed to ping database", zap.Error(err))
	}
	zapLogger.Info("database connected", zap.String("database", cfg.DB.Name))

	timeouts := resilience.DefaultTimeoutConfig()
	if cfg.Mode == config.ModeTest {
		timeouts = resilience.TestTimeoutConfig()
	}

	db := postgres.NewDBExecutor(pool)
	userRepo := postgres.NewUserRepository(db)
	tariffRepo := postgres.NewTariffRepository(db)
	subRepo := postgres.NewSubscriptionRepository(db)
	referralRepo := postgres.NewReferralRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	jobRepo := postgres.NewJobRepository(db)

	vpnClient := outline.NewClient(
		cfg.VPNAPIURL,
		cfg.VPNCertSHA256,
		httpclient.New(httpclient.OutlineConfig(), timeouts.VPNAttempt),
		timeouts,
		appLogger,
	)
	notifier := telegram.NewNotifier(
		cfg.BotToken,
		httpclient.New(httpclient.ChatConfig(), timeouts.ChatSend),
		timeouts,
		appLogger,
	)

	worker := scheduler.NewWorker(jobRepo, timeouts, appLogger)

	subSvc := subscriptionservice.NewService(
		db, userRepo, tariffRepo, subRepo, jobRepo,
		vpnClient, notifier, appLogger, worker.Wake,
	)
	userSvc := userservice.NewService(db, userRepo, subRepo, referralRepo, subSvc, appLogger)
	referralSvc := referralservice.NewService(userRepo, referralRepo, appLogger)
	paymentSvc := paymentservice.NewService(db, tariffRepo, subRepo, paymentRepo, subSvc, appLogger)

	worker.Register(scheduler.HandlerDeactivate, func(ctx context.Context, args models.JobArgs) error {
		return subSvc.Deactivate(ctx, args.SubID)
	})
	worker.Register(scheduler.HandlerNotify, func(ctx context.Context, args models.JobArgs) error {
		return subSvc.Notify(ctx, args.SubID)
	})

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	// The cron entries back up the worker's own timer: a periodic sweep nudge
	// and a daily stats refresh for the dashboards.
	cronRunner := cron.New()
	if _, err := cronRunner.AddFunc("@every 1m", worker.Wake); err != nil {
		zapLogger.Fatal("failed to schedule sweep nudge", zap.Error(err))
	}
	if _, err := cronRunner.AddFunc("@daily", func() {
		statsCtx, statsCancel := timeouts.HandlerContext(context.Background())
		defer statsCancel()
		refreshStats(statsCtx, db, subRepo, jobRepo, zapLogger)
	}); err != nil {
		zapLogger.Fatal("failed to schedule stats refresh", zap.Error(err))
	}
	cronRunner.Start()

	callbackHandler := paymenthandler.NewCallbackHandler(paymentSvc, zapLogger, timeouts, cfg.CronSecret)
	sweepHandler := cronhandler.NewSweepHandler(worker, db, subRepo, jobRepo, vpnClient, zapLogger, timeouts, cfg.CronSecret)
	botHandler := bothandler.NewHandler(userSvc, referralSvc, subSvc, paymentSvc, tariffRepo,
		cfg.BotUsername, zapLogger, timeouts, cfg.CronSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("/payments/callback", callbackHandler.HandleCallback)
	mux.HandleFunc("/cron/sweep", sweepHandler.HandleSweep)
	mux.HandleFunc("/cron/stats", sweepHandler.HandleStats)
	mux.HandleFunc("/bot/start", botHandler.HandleStart)
	mux.HandleFunc("/bot/trial", botHandler.HandleTrial)
	mux.HandleFunc("/bot/subscription", botHandler.HandleSubscription)
	mux.HandleFunc("/bot/referrals", botHandler.HandleReferrals)
	mux.HandleFunc("/bot/tariffs", botHandler.HandleTariffs)
	mux.HandleFunc("/bot/invoice", botHandler.HandleInvoice)

	apiServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeouts.HTTPHandler,
	}
	go func() {
		zapLogger.Info("api server listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("api server failed", zap.Error(err))
		}
	}()

	healthChecker := observability.NewHealthChecker(pool)
	metricsServer := observability.StartMetricsServer(cfg.MetricsPort, healthChecker)

	// Registration order is startup order; shutdown runs in reverse, so the
	// pool closes only after everything that uses it has stopped.
	mgr := shutdown.NewManager(zapLogger, shutdownTimeout)
	mgr.RegisterNoErr("database_pool", pool.Close)
	mgr.Register("metrics_server", metricsServer.Shutdown)
	mgr.RegisterHTTPServer("api_server", apiServer)
	mgr.RegisterNoErr("cron_runner", func() { <-cronRunner.Stop().Done() })
	mgr.Register("scheduler_worker", func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-workerDone:
			return nil
		case <-shutdownCtx.Done():
			return fmt.Errorf("scheduler worker did not stop in time")
		}
	})

	mgr.WaitForShutdown()
}

func newLogger(cfg *config.Config) (*logging.ZapLoggerAdapter, error) {
	if cfg.Mode == config.ModeDev {
		return logging.NewZapLoggerDevelopment()
	}
	return logging.NewZapLoggerProduction(cfg.LogLevel)
}

// refreshStats recomputes the gauges the scheduler and services only touch on
// writes, so a quiet day still reports accurate numbers. One read-only
// transaction keeps the two gauges consistent with each other.
func refreshStats(ctx context.Context, db ports.DBPort, subs ports.SubscriptionRepository, jobs ports.JobRepository, logger *zap.Logger) {
	var activeCount int
	var pending int64
	err := db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		active, err := subs.ListActive(ctx, tx)
		if err != nil {
			return fmt.Errorf("list active subscriptions: %w", err)
		}
		pending, err = jobs.CountPending(ctx, tx)
		if err != nil {
			return fmt.Errorf("count pending jobs: %w", err)
		}
		activeCount = len(active)
		return nil
	})
	if err != nil {
		logger.Error("stats refresh failed", zap.Error(err))
		return
	}

	observability.UpdateActiveSubscriptions(float64(activeCount))
	observability.UpdatePendingJobs(float64(pending))
	logger.Info("daily stats refreshed",
		zap.Int("active_subscriptions", activeCount),
		zap.Int64("pending_jobs", pending))
}
