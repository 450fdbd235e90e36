package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/dental-frontdesk/internal/api/router"
	"github.com/wolfman30/dental-frontdesk/internal/compliance"
	appconfig "github.com/wolfman30/dental-frontdesk/internal/config"
	"github.com/wolfman30/dental-frontdesk/internal/conversation"
	httpmiddleware "github.com/wolfman30/dental-frontdesk/internal/http/middleware"
	"github.com/wolfman30/dental-frontdesk/internal/tasks"
	"github.com/wolfman30/dental-frontdesk/internal/webchat"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dental front desk API",
		"env", cfg.Env,
		"port", cfg.Port,
		"practice", cfg.PracticeName,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	var hooks cleanup
	defer hooks.run()
	awsCfg := &awsLoader{cfg: cfg}

	pol, err := loadPolicy(cfg)
	if err != nil {
		return err
	}
	metricsHandler, policyMetrics := setupMetrics()

	convStore, convLocker, err := buildConversationStore(cfg, &hooks)
	if err != nil {
		return err
	}
	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		hooks.add(pool.Close)
	}
	taskStore, err := buildTaskStore(ctx, cfg, pool, awsCfg, logger)
	if err != nil {
		return err
	}
	safety, err := buildSafety(ctx, cfg, pol, awsCfg, &hooks)
	if err != nil {
		return err
	}

	engineCfg := conversation.EngineConfig{
		Policy:       pol,
		PracticeName: cfg.PracticeName,
		Store:        convStore,
		Locker:       convLocker,
		TaskStore:    taskStore,
		Safety:       safety,
		Metrics:      policyMetrics,
		Logger:       logger,
	}
	var auditHandler *compliance.Handler
	if db := openAuditDB(cfg.DatabaseURL, logger); db != nil {
		hooks.add(func() { _ = db.Close() })
		audit := compliance.NewAuditService(db)
		engineCfg.Auditor = audit
		auditHandler = compliance.NewHandler(audit, logger)
	}
	engine, err := conversation.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET is empty; staff and admin routes will reject every request")
	}
	chat := webchat.NewHandler(engine, logger)
	convHandler := conversation.NewHandler(engine, logger)
	convHandler.SetNotifier(chat)

	handler := router.New(&router.Config{
		Logger:              logger,
		WebchatHandler:      chat,
		ConversationHandler: convHandler,
		TasksHandler:        tasks.NewHandler(taskStore, logger),
		AuditHandler:        auditHandler,
		MetricsHandler:      metricsHandler,
		RateLimiter:         limiter,
		StaffJWTSecret:      cfg.AdminJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr,
			"conversation_store", cfg.ConversationStore,
			"task_store", cfg.TaskStore,
			"safety_model", cfg.SafetyModelProvider,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
