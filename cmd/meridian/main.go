package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-commerce/meridian-admin/internal/app"
	"github.com/meridian-commerce/meridian-admin/internal/auth"
	"github.com/meridian-commerce/meridian-admin/internal/observability"
	"github.com/meridian-commerce/meridian-admin/internal/platform/cache"
	"github.com/meridian-commerce/meridian-admin/internal/platform/db"
	"github.com/meridian-commerce/meridian-admin/internal/roles"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/staged"
	"github.com/meridian-commerce/meridian-admin/internal/themes"
	"github.com/meridian-commerce/meridian-admin/internal/users"
	"github.com/meridian-commerce/meridian-admin/internal/verify"
	"github.com/meridian-commerce/meridian-admin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	rolesRepo := roles.NewRepository(pool)
	stagedManager := staged.NewManager(redisClient, cfg.EditorSessionTTL)
	rolesService := roles.NewService(rolesRepo, stagedManager, auditLogger, logger)
	rolesHandler := roles.NewHandler(logger, rolesService)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)
	gate := auth.NewGate(rolesService)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	workflow := verify.NewWorkflow(verify.WorkflowConfig{
		Client:       redisClient,
		Authority:    verify.NewPGCodeAuthority(pool),
		Mailer:       verify.NewAsynqMailer(asynqClient, cfg.VerifyAuthorityEmail),
		Logger:       logger,
		Cooldown:     cfg.VerifyResendCooldown,
		CodeTTL:      cfg.VerifyCodeTTL,
		ChallengeTTL: cfg.VerifyChallengeTTL,
		Outcomes:     metrics,
	})
	registry := verify.NewRegistry()
	verifyHandler := verify.NewHandler(logger, workflow, registry)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, auditLogger, logger)
	usersService.RegisterCommits(registry)
	usersHandler := users.NewHandler(logger, usersService, workflow, registry)

	themesRepo := themes.NewRepository(pool)
	themesService := themes.NewService(themesRepo, auditLogger, logger)
	themesService.RegisterCommits(registry)
	themesHandler := themes.NewHandler(logger, themesService, workflow, registry)

	jobHandler := jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Gate:           gate,
		AuthHandler:    authHandler,
		RolesHandler:   rolesHandler,
		UsersHandler:   usersHandler,
		ThemesHandler:  themesHandler,
		VerifyHandler:  verifyHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
