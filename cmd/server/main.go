package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/adapter/auth"
	"github.com/arturoeanton/go-release-archiver/internal/adapter/deposit"
	"github.com/arturoeanton/go-release-archiver/internal/adapter/provider"
	"github.com/arturoeanton/go-release-archiver/internal/adapter/store"
	"github.com/arturoeanton/go-release-archiver/internal/handler"
	"github.com/arturoeanton/go-release-archiver/internal/middleware"
	"github.com/arturoeanton/go-release-archiver/internal/port"
	"github.com/arturoeanton/go-release-archiver/internal/service"
	"github.com/arturoeanton/go-release-archiver/internal/tasks"
	"github.com/arturoeanton/go-release-archiver/pkg/config"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	_ "github.com/lib/pq"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()

	slog.Info("🚀 Starting Release Archiver",
		"port", cfg.Port,
		"github", cfg.GitHubEnabled,
		"gitlab", cfg.GitLabEnabled,
	)

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	if err := pgStore.Migrate(context.Background()); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// ── Providers ────────────────────────────────────────────────────────
	var factories []port.ProviderFactory
	if cfg.GitHubEnabled {
		factories = append(factories, provider.NewGitHubFactory(provider.GitHubOptions{
			BaseURL:      cfg.GitHubBaseURL,
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			SharedSecret: cfg.GitHubSharedSecret,
			InsecureSSL:  cfg.InsecureSSL,
		}, pgStore, cfg.ReceiverURL))
	}
	if cfg.GitLabEnabled {
		factories = append(factories, provider.NewGitLabFactory(provider.GitLabOptions{
			BaseURL:                 cfg.GitLabBaseURL,
			ClientID:                cfg.GitLabClientID,
			ClientSecret:            cfg.GitLabClientSecret,
			SharedSecret:            cfg.GitLabSharedSecret,
			InsecureSSL:             cfg.InsecureSSL,
			SiteName:                cfg.SiteName,
			IncludeUpcomingReleases: cfg.IncludeUpcomingReleases,
		}, pgStore, cfg.ReceiverURL))
	}
	registry, err := port.NewRegistry(factories...)
	if err != nil {
		slog.Error("provider configuration invalid", "error", err)
		os.Exit(1)
	}

	// ── OAuth ────────────────────────────────────────────────────────────
	authProviders := port.AuthProviderRegistry{}
	if cfg.GitHubEnabled {
		gh := auth.NewGitHubOAuth(cfg.GitHubBaseURL, cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.OAuthRedirectURL)
		authProviders[gh.ProviderName()] = gh
	}
	if cfg.GitLabEnabled {
		gl := auth.NewGitLabOAuth(cfg.GitLabBaseURL, cfg.GitLabClientID, cfg.GitLabClientSecret, cfg.OAuthRedirectURL)
		authProviders[gl.ProviderName()] = gl
	}

	// ── Services & background work ───────────────────────────────────────
	vcsService := service.NewVCSService(pgStore, registry, cfg.AccountRefreshAge, cfg.MaxContributors)
	depositor := deposit.NewHTTPDepositor(cfg.DepositURL, cfg.ZipballTimeout)

	runner := tasks.NewRunner(cfg.WorkerCount, cfg.TaskQueueSize, cfg.TaskMaxRetries, cfg.TaskRetryBackoff)
	runner.Start(context.Background())
	defer runner.Stop()

	taskLayer := tasks.New(runner, pgStore, registry, vcsService, depositor,
		cfg.MaxContributors, cfg.ZipballTimeout, cfg.AccountRefreshAge)

	receiver := service.NewReceiver(pgStore, registry, taskLayer)

	// ── Scheduler ────────────────────────────────────────────────────────
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.RefreshCronSpec, func() {
		taskLayer.RefreshStaleAccounts(context.Background())
	}); err != nil {
		slog.Error("invalid refresh cron spec", "spec", cfg.RefreshCronSpec, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))
	app.Use(middleware.AuditMiddleware(pgStore))

	// ── Public Routes ────────────────────────────────────────────────────
	authService := service.NewAuthService(authProviders, pgStore, vcsService, cfg)
	authHandler := handler.NewAuthHandler(authService)
	authHandler.Register(app)

	webhookHandler := handler.NewWebhookHandler(pgStore, receiver)
	webhookHandler.Register(app)

	app.Get("/api/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"app":    cfg.AppName,
		})
	})

	// ── Protected Routes ─────────────────────────────────────────────────
	jwtMiddleware := middleware.JWTMiddleware(middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
	})

	api := app.Group("/api/vcs", jwtMiddleware)
	vcsHandler := handler.NewVCSHandler(vcsService)
	vcsHandler.Register(api)

	admin := app.Group("/api", jwtMiddleware)
	auditHandler := handler.NewAuditHandler(pgStore)
	auditHandler.Register(admin)

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
