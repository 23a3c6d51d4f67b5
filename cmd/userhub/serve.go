package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/config"
	"github.com/userhub/userhub/internal/handlers"
	"github.com/userhub/userhub/internal/logging"
	"github.com/userhub/userhub/internal/mailer"
	"github.com/userhub/userhub/internal/middleware"
	"github.com/userhub/userhub/internal/repository"
	"github.com/userhub/userhub/internal/server"
	"github.com/userhub/userhub/internal/service"
	"github.com/userhub/userhub/internal/throttle"
	"github.com/userhub/userhub/pkg/tokens"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	repo, err := buildRepository(cfg)
	if err != nil {
		return err
	}

	limiter, err := buildLimiter(cfg)
	if err != nil {
		return err
	}

	vault := tokens.NewVault(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret)
	auditLog := audit.NewLogger(repo)
	mail := mailer.NewLogMailer(slog.Default())

	authService := service.NewAuthService(repo, vault, auditLog, mail, cfg.Mail.ResetBaseURL)
	userService := service.NewUserService(repo, auditLog)

	authHandler := handlers.NewAuthHandler(authService, limiter)
	userHandler := handlers.NewUserHandler(userService)
	authMW := middleware.NewAuthMiddleware(vault)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(authHandler, userHandler, authMW, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "database", cfg.Database.Type)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	if err := limiter.Close(); err != nil {
		slog.Warn("failed to close limiter", "error", err)
	}
	if pg, ok := repo.(*repository.PostgresRepository); ok {
		pg.Close()
	}

	slog.Info("server stopped")
	return nil
}

func buildRepository(cfg *config.Config) (repository.Repository, error) {
	switch cfg.Database.Type {
	case "postgres":
		repo, err := repository.NewPostgresRepository(context.Background(), cfg.Database.Postgres.ConnString())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return repo, nil
	case "memory", "":
		return repository.NewInMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Database.Type)
	}
}

func buildLimiter(cfg *config.Config) (throttle.Limiter, error) {
	if cfg.Throttle.RedisURL == "" {
		return throttle.NewMemoryLimiter(cfg.Throttle.Limit, cfg.Throttle.Window), nil
	}
	limiter, err := throttle.NewRedisLimiter(cfg.Throttle.RedisURL, cfg.Throttle.Limit, cfg.Throttle.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return limiter, nil
}
