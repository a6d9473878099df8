package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	configloader "github.com/foxseedlab/trivia/external/config"
	"github.com/foxseedlab/trivia/external/discord"
	leaderboardimpl "github.com/foxseedlab/trivia/external/leaderboard"
	"github.com/foxseedlab/trivia/external/opentdb"
	"github.com/foxseedlab/trivia/external/opsserver"
	repositoryimpl "github.com/foxseedlab/trivia/external/repository"
	telemetryimpl "github.com/foxseedlab/trivia/external/telemetry"
	webhookimpl "github.com/foxseedlab/trivia/external/webhook"
	"github.com/foxseedlab/trivia/internal/config"
	discordpkg "github.com/foxseedlab/trivia/internal/discord"
	"github.com/foxseedlab/trivia/internal/repository"
	"github.com/foxseedlab/trivia/internal/session"
)

const (
	discordConnectTimeout = 20 * time.Second
	shutdownTimeout       = 10 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	logger := initLogger(cfg)
	logger.Info("startup: configuration loaded", "env", cfg.Env, "database_driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetryimpl.Setup(ctx, cfg.OTelExporterEndpoint, telemetryimpl.ServiceName)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	logger.Info("startup: building dependency graph")
	injector := setupDI(cfg, logger)
	defer closeRepository(injector, logger)

	logger.Info("startup: launching discord bot")
	if err := runBot(ctx, cfg, injector, logger); err != nil {
		logger.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func setupDI(cfg *config.Config, logger *slog.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	repositoryimpl.RegisterDI(injector)
	telemetryimpl.RegisterDI(injector)
	leaderboardimpl.RegisterDI(injector)
	opentdb.RegisterDI(injector)
	discord.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func closeRepository(injector do.Injector, logger *slog.Logger) {
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		return
	}
	if c, ok := repo.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Error("repository close failed", "error", err)
		}
	}
}

func runBot(ctx context.Context, cfg *config.Config, injector do.Injector, logger *slog.Logger) error {
	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		return err
	}
	handler, err := do.Invoke[*session.Handler](injector)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, discordConnectTimeout)
	defer cancel()

	logger.Info("startup: connecting to discord gateway")
	if err := dc.Connect(connectCtx); err != nil {
		return err
	}
	defer func() {
		if err := dc.Close(); err != nil {
			logger.Error("discord close failed", "error", err)
		}
	}()
	logger.Info("startup: discord connected")

	botUserID, err := dc.GetBotUserID()
	if err != nil {
		return err
	}
	handler.SetBotUserID(botUserID)
	dc.RegisterMessageHandler(handler.HandleMessage)
	logger.Info("discord handlers registered", "bot_user_id", botUserID, "prefix", cfg.CommandPrefix)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("startup: entering discord run loop")
		return dc.Run(gctx)
	})
	if cfg.OpsAddr != "" {
		g.Go(func() error {
			return opsserver.New(cfg.OpsAddr, logger).Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
