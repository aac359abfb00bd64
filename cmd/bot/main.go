package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"
	"github.com/joho/godotenv"

	"github.com/noahxzhu/devoir-reminders/internal/builder"
	"github.com/noahxzhu/devoir-reminders/internal/config"
	"github.com/noahxzhu/devoir-reminders/internal/discord"
	"github.com/noahxzhu/devoir-reminders/internal/guildcfg"
	"github.com/noahxzhu/devoir-reminders/internal/homework"
	"github.com/noahxzhu/devoir-reminders/internal/reminders"
	"github.com/noahxzhu/devoir-reminders/internal/storage"
	"github.com/noahxzhu/devoir-reminders/internal/web"
	"github.com/noahxzhu/devoir-reminders/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("Fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("configs/config.yaml")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Discord.Token == "" {
		return errors.New("discord token is not set (DISCORD_TOKEN)")
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.FilePath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close storage", "error", err)
		}
	}()

	guilds := guildcfg.NewStore(cfg.Data.GuildsPath)
	entities := homework.NewStore(cfg.Data.EntitiesPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := openSession(ctx, cfg.Discord.Token, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	w := worker.NewWorker(store, discord.NewGateway(session), guilds, worker.Config{
		PollInterval:    cfg.Scheduler.PollInterval,
		CleanupInterval: cfg.Scheduler.CleanupInterval,
		Retention:       cfg.Scheduler.Retention,
	}, logger)

	svc := reminders.NewService(store, guilds, builder.New(loc), logger)
	svc.SetOnChange(w.Refresh)

	all, err := entities.List()
	if err != nil {
		return fmt.Errorf("load homework: %w", err)
	}
	n := svc.RebuildAll(all)
	slog.Info("Rebuilt reminders", "entities", len(all), "reminders", n)

	go func() {
		if err := w.Start(ctx); err != nil {
			slog.Error("Worker failed", "error", err)
			cancel()
		}
	}()

	srv := web.NewServer(entities, guilds, store, svc, cfg.Server.Token, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting admin server", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("Bot exited")
	return nil
}

func openSession(ctx context.Context, token string, logger *slog.Logger) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages

	err = retry.Do(
		session.Open,
		retry.Attempts(5),
		retry.Delay(2*time.Second),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Retrying discord connection", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open discord session: %w", err)
	}
	return session, nil
}
