package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"courtroom/api/internal/app"
	"courtroom/api/internal/archive"
	"courtroom/api/internal/config"
	"courtroom/api/internal/logging"
	"courtroom/api/internal/replay"
	"courtroom/api/internal/store"
	"courtroom/api/internal/verdict"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer dataStore.Close()

	if cfg.Migrate {
		if err := dataStore.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("migrations failed")
		}
	}

	deps := app.Deps{Store: dataStore, Logger: log}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using Redis for the replay cache and session fan-out")
		client, err := replay.Dial(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer client.Close()
		deps.Replay = replay.NewRedisStoreWithClient(client, cfg.ReplayTTL)
		deps.Notifier = replay.NewRedisNotifier(client)
	} else {
		log.Info("using in-process replay cache and session fan-out")
		deps.Replay = replay.NewMemoryStore(cfg.ReplayTTL)
		deps.Notifier = replay.NewLocalNotifier()
	}

	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("verdict provider setup failed")
	}
	deps.Generator = generator

	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.WithError(err).Fatal("failed to create archive dir")
		}
		deps.Archive = archive.New(cfg.ArchiveDir)
	}

	service := app.New(cfg, deps)
	hub := app.NewHub(service)
	if err := hub.Run(ctx); err != nil {
		log.WithError(err).Fatal("session fan-out subscription failed")
	}

	httpServer := app.NewHTTPServer(service, hub, app.HTTPOptions{
		CORSOrigin:   cfg.CORSOrigin,
		JWTSecret:    []byte(cfg.JWTSecret),
		AuthDisabled: cfg.AuthDisabled,
	})
	if cfg.AuthDisabled {
		log.Warn("authentication disabled, trusting X-User-ID")
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "verdict_provider": cfg.VerdictProvider}).Info("court API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown error")
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("deliberations cancelled before completion")
	}
}

func newGenerator(ctx context.Context, cfg config.Config) (verdict.Generator, error) {
	switch strings.ToLower(cfg.VerdictProvider) {
	case "gemini":
		return verdict.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "http":
		return verdict.NewHTTPClient(cfg.VerdictURL), nil
	default:
		return verdict.Static{}, nil
	}
}
