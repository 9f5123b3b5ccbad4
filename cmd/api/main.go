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

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qisthidev/authdevice/internal/app/migrate"
	"github.com/qisthidev/authdevice/internal/event"
	httpx "github.com/qisthidev/authdevice/internal/http"
	"github.com/qisthidev/authdevice/internal/notify"
	"github.com/qisthidev/authdevice/internal/repository/postgres"
	deviceservice "github.com/qisthidev/authdevice/internal/service/device"
	"github.com/qisthidev/authdevice/internal/service/guard"
	"github.com/qisthidev/authdevice/internal/service/invitation"
	"github.com/qisthidev/authdevice/internal/service/policy"
	"github.com/qisthidev/authdevice/internal/token"
	"github.com/qisthidev/authdevice/internal/ws"
	"github.com/qisthidev/authdevice/pkg/config"
	"github.com/qisthidev/authdevice/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("authdevice", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	sink := event.MultiSink{
		event.LogSink{Logger: log},
		event.StreamSink{Hub: hub, Logger: log},
	}

	var notifier notify.Notifier = notify.Nop{}
	if url := strings.TrimSpace(cfg.NotifyWebhookURL); url != "" {
		webhook, err := notify.NewWebhook(url, cfg.NotifyWebhookToken, nil)
		if err != nil {
			log.Warn("invitation webhook unavailable", "error", err)
		} else {
			notifier = webhook
		}
	}

	gen := token.NewGenerator(cfg.DeviceTokenLength, cfg.InvitationCodeLength)
	deviceSvc := deviceservice.New(repo, gen, sink, log, cfg)
	invitationSvc := invitation.New(repo, deviceSvc, gen, notifier, sink, log, cfg)
	guardSvc := guard.New(repo, deviceSvc, sink, log)
	policySvc := policy.New(cfg)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to in-process limits", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, guardSvc, policySvc, deviceSvc, invitationSvc, hub, limiter, cfg, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("auth-device api starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("auth-device api stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
