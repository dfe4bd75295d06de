package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"paybroker/internal/config"
	"paybroker/internal/dispatch"
	"paybroker/internal/health"
	"paybroker/internal/httpapi"
	"paybroker/internal/ledger"
	"paybroker/internal/queue"
	"paybroker/internal/summary"
)

func main() {
	settings := config.Load()
	slog.SetLogLoggerLevel(parseLevel(settings.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        512,
			MaxIdleConnsPerHost: 128,
			IdleConnTimeout:     120 * time.Second,
			MaxConnsPerHost:     512,
			DialContext: (&net.Dialer{
				Timeout:   time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	rdb := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis failed", "addr", settings.RedisAddr, "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	pool, err := ledger.NewPool(ctx, settings.PostgresDSN)
	if err != nil {
		slog.Error("postgres failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := ledger.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	queueManager := queue.NewManager(rdb)
	summaryService := summary.NewService(rdb, store)

	monitor := health.NewMonitor(rdb, client,
		store, settings.DefaultProcessorURL, settings.FallbackProcessorURL, settings.HealthTick)
	monitor.Start(ctx)

	processorClient := dispatch.NewClient(client, settings.DefaultProcessorURL, settings.FallbackProcessorURL)
	engine := dispatch.NewEngine(processorClient, store, queueManager, monitor, summaryService)

	worker := dispatch.NewWorker(engine, queueManager, dispatch.WorkerConfig{
		BatchSize:    settings.DrainBatchSize,
		IdleDelay:    settings.DrainIdleDelay,
		ReclaimAge:   settings.ReclaimAge,
		ReclaimEvery: settings.ReclaimEvery,
	})
	worker.Start(ctx)

	admin := httpapi.NewAdminService(queueManager, store, summaryService, client,
		settings.DefaultProcessorURL, settings.FallbackProcessorURL, settings.AdminToken, settings.ReclaimAge)

	app := httpapi.NewApp(httpapi.NewHandler(engine, summaryService, admin))

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			slog.Warn("shutdown incomplete", "err", err)
		}
	}()

	slog.Info("server running", "port", settings.ServerPort)
	if err := app.Listen(":" + settings.ServerPort); err != nil {
		slog.Error("server failed", "err", err)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
