package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Guizzs26/go-aid-sync/internal/app"
	"github.com/Guizzs26/go-aid-sync/internal/broker"
	"github.com/Guizzs26/go-aid-sync/internal/config"
	"github.com/Guizzs26/go-aid-sync/internal/service"
	"github.com/Guizzs26/go-aid-sync/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "relay")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("Fatal error building the sync pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Run(ctx)

	if err := primeWithBackoff(ctx, a); err != nil {
		slog.Info("Shutdown before the store became readable")
		return
	}

	server := startObservabilityServer(cfg.MetricsPort, a)

	if a.Link != nil {
		fbLogger := infra.Component(logger, "feedback")
		feedback := service.NewFeedbackService(a.Tracker, a.Orchestrator.Enabled(), fbLogger)
		go broker.Consume(ctx, cfg.RabbitMQURL, broker.FeedbackBinding, broker.FeedbackQueue, feedback, fbLogger)
	}

	a.Orchestrator.Start(ctx, cfg.SyncInterval)
	slog.Info("Aid sync relay started",
		"pid", os.Getpid(),
		"store", cfg.StoreDriver,
		"audit_sink", cfg.AuditSink,
		"interval", cfg.SyncInterval,
	)

	<-ctx.Done()
	slog.Info("Shutting down relay")

	// waits for an in-flight pass
	a.Orchestrator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Observability server shutdown", "error", err)
	}
	slog.Info("Shutdown complete")
}

// primeWithBackoff retries the initial snapshot read until the store answers
func primeWithBackoff(ctx context.Context, a *app.App) error {
	return infra.NewReconnectBackoff().Retry(ctx, a.Tracker.Prime, func(attempt int, err error) {
		slog.Error("Snapshot store unavailable, retrying", "attempt", attempt, "error", err)
	})
}

func startObservabilityServer(port string, a *app.App) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if a.Link != nil && !a.Link.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("BROKER DOWN"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("RELAY ALIVE"))
	})

	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, ran, err := a.Orchestrator.TriggerPass(context.WithoutCancel(r.Context()))
		switch {
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		case !ran:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte("PASS ALREADY RUNNING"))
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("Observability server online", "url", "http://localhost:"+port+"/metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Observability server failed", "error", err)
		}
	}()
	return server
}
