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

	"github.com/Guizzs26/go-aid-sync/internal/audit"
	"github.com/Guizzs26/go-aid-sync/internal/broker"
	"github.com/Guizzs26/go-aid-sync/internal/config"
	"github.com/Guizzs26/go-aid-sync/pkg/infra"
)

// consumer tails the audit channel and logs every transaction it reads back
func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "consumer")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := os.Getenv("AUDIT_QUEUE")
	if queue == "" {
		queue = cfg.AuditChannel + ".tail"
	}

	logger.Info("Audit consumer initializing", "sink", cfg.AuditSink, "channel", cfg.AuditChannel)

	tail := broker.NewAuditTail(func(_ context.Context, e audit.Entry) error {
		logger.Info("Audit transaction",
			"tx_id", e.TxID,
			"timestamp", e.Timestamp,
			"batch", e.Batch,
			"changes", len(e.Changes),
		)
		for _, c := range e.Changes {
			logger.Debug("Audit change", "tx_id", e.TxID, "operation", c.Operation, "entity", c.Entity, "user_id", c.UserID)
		}
		return nil
	}, logger)

	go startObservabilityServer(cfg.MetricsPort, logger)

	switch cfg.AuditSink {
	case config.SinkRabbitMQ:
		broker.Consume(ctx, cfg.RabbitMQURL, cfg.AuditChannel, queue, tail, logger)
		logger.Info("Shutdown signal received")
	case config.SinkRedis:
		consumeRedis(ctx, cfg, queue, tail, logger)
	default:
		logger.Error("CRITICAL: AUDIT_SINK must be rabbitmq or redis", "value", cfg.AuditSink)
		os.Exit(1)
	}
}

func consumeRedis(ctx context.Context, cfg *config.Config, group string, tail *broker.AuditTail, logger *slog.Logger) {
	connBackoff := infra.NewReconnectBackoff()

	for ctx.Err() == nil {
		client, err := broker.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("Redis connection failed, retrying...", "error", err)
			if connBackoff.Wait(ctx) != nil {
				return
			}
			continue
		}
		connBackoff.Reset()

		hostname, _ := os.Hostname()
		reader := broker.NewRedisStreamReader(client, cfg.AuditChannel, group, hostname, tail, logger)
		err = reader.Listen(ctx)
		client.Close()
		if err != nil {
			logger.Error("Stream reader stopped", "error", err)
			if connBackoff.Wait(ctx) != nil {
				return
			}
		}
	}
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("CONSUMER ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Observability server failed", "error", err)
	}
}
