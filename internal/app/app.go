// Package app wires configuration into a running sync pipeline. Both the
// relay daemon and aidctl build their object graph here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-aid-sync/internal/audit"
	"github.com/Guizzs26/go-aid-sync/internal/broker"
	"github.com/Guizzs26/go-aid-sync/internal/config"
	"github.com/Guizzs26/go-aid-sync/internal/conflict"
	"github.com/Guizzs26/go-aid-sync/internal/db"
	"github.com/Guizzs26/go-aid-sync/internal/differ"
	"github.com/Guizzs26/go-aid-sync/internal/ids"
	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/internal/platform"
	"github.com/Guizzs26/go-aid-sync/internal/service"
	"github.com/Guizzs26/go-aid-sync/pkg/infra"
)

type App struct {
	Config       *config.Config
	Backend      *db.Backend
	Audit        *audit.Logger
	Registry     *platform.Registry
	Tracker      *service.StateTracker
	Orchestrator *service.Orchestrator
	Entities     *service.EntityService
	Resolver     *conflict.Resolver
	Queue        conflict.Queue

	// Link is set when the rabbitmq sink is configured; Run supervises it
	Link *broker.Link

	logger  *slog.Logger
	closers []func() error
}

// Build opens the store and the audit sink and assembles the services.
// Nothing talks to platforms until Run or an explicit pass.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	gen, err := ids.NewGenerator(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	backend, err := db.Open(ctx, cfg, infra.Component(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Backend = backend
	a.closers = append(a.closers, backend.Close)

	var sink audit.Sink
	switch cfg.AuditSink {
	case config.SinkRabbitMQ:
		a.Link = broker.NewLink(cfg.RabbitMQURL, infra.Component(logger, "broker"))
		a.closers = append(a.closers, a.Link.Close)
		sink = a.Link
	case config.SinkRedis:
		client, err := broker.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		redisSink := broker.NewRedisStreamSink(client, infra.Component(logger, "broker"))
		a.closers = append(a.closers, redisSink.Close)
		sink = redisSink
	case config.SinkNone, "":
	default:
		a.Close()
		return nil, fmt.Errorf("unknown AUDIT_SINK %q", cfg.AuditSink)
	}
	a.Audit = audit.NewLogger(sink, cfg.AuditChannel, gen, infra.Component(logger, "audit"))
	if a.Audit.LocalOnly() {
		logger.Warn("No audit sink configured, audit entries stay local")
	}

	a.Tracker = service.NewStateTracker(backend.Store, differ.New(), a.Audit, infra.Component(logger, "tracker"))

	enabled := toPlatforms(cfg.EnabledPlatforms)
	a.Registry = a.buildRegistry(enabled)

	policy, err := conflict.ParsePolicy(cfg.ConflictPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.Queue, err = a.openQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Resolver = conflict.NewResolver(policy, toPlatforms(cfg.PlatformPriority), a.Queue, infra.Component(logger, "conflict"))

	opts := service.Options{
		Enabled:          enabled,
		ShowOriginNotice: cfg.ShowOriginNotice,
	}
	if cfg.ConflictDetection {
		opts.Detector = conflict.NewDetector()
		opts.Resolver = a.Resolver
	}
	a.Orchestrator = service.NewOrchestrator(a.Tracker, a.Registry, opts, infra.Component(logger, "orchestrator"))
	a.Entities = service.NewEntityService(a.Tracker, a.Orchestrator, a.Registry, gen, infra.Component(logger, "entities"))

	return a, nil
}

// openQueue keeps manual conflicts next to the snapshot when the store is a
// database, in a SQLite file for the other persistent stores, and in memory
// only when the snapshot itself is in memory
func (a *App) openQueue(ctx context.Context) (conflict.Queue, error) {
	switch {
	case a.Backend.Pool != nil:
		return db.NewPostgresConflictQueue(ctx, a.Backend.Pool)
	case a.Backend.SQLite != nil:
		return db.NewSQLiteConflictQueue(ctx, a.Backend.SQLite)
	case a.Backend.Persistent():
		q, err := db.OpenSQLiteConflictQueue(ctx, a.Config.ConflictQueuePath)
		if err != nil {
			return nil, fmt.Errorf("open conflict queue: %w", err)
		}
		a.closers = append(a.closers, q.Close)
		return q, nil
	default:
		return conflict.NewMemoryQueue(), nil
	}
}

// buildRegistry bridges every enabled platform over the broker when one is
// configured; otherwise in-process platforms act as a dry run
func (a *App) buildRegistry(enabled []models.Platform) *platform.Registry {
	r := platform.NewRegistry()
	for _, p := range enabled {
		if a.Link != nil {
			r.Register(platform.NewBridge(p, a.Link, a.profileLookup(p)))
			continue
		}
		r.Register(platform.NewMemory(p))
	}
	if a.Link == nil {
		a.logger.Warn("No broker configured, platforms run in dry-run mode", "platforms", enabled)
	}
	return r
}

// profileLookup answers from the users already known to the snapshot
func (a *App) profileLookup(p models.Platform) platform.ProfileLookup {
	return func(ctx context.Context, userID string) (*platform.Profile, error) {
		snap, err := a.Tracker.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range snap.UserIDs() {
			u := snap.Users[id]
			if u.Platform == p && u.PlatformUserID == userID {
				return &platform.Profile{ID: userID, DisplayName: u.DisplayName, Username: u.Username}, nil
			}
		}
		return nil, nil
	}
}

// Run keeps the broker link alive until ctx is done. It returns immediately
// when no broker is configured.
func (a *App) Run(ctx context.Context) {
	if a.Link == nil {
		return
	}
	go a.Link.Run(ctx)
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func toPlatforms(names []string) []models.Platform {
	out := make([]models.Platform, 0, len(names))
	for _, n := range names {
		out = append(out, models.Platform(n))
	}
	return out
}
