package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/audit"
	"github.com/Guizzs26/go-aid-sync/internal/db"
	"github.com/Guizzs26/go-aid-sync/internal/differ"
	"github.com/Guizzs26/go-aid-sync/internal/ids"
	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/internal/platform"
)

var enabled = []models.Platform{platform.Telegram, platform.VK, platform.Discord}

type recordingSink struct {
	mu      sync.Mutex
	entries []string
	err     error
}

func (s *recordingSink) Append(_ context.Context, _ string, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.entries = append(s.entries, text)
	return "msg", nil
}

func (s *recordingSink) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.entries...)
}

type fixture struct {
	store   *db.MemoryStore
	sink    *recordingSink
	tracker *StateTracker
	orch    *Orchestrator
	svc     *EntityService
	tg      *platform.Memory
	vk      *platform.Memory
	ds      *platform.Memory
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	gen, err := ids.NewGenerator(1)
	require.NoError(t, err)

	logger := discardLogger()
	f := &fixture{
		store: db.NewMemoryStore(),
		sink:  &recordingSink{},
		tg:    platform.NewMemory(platform.Telegram),
		vk:    platform.NewMemory(platform.VK),
		ds:    platform.NewMemory(platform.Discord),
	}

	auditLog := audit.NewLogger(f.sink, "audit", gen, logger)
	f.tracker = NewStateTracker(f.store, differ.New(), auditLog, logger)

	if opts.Enabled == nil {
		opts.Enabled = enabled
	}
	registry := platform.NewRegistry(f.tg, f.vk, f.ds)
	f.orch = NewOrchestrator(f.tracker, registry, opts, logger)
	f.svc = NewEntityService(f.tracker, f.orch, registry, gen, logger)
	return f
}

var seedTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func ann() models.User {
	return models.User{
		ID:             "u1",
		DisplayName:    "Ann",
		Username:       "ann",
		Platform:       platform.Telegram,
		PlatformUserID: "11",
		CreatedAt:      seedTime,
		Needs:          []models.Entity{},
		Resources:      []models.Entity{},
	}
}

func need(guid, description string, origin models.Platform) models.Entity {
	return models.Entity{
		GUID:           guid,
		Kind:           models.KindNeed,
		Description:    description,
		UserID:         "u1",
		OriginPlatform: origin,
		MessageID:      string(origin) + "-origin-" + guid,
		CreatedAt:      seedTime,
		UpdatedAt:      seedTime,
		SyncStatus:     models.StatusPending,
	}
}

// seed writes the users straight into the store and primes the tracker
func (f *fixture) seed(t *testing.T, users ...models.User) {
	t.Helper()
	s := models.NewSnapshot()
	for _, u := range users {
		s.Users[u.ID] = u
	}
	require.NoError(t, f.store.WriteAll(context.Background(), s))
	require.NoError(t, f.tracker.Prime(context.Background()))
}

func (f *fixture) entity(t *testing.T, guid string) models.Entity {
	t.Helper()
	s, err := f.store.ReadAll(context.Background())
	require.NoError(t, err)
	e, _, ok := s.Find(guid)
	require.True(t, ok, "entity %s not in store", guid)
	return e
}

var errPlatformDown = errors.New("platform down")
