// Package platform defines the capability set every target platform
// implements and the decorators the sync layer relies on.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

var (
	// ErrMessageNotFound is returned by adapters when the message no longer exists
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotModified is returned when an edit carries the stored content
	ErrNotModified = errors.New("message not modified")
	// ErrUnknownPlatform is returned by the registry for unregistered names
	ErrUnknownPlatform = errors.New("unknown platform")
)

// PostOptions carries the metadata a platform may use when rendering a post
type PostOptions struct {
	GUID   string            `json:"guid,omitempty"`
	Kind   models.EntityKind `json:"kind,omitempty"`
	Silent bool              `json:"silent,omitempty"`
}

// Profile is the display identity of a platform account
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username,omitempty"`
}

// Adapter is implemented once per target platform. Timeouts are the
// adapter's own responsibility.
type Adapter interface {
	Name() models.Platform
	PostMessage(ctx context.Context, content string, opts PostOptions) (string, error)
	EditMessage(ctx context.Context, messageID, content string, opts PostOptions) error
	DeleteMessage(ctx context.Context, messageID string) error
	// GetUserInfo returns nil, nil when the account is unknown
	GetUserInfo(ctx context.Context, userID string) (*Profile, error)
	BuildUserMention(u models.User) string
}

// Idempotent maps platform answers that leave the remote side in the
// desired state to success: deleting an absent message, editing to identical content.
type Idempotent struct {
	Adapter
}

func (a Idempotent) EditMessage(ctx context.Context, messageID, content string, opts PostOptions) error {
	err := a.Adapter.EditMessage(ctx, messageID, content, opts)
	if errors.Is(err, ErrNotModified) {
		return nil
	}
	return err
}

func (a Idempotent) DeleteMessage(ctx context.Context, messageID string) error {
	err := a.Adapter.DeleteMessage(ctx, messageID)
	if errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	return err
}

// Registry dispatches to adapters by platform name
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Platform]Adapter
	order    []models.Platform
}

// NewRegistry registers the given adapters, each wrapped by Idempotent
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Name()
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := a.(Idempotent); !ok {
		a = Idempotent{Adapter: a}
	}
	if _, exists := r.adapters[a.Name()]; !exists {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(p models.Platform) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}
	return a, nil
}

// Platforms returns registered names in registration order
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Platform(nil), r.order...)
}
