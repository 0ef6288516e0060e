package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/pkg/infra"
)

const healthCheckInterval = 2 * time.Second

// Dialer opens a fresh client; swapped out in tests
type Dialer func(url string, l *slog.Logger) (*RabbitMQClient, error)

// Link keeps a healthy RabbitMQClient available, redialing with backoff
// whenever the connection drops. Publishes made while no client is up fail
// with ErrBrokerClosed.
type Link struct {
	url     string
	dial    Dialer
	backoff *infra.Backoff
	logger  *slog.Logger

	mu     sync.RWMutex
	client *RabbitMQClient
}

func NewLink(url string, l *slog.Logger) *Link {
	return &Link{
		url:     url,
		dial:    NewRabbitMQClient,
		backoff: infra.NewReconnectBackoff(),
		logger:  l,
	}
}

// Run supervises the connection until ctx is done, then closes it
func (k *Link) Run(ctx context.Context) {
	defer k.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		if c := k.current(); c == nil || !c.IsHealthy() {
			if c != nil {
				c.Close()
			}
			client, err := k.dial(k.url, k.logger)
			if err != nil {
				k.set(nil)
				k.logger.Error("RabbitMQ link failure, retrying", "attempt", k.backoff.Attempts()+1, "error", err)
				if k.backoff.Wait(ctx) != nil {
					return
				}
				continue
			}
			k.logger.Info("RabbitMQ link established")
			k.set(client)
			k.backoff.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(healthCheckInterval):
		}
	}
}

func (k *Link) current() *RabbitMQClient {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.client
}

func (k *Link) set(c *RabbitMQClient) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.client = c
}

// IsHealthy reports whether a live client is available
func (k *Link) IsHealthy() bool {
	c := k.current()
	return c != nil && c.IsHealthy()
}

func (k *Link) Append(ctx context.Context, channel, text string) (string, error) {
	c := k.current()
	if c == nil {
		return "", ErrBrokerClosed
	}
	return c.Append(ctx, channel, text)
}

func (k *Link) PublishCommand(ctx context.Context, cmd models.PlatformCommand) error {
	c := k.current()
	if c == nil {
		return ErrBrokerClosed
	}
	return c.PublishCommand(ctx, cmd)
}

func (k *Link) Close() error {
	k.mu.Lock()
	c := k.client
	k.client = nil
	k.mu.Unlock()
	if c != nil {
		return c.Close()
	}
	return nil
}
