package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/pkg/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange carries both audit entries and platform commands
	Exchange = "aidsync.topic"

	// FeedbackBinding matches failure reports published by platform bots
	FeedbackBinding = "aidsync.feedback.#"
	FeedbackQueue   = "aidsync.relay.feedback"

	confirmTimeout = 10 * time.Second
)

var ErrBrokerClosed = errors.New("broker connection is closed")

// CommandRoutingKey is where commands for one platform bot are published
func CommandRoutingKey(p models.Platform) string {
	return "aidsync.platform." + string(p)
}

// RabbitMQClient handles the low-level communication with the message broker
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	// amqp channels are not safe for concurrent publishes
	publishMu sync.Mutex
}

// NewRabbitMQClient initializes a connection and a channel, enabling Publisher Confirms by default.
// A client never reconnects: once the health flag drops publishes fail fast, and Link dials a new one.
func NewRabbitMQClient(url string, l *slog.Logger) (*RabbitMQClient, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.healthy.Store(true)
	metrics.SinkHealth.Set(1)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go func() {
		select {
		case err := <-client.connClosed:
			client.healthy.Store(false)
			metrics.SinkHealth.Set(0)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-client.chanClosed:
			client.healthy.Store(false)
			metrics.SinkHealth.Set(0)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-client.ctx.Done():
			return
		}
	}()
	l.Info("Successfully connected to RabbitMQ and monitors established")
	return client, nil
}

// Append publishes one audit entry to the channel's routing key and returns
// the message id once the broker confirmed it
func (r *RabbitMQClient) Append(ctx context.Context, channel, text string) (string, error) {
	messageID := uuid.NewString()
	err := r.publish(ctx, channel, amqp.Publishing{
		MessageId:    messageID,
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         []byte(text),
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// PublishCommand hands a platform command to the bot bound to its platform
func (r *RabbitMQClient) PublishCommand(ctx context.Context, cmd models.PlatformCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to serialize command: %w", err)
	}

	routingKey := CommandRoutingKey(cmd.Platform)
	r.logger.Debug("Publishing platform command",
		"correlation_id", cmd.CorrelationID,
		"routing_key", routingKey,
		"type", cmd.Type,
		"bytes", cmd.EstimateBytes(),
	)

	return r.publish(ctx, routingKey, amqp.Publishing{
		Headers: amqp.Table{
			"correlation_id": cmd.CorrelationID,
		},
		CorrelationId: cmd.CorrelationID,
		MessageId:     cmd.MessageID,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Body:          body,
	})
}

// publish sends a message and blocks until a confirmation (ACK/NACK) is received
func (r *RabbitMQClient) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	if !r.IsHealthy() {
		return ErrBrokerClosed
	}

	l := r.logger.With("routing_key", routingKey, "message_id", msg.MessageId)

	r.publishMu.Lock()
	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		Exchange,
		routingKey,
		false,
		false,
		msg,
	)
	r.publishMu.Unlock()
	if err != nil {
		l.Error("failed to publish message to exchange", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: message not persisted")
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}
