package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/audit"
	"github.com/Guizzs26/go-aid-sync/internal/ids"
	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/pkg/infra"
	"github.com/Guizzs26/go-aid-sync/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EntryHandler receives every well-formed audit entry in channel order
type EntryHandler func(ctx context.Context, e audit.Entry) error

// AuditTail turns raw audit channel messages into parsed entries and
// watches the transaction ids for ordering gaps
type AuditTail struct {
	handler EntryHandler
	logger  *slog.Logger

	mu     sync.Mutex
	lastTx string
}

func NewAuditTail(h EntryHandler, l *slog.Logger) *AuditTail {
	return &AuditTail{handler: h, logger: l}
}

// Handle parses one message body. Malformed bodies return an error wrapping
// audit.ErrMalformedEntry; a transaction id that does not increase is logged
// and counted, but still handed to the handler. The high-water mark only
// moves once the handler succeeded, so a redelivery is not flagged.
func (t *AuditTail) Handle(ctx context.Context, body []byte) error {
	entry, err := audit.Parse(string(body))
	if err != nil {
		metrics.ConsumerEntries.WithLabelValues("malformed").Inc()
		return err
	}

	t.mu.Lock()
	prev := t.lastTx
	t.mu.Unlock()

	if prev == "" || ids.Less(prev, entry.TxID) {
		metrics.ConsumerEntries.WithLabelValues("ok").Inc()
	} else {
		metrics.ConsumerEntries.WithLabelValues("out_of_order").Inc()
		t.logger.Warn("Audit entry out of order", "tx_id", entry.TxID, "previous_tx_id", prev)
	}

	for _, c := range entry.Changes {
		metrics.ConsumerChanges.WithLabelValues(string(c.Operation), c.Entity).Inc()
	}

	if t.handler != nil {
		if err := t.handler(ctx, entry); err != nil {
			return err
		}
	}

	t.mu.Lock()
	if t.lastTx == "" || ids.Less(t.lastTx, entry.TxID) {
		t.lastTx = entry.TxID
	}
	t.mu.Unlock()
	return nil
}

// LastTxID is the highest transaction id seen so far
func (t *AuditTail) LastTxID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTx
}

// isMalformed reports payloads that are dropped instead of requeued
func isMalformed(err error) bool {
	return errors.Is(err, audit.ErrMalformedEntry) || errors.Is(err, models.ErrMalformedMessage)
}

// Handler processes one message body; AuditTail and the relay's feedback
// service both implement it
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// RabbitMQConsumer manages the connection and message flow from the broker
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler Handler
	logger  *slog.Logger
	queue   string
	binding string
}

// NewRabbitMQConsumer binds a durable queue to a routing key of the exchange
func NewRabbitMQConsumer(url, binding, queue string, h Handler, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// QoS: Prefetch 1 ensures we process messages one by one, maintaining strict order
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &RabbitMQConsumer{
		conn:    conn,
		channel: ch,
		handler: h,
		logger:  logger,
		queue:   queue,
		binding: binding,
	}, nil
}

// Listen starts the consumption loop and handles the queue/exchange binding
func (c *RabbitMQConsumer) Listen(ctx context.Context) error {
	if err := c.channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare Queue with durability to survive broker restarts
	q, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, c.binding, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer is online and waiting for messages", "queue", q.Name, "routing_key", c.binding)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			err := c.handler.Handle(ctx, d.Body)
			switch {
			case isMalformed(err):
				c.logger.Error("Dropping malformed message", "message_id", d.MessageId, "error", err)
				d.Nack(false, false)
				continue
			case err != nil:
				c.logger.Error("Processing failed, requeueing", "message_id", d.MessageId, "error", err)
				time.Sleep(5 * time.Second) // Throttling retries
				d.Nack(false, true)
				continue
			}

			if err := d.Ack(false); err != nil {
				c.logger.Error("Failed to Ack message", "message_id", d.MessageId, "error", err)
			}
		}
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}

// Consume keeps a consumer bound to binding until ctx is done, reconnecting
// with jittered backoff whenever the connection drops
func Consume(ctx context.Context, url, binding, queue string, h Handler, logger *slog.Logger) {
	connBackoff := infra.NewReconnectBackoff()

	for ctx.Err() == nil {
		var consumer *RabbitMQConsumer
		err := connBackoff.Retry(ctx, func(context.Context) error {
			var err error
			consumer, err = NewRabbitMQConsumer(url, binding, queue, h, logger)
			return err
		}, func(attempt int, err error) {
			logger.Error("RabbitMQ connection failed, retrying...", "queue", queue, "attempt", attempt, "error", err)
		})
		if err != nil {
			return
		}

		if err := consumer.Listen(ctx); err != nil {
			logger.Error("Consumer connection lost", "queue", queue, "error", err)
		}
		consumer.Close()
	}
}
