package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	entryField = "text"
	// streams are capped so the audit channel does not grow without bound
	defaultStreamMaxLen = 100_000
)

// RedisStreamSink appends audit entries to a Redis stream named after the channel
type RedisStreamSink struct {
	client *redis.Client
	maxLen int64
	logger *slog.Logger
}

// NewRedisClient parses a redis:// URL and checks the server answers
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisStreamSink(client *redis.Client, logger *slog.Logger) *RedisStreamSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStreamSink{client: client, maxLen: defaultStreamMaxLen, logger: logger}
}

// Append adds the entry to the stream and returns the stream entry id
func (s *RedisStreamSink) Append(ctx context.Context, channel, text string) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: channel,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{entryField: text},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to stream %s: %w", channel, err)
	}
	s.logger.Debug("Audit entry appended", "stream", channel, "entry_id", id)
	return id, nil
}

func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}

// RedisStreamReader tails an audit stream with a consumer group and feeds
// every entry to a Handler
type RedisStreamReader struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	handler  Handler
	logger   *slog.Logger
}

func NewRedisStreamReader(client *redis.Client, stream, group, consumer string, h Handler, logger *slog.Logger) *RedisStreamReader {
	return &RedisStreamReader{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    5 * time.Second,
		handler:  h,
		logger:   logger,
	}
}

func (r *RedisStreamReader) ensureGroup(ctx context.Context) error {
	// "0" so a recreated group replays what is already in the stream
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Listen reads until ctx is done. Entries are acked once handled; malformed
// ones are acked and dropped, handler failures stay pending for redelivery.
func (r *RedisStreamReader) Listen(ctx context.Context) error {
	if err := r.ensureGroup(ctx); err != nil {
		return err
	}
	r.logger.Info("Stream reader is online", "stream", r.stream, "group", r.group)

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, ">"},
			Count:    10,
			Block:    r.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading from stream: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				r.handle(ctx, msg)
			}
		}
	}
}

func (r *RedisStreamReader) handle(ctx context.Context, msg redis.XMessage) {
	text, _ := msg.Values[entryField].(string)
	if err := r.handler.Handle(ctx, []byte(text)); err != nil {
		r.logger.Error("Audit entry not handled", "entry_id", msg.ID, "error", err)
		if !isMalformed(err) {
			return
		}
	}
	if err := r.client.XAck(ctx, r.stream, r.group, msg.ID).Err(); err != nil {
		r.logger.Error("xack failed", "stream", r.stream, "entry_id", msg.ID, "error", err)
	}
}
