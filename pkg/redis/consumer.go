package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamConsumerConfig configures a StreamConsumer. Stream, Group and Consumer are required.
type StreamConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string

	// Count is the batch size. Default 100.
	Count int64
	// Block is how long one read waits for entries. Default 5s.
	Block time.Duration
	// RetryInterval doubles after each read error up to MaxRetryInterval. Defaults 1s / 30s.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	Logger *zap.Logger
}

// MessageHandler processes one entry. A nil return acknowledges it; an error leaves it
// pending and it is re-read when the consumer restarts.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is one stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]any
}

// StreamConsumer reads a stream through a consumer group with reconnect backoff.
type StreamConsumer struct {
	client *Client
	config StreamConsumerConfig
	logger *zap.Logger
}

func NewStreamConsumer(client *Client, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group == "" || config.Consumer == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}
	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamConsumer{client: client, config: config, logger: logger}, nil
}

// Run consumes until ctx is cancelled. Up to Count entries left pending by an earlier
// run of the same consumer are replayed first.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	if err := sc.client.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "0"); err != nil {
		return err
	}
	sc.logger.Info("Consumer group ready",
		zap.String("stream", sc.config.Stream),
		zap.String("group", sc.config.Group),
		zap.String("consumer", sc.config.Consumer))

	lastID := "0"
	retryInterval := sc.config.RetryInterval
	for {
		if ctx.Err() != nil {
			sc.logger.Info("Stream consumer shutting down", zap.String("stream", sc.config.Stream))
			return ctx.Err()
		}

		messages, err := sc.read(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if !errors.Is(err, redis.Nil) {
				sc.logger.Warn("Error reading from stream, will retry",
					zap.String("stream", sc.config.Stream),
					zap.Duration("retryIn", retryInterval),
					zap.Error(err))
				select {
				case <-time.After(retryInterval):
					retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
		}
		retryInterval = sc.config.RetryInterval

		// The pending backlog is replayed once per Run, then only new entries are read.
		lastID = ">"

		for _, msg := range messages {
			sc.process(ctx, handler, msg)
		}
	}
}

func (sc *StreamConsumer) read(ctx context.Context, lastID string) ([]Message, error) {
	block := sc.config.Block
	if lastID == "0" {
		block = -1
	}
	streams, err := sc.client.XReadGroup(ctx, sc.config.Group, sc.config.Consumer, sc.config.Stream, lastID, sc.config.Count, block)
	if err != nil {
		return nil, err
	}
	var messages []Message
	for _, stream := range streams {
		for _, x := range stream.Messages {
			messages = append(messages, Message{ID: x.ID, Stream: stream.Stream, Values: x.Values})
		}
	}
	return messages, nil
}

func (sc *StreamConsumer) process(ctx context.Context, handler MessageHandler, msg Message) {
	if err := handler(ctx, msg); err != nil {
		sc.logger.Error("Error processing message",
			zap.String("stream", sc.config.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
		return
	}
	if _, err := sc.client.XAck(ctx, sc.config.Stream, sc.config.Group, msg.ID); err != nil {
		sc.logger.Warn("Failed to acknowledge message",
			zap.String("stream", sc.config.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
	}
}

// GetProfileID reads "profile_id" (or "profileId"). Zero means absent or unparseable.
func (m Message) GetProfileID() uint64 {
	val, ok := m.Values["profile_id"]
	if !ok {
		val, ok = m.Values["profileId"]
	}
	if !ok {
		return 0
	}
	return parseUint64(val)
}

func parseUint64(v any) uint64 {
	switch val := v.(type) {
	case uint64:
		return val
	case int64:
		if val > 0 {
			return uint64(val)
		}
	case int:
		if val > 0 {
			return uint64(val)
		}
	case string:
		n, err := strconv.ParseUint(val, 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}
