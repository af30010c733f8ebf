// Package redis carries profile update events (Pub/Sub) and sync requests (Streams).
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paul-bdio/zorro/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultStreamMaxLen = 10000

// Client wraps go-redis with the small surface the sync engine and API use.
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
}

// NewClient connects using:
//   - REDIS_HOST (default "localhost"), REDIS_PORT (default "6379")
//   - REDIS_PASSWORD, REDIS_DB (default 0)
//   - REDIS_STREAM_MAXLEN: approximate cap per stream (default 10000, 0 = unlimited)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", utils.Env("REDIS_HOST", "localhost"), utils.Env("REDIS_PORT", "6379"))
	dbIndex := utils.EnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     utils.Env("REDIS_PASSWORD", ""),
		DB:           dbIndex,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	c := Wrap(rdb, logger, utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen))
	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", dbIndex))
	return c, nil
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb *redis.Client, logger *zap.Logger, streamMaxLen int64) *Client {
	return &Client{client: rdb, logger: logger, streamMaxLen: streamMaxLen}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Publish is best-effort: failures are logged, never returned.
func (c *Client) Publish(ctx context.Context, channel string, message any) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message", zap.String("channel", channel), zap.Error(err))
	}
}

// PSubscribe subscribes to channel patterns. The caller closes the returned PubSub.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	c.logger.Debug("Subscribing to Redis patterns", zap.Strings("patterns", patterns))
	return c.client.PSubscribe(ctx, patterns...)
}

func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// XAdd appends an entry, trimming the stream approximately to the configured length.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}
	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// XReadGroup reads for consumer in group. lastID ">" reads undelivered entries, "0"
// re-reads this consumer's pending ones.
func (c *Client) XReadGroup(ctx context.Context, group, consumer, stream, lastID string, count int64, block time.Duration) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, lastID},
		Count:    count,
		Block:    block,
	}).Result()
}

func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	return c.client.XAck(ctx, stream, group, ids...).Result()
}

// XGroupCreateMkStream creates group (and the stream). An existing group is not an error.
func (c *Client) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}
