package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisPublisher fans events out over redis pub/sub so every server replica
// can forward them to its own websocket clients
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

func NewRedisPublisher(client *redis.Client, prefix string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_publisher").Logger(),
	}
}

func (p *RedisPublisher) channel(key string) string {
	return p.prefix + key
}

func (p *RedisPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel(key), body).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Close is a no-op; the redis client is owned by the caller
func (p *RedisPublisher) Close() error {
	return nil
}

// Subscribe delivers every envelope published under prefix to fn until ctx is done
func (p *RedisPublisher) Subscribe(ctx context.Context, fn func(Envelope)) error {
	sub := p.client.PSubscribe(ctx, p.prefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to redis: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					p.logger.Warn().Err(err).Str("channel", m.Channel).Msg("dropping malformed event")
					continue
				}
				fn(env)
			}
		}
	}()
	return nil
}

// NewRedisClient parses a redis URL and verifies the connection
func NewRedisClient(ctx context.Context, url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
