package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/zulandar/frameforge/internal/config"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel depth. Slow subscribers
// drop entries rather than block the pub/sub reader.
const subscriberBuffer = 64

// RedisFeed publishes entries on a Redis pub/sub channel so every panel
// process can stream them.
type RedisFeed struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisFeed connects to Redis and verifies the connection.
func NewRedisFeed(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*RedisFeed, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("eventlog: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("eventlog: connect to redis %s: %w", cfg.Addr, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "frameforge:logs"
	}
	return &RedisFeed{client: client, channel: channel, log: log}, nil
}

// Publish sends e to the channel.
func (f *RedisFeed) Publish(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventlog: encode entry: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, raw).Err(); err != nil {
		return fmt.Errorf("eventlog: publish: %w", err)
	}
	return nil
}

// Subscribe starts a subscription. The returned channel closes when ctx is
// done or the stop function is called.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan Entry, func(), error) {
	ps := f.client.Subscribe(ctx, f.channel)
	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("eventlog: subscribe %s: %w", f.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Entry, subscriberBuffer)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var e Entry
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					f.log.Warn("event feed: bad payload", zap.Error(err))
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}

// Close closes the Redis client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
