package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "connect:session:"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies it with a ping.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisBroker fans events out across server instances with Redis pub/sub.
// Each instance holds one pattern subscription and redistributes received
// events to its local subscribers.
type RedisBroker struct {
	client *redis.Client
	local  *MemoryBroker
	pubsub *redis.PubSub

	wg   sync.WaitGroup
	once sync.Once
}

// NewRedisBroker starts the listener on client. The broker owns client and
// closes it on Close.
func NewRedisBroker(ctx context.Context, client *redis.Client) (*RedisBroker, error) {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	// Wait for the subscription to be confirmed so early publishes are seen.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe redis: %w", err)
	}

	b := &RedisBroker{client: client, local: NewMemoryBroker(), pubsub: pubsub}
	b.wg.Add(1)
	go b.listen()
	return b, nil
}

func (b *RedisBroker) listen() {
	defer b.wg.Done()
	for msg := range b.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			slog.Warn("Redis event decode failed", "channel", msg.Channel, "error", err)
			continue
		}
		if ev.SessionID == "" {
			ev.SessionID = strings.TrimPrefix(msg.Channel, channelPrefix)
		}
		_ = b.local.Publish(context.Background(), ev)
	}
	slog.Info("Redis event listener stopped")
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+ev.SessionID, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe implements Broker.
func (b *RedisBroker) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	return b.local.Subscribe(ctx, sessionID)
}

// Ping checks the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close stops the listener, closes local subscriptions and the client.
func (b *RedisBroker) Close() error {
	var err error
	b.once.Do(func() {
		err = errors.Join(b.pubsub.Close(), b.local.Close())
		b.wg.Wait()
		err = errors.Join(err, b.client.Close())
	})
	return err
}
