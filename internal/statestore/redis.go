package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Redis stores each scope as a hash and publishes changes on a per-scope channel.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	origin string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(addr, password string, db int, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisWithClient(client, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		logger: logger.With("component", "statestore"),
		prefix: "gkl:state:",
		origin: uuid.NewString(),
	}
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Origin implements Store.
func (r *Redis) Origin() string { return r.origin }

func (r *Redis) hashKey(scope string) string { return r.prefix + scope }

func (r *Redis) channel(scope string) string { return r.prefix + "changes:" + scope }

// Load implements Store.
func (r *Redis) Load(ctx context.Context, scope string) (map[string]string, error) {
	values, err := r.client.HGetAll(ctx, r.hashKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return values, nil
}

// Save implements Store.
func (r *Redis) Save(ctx context.Context, scope string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	fields := make([]any, 0, len(values)*2)
	for k, v := range values {
		fields = append(fields, k, v)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.hashKey(scope), fields...)
	for k, v := range values {
		r.publish(ctx, pipe, Change{Scope: scope, Key: k, Value: v, Origin: r.origin})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Remove implements Store.
func (r *Redis) Remove(ctx context.Context, scope string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, r.hashKey(scope), keys...)
	for _, k := range keys {
		r.publish(ctx, pipe, Change{Scope: scope, Key: k, Deleted: true, Origin: r.origin})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

func (r *Redis) publish(ctx context.Context, pipe redis.Pipeliner, change Change) {
	payload, err := json.Marshal(change)
	if err != nil {
		r.logger.Warn("failed to encode state change", "key", change.Key, "error", err)
		return
	}
	pipe.Publish(ctx, r.channel(change.Scope), payload)
}

// Subscribe implements Store.
func (r *Redis) Subscribe(ctx context.Context, scope string, fn func(Change)) (func(), error) {
	sub := r.client.Subscribe(ctx, r.channel(scope))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe state: %w", err)
	}
	go func() {
		for msg := range sub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				r.logger.Warn("dropping malformed state change", "channel", msg.Channel, "error", err)
				continue
			}
			fn(change)
		}
	}()
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			_ = sub.Close()
		}()
	}
	return func() { _ = sub.Close() }, nil
}
