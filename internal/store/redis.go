package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/model"
)

const historyLimit = 500

// Redis keeps the snapshot slot as a JSON string under a fixed key, so
// several daemons can share one slot.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Username: cfg.Username,
		Password: cfg.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisWithClient(client, cfg), nil
}

func newRedisWithClient(client *redis.Client, cfg config.RedisConfig) *Redis {
	key := cfg.Key
	if key == "" {
		key = slotKey
	}
	var ttl time.Duration
	if cfg.TTLSec > 0 {
		ttl = time.Duration(cfg.TTLSec) * time.Second
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) historyKey() string {
	return r.key + ":history"
}

// Latest returns the slot contents, or a zero snapshot if the key is unset.
func (r *Redis) Latest(ctx context.Context) (model.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ZeroSnapshot(), nil
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("reading slot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decoding slot: %w", err)
	}
	return snap.Sanitize(), nil
}

// Save replaces the slot contents.
func (r *Redis) Save(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap.Sanitize())
	if err != nil {
		return fmt.Errorf("encoding slot: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing slot: %w", err)
	}
	return nil
}

// AppendHistory pushes a finished session onto a capped list.
func (r *Redis) AppendHistory(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(NewRecord(snap.Sanitize()))
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.historyKey(), data)
	pipe.LTrim(ctx, r.historyKey(), 0, historyLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

// History returns up to limit records, newest first. limit <= 0 means all.
func (r *Redis) History(ctx context.Context, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	items, err := r.client.LRange(ctx, r.historyKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
