package artifact

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/menta2k/membercard/pkg/types"
)

const keyPrefix = "membercard:artifact:"

// Redis stores artifacts as hashes with a TTL, so every server instance can
// serve every artifact.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps a connected client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (r *Redis) Put(ctx context.Context, art *types.Artifact, ttl time.Duration) (string, error) {
	if art == nil || len(art.Data) == 0 {
		return "", ErrEmpty
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := newID()
	key := keyPrefix + id
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"mime", art.MIME,
			"width", art.Width,
			"height", art.Height,
			"data", art.Data,
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("artifact: store: %w", err)
	}
	return id, nil
}

func (r *Redis) Get(ctx context.Context, id string) (*types.Artifact, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	fields, err := r.client.HGetAll(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: load: %w", err)
	}
	w, _ := strconv.Atoi(fields["width"])
	h, _ := strconv.Atoi(fields["height"])
	return &types.Artifact{
		Data:   []byte(fields["data"]),
		MIME:   fields["mime"],
		Width:  w,
		Height: h,
	}, nil
}

func (r *Redis) Revoke(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	if err := r.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("artifact: revoke: %w", err)
	}
	return nil
}

// Health pings the server.
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
