package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis stores each record as a CBOR value under
// collabrelay:<surface>:<workspace>.
type Redis struct {
	client *redis.Client
	codec  *Codec
	prefix string
}

// NewRedis connects to a Redis server.
func NewRedis(ctx context.Context, opts *redis.Options, codec *Codec) (*Redis, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	slog.Info("redis store connected", "address", opts.Addr, "db", opts.DB)
	return &Redis{client: client, codec: codec, prefix: "collabrelay"}, nil
}

func (r *Redis) key(surface Surface, workspaceID string) string {
	return r.prefix + ":" + string(surface) + ":" + workspaceID
}

func (r *Redis) Load(ctx context.Context, surface Surface, workspaceID string) (*Record, error) {
	if err := checkSurface(surface); err != nil {
		return nil, err
	}
	b, err := r.client.Get(ctx, r.key(surface, workspaceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", surface, workspaceID, err)
	}
	rec, err := r.codec.UnmarshalRecord(b)
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", surface, workspaceID, err)
	}
	return rec, nil
}

func (r *Redis) Save(ctx context.Context, surface Surface, workspaceID string, rec Record) error {
	if err := checkSurface(surface); err != nil {
		return err
	}
	b, _, err := r.codec.MarshalRecord(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(surface, workspaceID), b, 0).Err(); err != nil {
		return fmt.Errorf("saving %s/%s: %w", surface, workspaceID, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
