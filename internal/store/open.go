package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cortexuvula/collabrelay/internal/config"
)

// Open creates the gateway selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Gateway, error) {
	compression, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	codec := NewCodec(compression)

	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg.Path, codec)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN, codec)
	case "redis":
		return NewRedis(ctx, &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}, codec)
	case "bolt":
		return NewBolt(cfg.Path, codec)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
