package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workspace_data (
	workspace_id     TEXT NOT NULL,
	type             TEXT NOT NULL,
	data             BYTEA NOT NULL,
	version          BIGINT NOT NULL DEFAULT 0,
	last_modified    BIGINT NOT NULL DEFAULT 0,
	last_modified_by TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (workspace_id, type)
)`

// Postgres stores records in a workspace_data table through a pgx pool.
type Postgres struct {
	pool  *pgxpool.Pool
	codec *Codec
}

// NewPostgres connects to dsn and creates the table if needed.
func NewPostgres(ctx context.Context, dsn string, codec *Codec) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	slog.Info("postgres store connected")
	return &Postgres{pool: pool, codec: codec}, nil
}

func (p *Postgres) Load(ctx context.Context, surface Surface, workspaceID string) (*Record, error) {
	if err := checkSurface(surface); err != nil {
		return nil, err
	}
	var (
		blob []byte
		rec  Record
	)
	err := p.pool.QueryRow(ctx,
		`SELECT data, version, last_modified, last_modified_by
		   FROM workspace_data WHERE workspace_id = $1 AND type = $2`,
		workspaceID, string(surface),
	).Scan(&blob, &rec.Version, &rec.LastModified, &rec.LastModifiedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", surface, workspaceID, err)
	}
	rec.Data, err = p.codec.Unpack(blob)
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", surface, workspaceID, err)
	}
	return &rec, nil
}

func (p *Postgres) Save(ctx context.Context, surface Surface, workspaceID string, rec Record) error {
	if err := checkSurface(surface); err != nil {
		return err
	}
	blob, sum, err := p.codec.Pack(rec.Data)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO workspace_data
		   (workspace_id, type, data, version, last_modified, last_modified_by, content_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (workspace_id, type) DO UPDATE SET
		   data = EXCLUDED.data,
		   version = EXCLUDED.version,
		   last_modified = EXCLUDED.last_modified,
		   last_modified_by = EXCLUDED.last_modified_by,
		   content_hash = EXCLUDED.content_hash`,
		workspaceID, string(surface), blob, rec.Version, rec.LastModified, rec.LastModifiedBy, sum.String(),
	)
	if err != nil {
		return fmt.Errorf("saving %s/%s: %w", surface, workspaceID, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
