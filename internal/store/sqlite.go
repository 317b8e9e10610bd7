package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workspace_data (
	workspace_id     TEXT NOT NULL,
	type             TEXT NOT NULL,
	data             BLOB NOT NULL,
	version          INTEGER NOT NULL DEFAULT 0,
	last_modified    INTEGER NOT NULL DEFAULT 0,
	last_modified_by TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (workspace_id, type)
);
`

// SQLite stores records in a single workspace_data table.
type SQLite struct {
	db    *sql.DB
	codec *Codec
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string, codec *Codec) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	slog.Info("sqlite store opened", "path", path)
	return &SQLite{db: db, codec: codec}, nil
}

func (s *SQLite) Load(ctx context.Context, surface Surface, workspaceID string) (*Record, error) {
	if err := checkSurface(surface); err != nil {
		return nil, err
	}
	var (
		blob []byte
		rec  Record
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version, last_modified, last_modified_by
		   FROM workspace_data WHERE workspace_id = ? AND type = ?`,
		workspaceID, string(surface),
	).Scan(&blob, &rec.Version, &rec.LastModified, &rec.LastModifiedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", surface, workspaceID, err)
	}
	rec.Data, err = s.codec.Unpack(blob)
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", surface, workspaceID, err)
	}
	return &rec, nil
}

func (s *SQLite) Save(ctx context.Context, surface Surface, workspaceID string, rec Record) error {
	if err := checkSurface(surface); err != nil {
		return err
	}
	blob, sum, err := s.codec.Pack(rec.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workspace_data
		   (workspace_id, type, data, version, last_modified, last_modified_by, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workspace_id, type) DO UPDATE SET
		   data = excluded.data,
		   version = excluded.version,
		   last_modified = excluded.last_modified,
		   last_modified_by = excluded.last_modified_by,
		   content_hash = excluded.content_hash`,
		workspaceID, string(surface), blob, rec.Version, rec.LastModified, rec.LastModifiedBy, sum.String(),
	)
	if err != nil {
		return fmt.Errorf("saving %s/%s: %w", surface, workspaceID, err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
