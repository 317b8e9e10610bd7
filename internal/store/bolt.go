package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bolt stores records in a single bbolt file, one bucket per surface.
type Bolt struct {
	db    *bolt.DB
	codec *Codec
}

// NewBolt opens (creating if needed) the bbolt file at path.
func NewBolt(path string, codec *Codec) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, s := range []Surface{Document, Spreadsheet} {
			if _, err := tx.CreateBucketIfNotExists([]byte(s)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	slog.Info("bolt store opened", "path", path)
	return &Bolt{db: db, codec: codec}, nil
}

func (b *Bolt) Load(_ context.Context, surface Surface, workspaceID string) (*Record, error) {
	if err := checkSurface(surface); err != nil {
		return nil, err
	}
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(surface)).Get([]byte(workspaceID)); v != nil {
			// v is only valid inside the transaction.
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", surface, workspaceID, err)
	}
	if raw == nil {
		return nil, nil
	}
	rec, err := b.codec.UnmarshalRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", surface, workspaceID, err)
	}
	return rec, nil
}

func (b *Bolt) Save(_ context.Context, surface Surface, workspaceID string, rec Record) error {
	if err := checkSurface(surface); err != nil {
		return err
	}
	v, _, err := b.codec.MarshalRecord(rec)
	if err != nil {
		return err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(surface)).Put([]byte(workspaceID), v)
	})
	if err != nil {
		return fmt.Errorf("saving %s/%s: %w", surface, workspaceID, err)
	}
	return nil
}

func (b *Bolt) Ping(context.Context) error {
	return b.db.View(func(*bolt.Tx) error { return nil })
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
