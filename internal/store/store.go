// Package store is the persistence gateway for durable workspace surfaces.
// Only the shared document and the shared spreadsheet are ever stored;
// chat and drawing are relay-only.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Surface names the kind of record. The values are the storage keys.
type Surface string

const (
	Document    Surface = "document"
	Spreadsheet Surface = "spreadsheet"
)

// Valid reports whether s is a durable surface.
func (s Surface) Valid() bool {
	return s == Document || s == Spreadsheet
}

// Record is one stored surface.
type Record struct {
	Data           json.RawMessage `json:"data"`
	Version        int64           `json:"version"`
	LastModified   int64           `json:"lastModified"`
	LastModifiedBy string          `json:"lastModifiedBy,omitempty"`
}

// Gateway loads and saves surface records. Load returns a nil record and
// no error when nothing is stored. Implementations must be safe for
// concurrent use.
type Gateway interface {
	Load(ctx context.Context, surface Surface, workspaceID string) (*Record, error)
	Save(ctx context.Context, surface Surface, workspaceID string, rec Record) error
	Ping(ctx context.Context) error
	Close() error
}

// ErrInvalidSurface is returned for a surface that is never persisted.
var ErrInvalidSurface = errors.New("store: surface is not persisted")

func checkSurface(s Surface) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSurface, s)
	}
	return nil
}
