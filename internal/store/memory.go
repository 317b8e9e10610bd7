package store

import (
	"context"
	"sync"
)

// Memory is a process-local gateway. Records are copied on the way in and
// out.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	saves   int
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func memoryKey(surface Surface, workspaceID string) string {
	return string(surface) + "\x00" + workspaceID
}

func (m *Memory) Load(_ context.Context, surface Surface, workspaceID string) (*Record, error) {
	if err := checkSurface(surface); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[memoryKey(surface, workspaceID)]
	if !ok {
		return nil, nil
	}
	rec.Data = append(rec.Data[:0:0], rec.Data...)
	return &rec, nil
}

func (m *Memory) Save(_ context.Context, surface Surface, workspaceID string, rec Record) error {
	if err := checkSurface(surface); err != nil {
		return err
	}
	rec.Data = append(rec.Data[:0:0], rec.Data...)
	m.mu.Lock()
	m.records[memoryKey(surface, workspaceID)] = rec
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves returns how many Save calls succeeded.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
