// CLAUDE:SUMMARY Durable key-value backends (memory, SQLite) behind the KV interface used by the preference store.
// Package storage provides the durable key-value storage the host platform
// offers to the background context: get/set of opaque values by key.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// KV is an asynchronous key-value store. Get reports found=false for a
// missing key without error.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// Memory is an in-process KV. Values are copied in and out.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open returns the KV named by backend. For sqlite, path is the database
// file (parent directories are created). The returned close func is never
// nil.
func Open(backend, path string) (KV, func() error, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), func() error { return nil }, nil
	case BackendSQLite, "":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
