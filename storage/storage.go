// Package storage provides the durable key/value store that backs persisted
// settings. Values are opaque strings.
package storage

import (
	"context"
	"sync"
)

type Storage interface {
	// Read returns ok=false when the key has never been written.
	Read(ctx context.Context, key string) (value string, ok bool, err error)
	Write(ctx context.Context, key, value string) error
}

// Memory is an in-process Storage. ReadErr and WriteErr, when set, are
// returned for every call so failure paths can be exercised.
type Memory struct {
	mu     sync.Mutex
	values map[string]string

	ReadErr  error
	WriteErr error
}

func NewMemory(values map[string]string) *Memory {
	m := &Memory{values: map[string]string{}}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *Memory) Read(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return "", false, m.ReadErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Write(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.values[key] = value
	return nil
}

// Value returns the stored value for key, for inspection.
func (m *Memory) Value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}
