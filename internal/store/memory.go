package store

import (
	"context"
	"fmt"
	"sync"
)

// MemorySink stores encoded values in process memory. Values are copied on the
// way in and out, so callers never share state with the sink.
type MemorySink struct {
	mu     sync.RWMutex
	values map[string][]byte
	puts   int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{values: make(map[string][]byte)}
}

func (m *MemorySink) Put(_ context.Context, entries map[string]interface{}) error {
	encoded := make(map[string][]byte, len(entries))
	for k, v := range entries {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", k, err)
		}
		encoded[k] = b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range encoded {
		m.values[k] = v
	}
	m.puts++
	return nil
}

func (m *MemorySink) Get(_ context.Context, key string, out interface{}) (bool, error) {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// Puts reports how many batches have been written.
func (m *MemorySink) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

func (m *MemorySink) Close() error { return nil }
