// Package cursor provides SourceState stores: per-source accepted and
// committed sequence cursors. The store is injected rather than held in a
// process-wide singleton so the gateway and indexer stay testable in
// isolation.
package cursor

import (
	"context"
	"sync"
)

// Memory is the in-process cursor store, the default driver.
type Memory struct {
	mu        sync.RWMutex
	accepted  map[string]uint64
	committed map[string]uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accepted:  make(map[string]uint64),
		committed: make(map[string]uint64),
	}
}

// Accepted returns the highest sequence accepted by the gateway for a source.
func (m *Memory) Accepted(_ context.Context, sourceKey string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accepted[sourceKey], nil
}

// SetAccepted advances the accepted cursor.
func (m *Memory) SetAccepted(_ context.Context, sourceKey string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.accepted[sourceKey] {
		m.accepted[sourceKey] = seq
	}
	return nil
}

// Committed returns the highest sequence indexed for a source.
func (m *Memory) Committed(_ context.Context, sourceKey string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.committed[sourceKey], nil
}

// SetCommitted advances the committed cursor.
func (m *Memory) SetCommitted(_ context.Context, sourceKey string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.committed[sourceKey] {
		m.committed[sourceKey] = seq
	}
	return nil
}

// Ping always succeeds for the in-memory store.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() {}
