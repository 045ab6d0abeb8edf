package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	updatedAt time.Time
}

// MemoryStore implements Repository in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get reads one key for a device.
func (m *MemoryStore) Get(_ context.Context, deviceID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[deviceID][key]
	return e.value, ok, nil
}

// Set stores one key for a device.
func (m *MemoryStore) Set(_ context.Context, deviceID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.devices[deviceID]
	if !ok {
		kv = make(map[string]memoryEntry)
		m.devices[deviceID] = kv
	}
	kv[key] = memoryEntry{value: value, updatedAt: m.now()}
	return nil
}

// Delete removes keys for a device.
func (m *MemoryStore) Delete(_ context.Context, deviceID string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.devices[deviceID]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(kv, k)
	}
	if len(kv) == 0 {
		delete(m.devices, deviceID)
	}
	return nil
}

// Touch refreshes the timestamps of the given devices.
func (m *MemoryStore) Touch(_ context.Context, deviceIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, id := range deviceIDs {
		for k, e := range m.devices[id] {
			e.updatedAt = now
			m.devices[id][k] = e
		}
	}
	return nil
}

// CleanupStale removes devices whose newest key is older than ttl.
func (m *MemoryStore) CleanupStale(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := m.now().Add(-ttl)
	var removed int64
	for id, kv := range m.devices {
		var newest time.Time
		for _, e := range kv {
			if e.updatedAt.After(newest) {
				newest = e.updatedAt
			}
		}
		if newest.Before(threshold) {
			delete(m.devices, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
