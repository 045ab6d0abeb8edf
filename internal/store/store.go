// Package store persists per-device client state.
package store

import (
	"context"
	"time"
)

// Keys persisted for every device.
const (
	KeyStudent              = "student"
	KeyActiveConversationID = "activeConversationId"
)

// Repository is a key-value store scoped by device.
type Repository interface {
	// Get returns the value stored under key. ok is false when absent.
	Get(ctx context.Context, deviceID, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, deviceID, key, value string) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, deviceID string, keys ...string) error

	// Touch marks devices as active without changing their values.
	Touch(ctx context.Context, deviceIDs ...string) error

	// CleanupStale removes devices not written to or touched within ttl and
	// returns how many were removed.
	CleanupStale(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}
