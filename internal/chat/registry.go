package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory builds an unmounted controller for a device.
type Factory func(deviceID string) *Controller

// StaleCleaner removes persisted sessions idle longer than ttl. Touch keeps
// the sessions of devices that still have a controller alive.
type StaleCleaner interface {
	Touch(ctx context.Context, deviceIDs ...string) error
	CleanupStale(ctx context.Context, ttl time.Duration) (int64, error)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStaleCleaner makes the janitor also sweep persisted sessions.
func WithStaleCleaner(sc StaleCleaner) RegistryOption {
	return func(r *Registry) {
		r.cleaner = sc
	}
}

// WithClock overrides the registry's time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type registryEntry struct {
	ctrl     *Controller
	lastUsed time.Time
	ready    chan struct{}
}

// Registry keeps one mounted controller per device.
type Registry struct {
	factory Factory
	cleaner StaleCleaner
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory: factory,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the device's controller, creating and mounting it on first use.
// Concurrent callers for a new device wait for the single mount.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Controller, error) {
	r.mu.Lock()
	if e, ok := r.entries[deviceID]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		select {
		case <-e.ready:
			return e.ctrl, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e := &registryEntry{
		ctrl:     r.factory(deviceID),
		lastUsed: r.now(),
		ready:    make(chan struct{}),
	}
	r.entries[deviceID] = e
	r.mu.Unlock()

	// A cancelled request must not turn a failed refetch into a logout.
	e.ctrl.Mount(context.WithoutCancel(ctx))
	close(e.ready)
	slog.Info("Controller registered", "device_id", deviceID)
	return e.ctrl, nil
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Evict drops controllers idle longer than ttl and returns how many were
// removed. Busy controllers are kept.
func (r *Registry) Evict(ttl time.Duration) int {
	threshold := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.lastUsed.After(threshold) || e.ctrl.Busy() {
			continue
		}
		delete(r.entries, id)
		removed++
		slog.Info("Controller evicted", "device_id", id)
	}
	return removed
}

// StartJanitor periodically evicts idle controllers and, when configured,
// stale persisted sessions. It stops when ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session janitor started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				r.sweep(ctx, ttl)
			case <-ctx.Done():
				slog.Info("Session janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Registry) sweep(ctx context.Context, ttl time.Duration) {
	if n := r.Evict(ttl); n > 0 {
		slog.Info("Session janitor evicted idle controllers", "count", n)
	}
	if r.cleaner == nil {
		return
	}
	if live := r.deviceIDs(); len(live) > 0 {
		if err := r.cleaner.Touch(ctx, live...); err != nil {
			slog.Error("Session janitor failed to touch live sessions", "error", err)
		}
	}
	deleted, err := r.cleaner.CleanupStale(ctx, ttl)
	if err != nil {
		slog.Error("Session janitor failed to clean up persisted sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session janitor removed stale persisted sessions", "count", deleted)
	}
}

func (r *Registry) deviceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every controller's background sends have finished.
func (r *Registry) Wait() {
	r.mu.Lock()
	ctrls := make([]*Controller, 0, len(r.entries))
	for _, e := range r.entries {
		ctrls = append(ctrls, e.ctrl)
	}
	r.mu.Unlock()

	for _, c := range ctrls {
		c.Wait()
	}
}
