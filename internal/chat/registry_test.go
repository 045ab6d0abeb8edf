package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taimurshaikh/CursorForCollegeApps/internal/domain"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/store"
)

type fakeCleaner struct {
	calls atomic.Int32
	ttl   atomic.Int64

	mu      sync.Mutex
	touched []string
}

func (f *fakeCleaner) Touch(_ context.Context, deviceIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, deviceIDs...)
	return nil
}

func (f *fakeCleaner) CleanupStale(_ context.Context, ttl time.Duration) (int64, error) {
	f.calls.Add(1)
	f.ttl.Store(int64(ttl))
	return 1, nil
}

func TestRegistryMountsOncePerDevice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sessions := store.NewSessions(store.NewMemory())
	_ = sessions.SaveStudent(ctx, "dev_a", &domain.Student{ID: 1, Email: "a@example.com"})

	api := &fakeAPI{}
	var built atomic.Int32
	reg := NewRegistry(func(id string) *Controller {
		built.Add(1)
		return NewController(id, api, sessions)
	})

	var wg sync.WaitGroup
	ctrls := make([]*Controller, 8)
	for i := range ctrls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := reg.Get(ctx, "dev_a")
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			ctrls[i] = c
		}(i)
	}
	wg.Wait()

	if built.Load() != 1 {
		t.Fatalf("expected one controller built, got %d", built.Load())
	}
	for _, c := range ctrls {
		if c != ctrls[0] {
			t.Fatal("expected the same controller for every caller")
		}
	}
	if api.count("list") != 1 {
		t.Fatalf("expected a single mount refetch, got %d", api.count("list"))
	}
	if !ctrls[0].Snapshot().LoggedIn() {
		t.Fatal("expected mounted controller to restore the student")
	}

	other, _ := reg.Get(ctx, "dev_b")
	if other == ctrls[0] || other.DeviceID() != "dev_b" {
		t.Fatal("expected a separate controller per device")
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 controllers, got %d", reg.Len())
	}
}

func TestRegistryEvictsIdleControllers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sessions := store.NewSessions(store.NewMemory())
	api := &fakeAPI{}

	now := time.Now()
	reg := NewRegistry(func(id string) *Controller {
		return NewController(id, api, sessions)
	}, WithClock(func() time.Time { return now }))

	idle, _ := reg.Get(ctx, "dev_idle")
	watched, _ := reg.Get(ctx, "dev_watched")
	_, cancel := watched.Subscribe()
	defer cancel()

	now = now.Add(2 * time.Hour)
	_, _ = reg.Get(ctx, "dev_fresh")

	if removed := reg.Evict(time.Hour); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected busy and fresh controllers kept, got %d", reg.Len())
	}

	// An evicted device gets a fresh controller that remounts.
	again, _ := reg.Get(ctx, "dev_idle")
	if again == idle {
		t.Fatal("expected a new controller after eviction")
	}
}

func TestRegistrySweepCleansPersistedSessions(t *testing.T) {
	t.Parallel()
	cleaner := &fakeCleaner{}
	reg := NewRegistry(func(id string) *Controller {
		return NewController(id, &fakeAPI{}, store.NewSessions(store.NewMemory()))
	}, WithStaleCleaner(cleaner))

	reg.sweep(context.Background(), 3*time.Hour)

	if cleaner.calls.Load() != 1 || time.Duration(cleaner.ttl.Load()) != 3*time.Hour {
		t.Fatalf("expected cleaner called with ttl, got %d calls", cleaner.calls.Load())
	}
}

func TestRegistryJanitorStopsWithContext(t *testing.T) {
	t.Parallel()
	cleaner := &fakeCleaner{}
	reg := NewRegistry(func(id string) *Controller {
		return NewController(id, &fakeAPI{}, store.NewSessions(store.NewMemory()))
	}, WithStaleCleaner(cleaner))

	ctx, cancel := context.WithCancel(context.Background())
	reg.StartJanitor(ctx, time.Hour, 5*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for cleaner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("janitor never swept")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
}

func TestRegistrySweepTouchesLiveControllers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cleaner := &fakeCleaner{}
	now := time.Now()
	reg := NewRegistry(func(id string) *Controller {
		return NewController(id, &fakeAPI{}, store.NewSessions(store.NewMemory()))
	}, WithStaleCleaner(cleaner), WithClock(func() time.Time { return now }))

	_, _ = reg.Get(ctx, "dev_idle")
	now = now.Add(2 * time.Hour)
	_, _ = reg.Get(ctx, "dev_active")

	reg.sweep(ctx, time.Hour)

	cleaner.mu.Lock()
	touched := append([]string(nil), cleaner.touched...)
	cleaner.mu.Unlock()
	if len(touched) != 1 || touched[0] != "dev_active" {
		t.Fatalf("expected only the live device touched, got %v", touched)
	}
	if cleaner.calls.Load() != 1 {
		t.Fatalf("expected cleanup after touching, got %d calls", cleaner.calls.Load())
	}
}
