package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/domain"
)

// repositories returns every backend available in this environment.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()

	sqliteStore, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "client.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	repos := map[string]Repository{
		"memory": NewMemory(),
		"sqlite": sqliteStore,
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rs, err := NewRedis(context.Background(), RedisOptions{
			Addr:   addr,
			TTL:    time.Minute,
			Prefix: "chat:test:" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":",
		})
		if err != nil {
			t.Fatalf("NewRedis failed: %v", err)
		}
		t.Cleanup(func() { _ = rs.Close() })
		repos["redis"] = rs
	}
	return repos
}

func TestRepositoryGetSetDelete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := repo.Get(ctx, "dev_a", KeyStudent); err != nil || ok {
				t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
			}

			if err := repo.Set(ctx, "dev_a", KeyStudent, "one"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := repo.Set(ctx, "dev_a", KeyStudent, "two"); err != nil {
				t.Fatalf("Set overwrite failed: %v", err)
			}
			if err := repo.Set(ctx, "dev_b", KeyStudent, "other"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			got, ok, err := repo.Get(ctx, "dev_a", KeyStudent)
			if err != nil || !ok || got != "two" {
				t.Fatalf("expected two, got %q ok=%v err=%v", got, ok, err)
			}

			if err := repo.Delete(ctx, "dev_a", KeyStudent, KeyActiveConversationID); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, ok, _ := repo.Get(ctx, "dev_a", KeyStudent); ok {
				t.Fatal("expected key to be deleted")
			}
			if got, ok, _ := repo.Get(ctx, "dev_b", KeyStudent); !ok || got != "other" {
				t.Fatalf("expected other device untouched, got %q ok=%v", got, ok)
			}

			if err := repo.Ping(ctx); err != nil {
				t.Fatalf("Ping failed: %v", err)
			}
		})
	}
}

func TestSQLiteCleanupStale(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	s.now = func() time.Time { return old }
	if err := s.Set(ctx, "dev_old", KeyStudent, "x"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "dev_mixed", KeyStudent, "x"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.now = time.Now
	if err := s.Set(ctx, "dev_mixed", KeyActiveConversationID, "7"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	removed, err := s.CleanupStale(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupStale failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 device removed, got %d", removed)
	}
	if _, ok, _ := s.Get(ctx, "dev_old", KeyStudent); ok {
		t.Fatal("expected stale device to be removed")
	}
	// A recent write keeps every key of the device.
	if _, ok, _ := s.Get(ctx, "dev_mixed", KeyStudent); !ok {
		t.Fatal("expected active device to keep its student")
	}
}

func TestMemoryCleanupStale(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now.Add(-time.Hour) }
	_ = m.Set(ctx, "dev_old", KeyStudent, "x")
	m.now = func() time.Time { return now }
	_ = m.Set(ctx, "dev_new", KeyStudent, "y")

	removed, _ := m.CleanupStale(ctx, 30*time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok, _ := m.Get(ctx, "dev_new", KeyStudent); !ok {
		t.Fatal("expected fresh device to survive")
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	rs := newRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), RedisOptions{})
	defer func() { _ = rs.Close() }()
	if got := rs.hashKey("dev_1"); got != "chat:device:dev_1" {
		t.Fatalf("unexpected hash key %q", got)
	}
}

func TestSessionsRoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sessions := NewSessions(repo)

			sess, err := sessions.LoadSession(ctx, "dev_s")
			if err != nil {
				t.Fatalf("LoadSession failed: %v", err)
			}
			if sess.LoggedIn() || sess.ActiveConversationID != 0 || sess.DeviceID != "dev_s" {
				t.Fatalf("expected empty session, got %+v", sess)
			}

			student := &domain.Student{ID: 5, Email: "s@example.com", Name: "Sam"}
			if err := sessions.SaveStudent(ctx, "dev_s", student); err != nil {
				t.Fatalf("SaveStudent failed: %v", err)
			}
			if err := sessions.SaveActiveConversation(ctx, "dev_s", 7); err != nil {
				t.Fatalf("SaveActiveConversation failed: %v", err)
			}

			sess, err = sessions.LoadSession(ctx, "dev_s")
			if err != nil {
				t.Fatalf("LoadSession failed: %v", err)
			}
			if sess.Student == nil || *sess.Student != *student || sess.ActiveConversationID != 7 {
				t.Fatalf("unexpected session: %+v", sess)
			}

			if err := sessions.SaveActiveConversation(ctx, "dev_s", 0); err != nil {
				t.Fatalf("clear active failed: %v", err)
			}
			sess, _ = sessions.LoadSession(ctx, "dev_s")
			if sess.ActiveConversationID != 0 || sess.Student == nil {
				t.Fatalf("expected only active conversation cleared, got %+v", sess)
			}

			if err := sessions.Clear(ctx, "dev_s"); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			sess, _ = sessions.LoadSession(ctx, "dev_s")
			if sess.LoggedIn() {
				t.Fatalf("expected cleared session, got %+v", sess)
			}
		})
	}
}

func TestSessionsIgnoreCorruptValues(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	_ = repo.Set(ctx, "dev_c", KeyStudent, "{not json")
	_ = repo.Set(ctx, "dev_c", KeyActiveConversationID, "seven")

	sess, err := NewSessions(repo).LoadSession(ctx, "dev_c")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if sess.Student != nil || sess.ActiveConversationID != 0 {
		t.Fatalf("expected corrupt values to read as absent, got %+v", sess)
	}
}

func TestTouchKeepsActiveDevices(t *testing.T) {
	sqliteStore, err := NewSQLite(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer func() { _ = sqliteStore.Close() }()
	memoryStore := NewMemory()

	tests := []struct {
		name    string
		repo    Repository
		setTime func(func() time.Time)
	}{
		{"sqlite", sqliteStore, func(now func() time.Time) { sqliteStore.now = now }},
		{"memory", memoryStore, func(now func() time.Time) { memoryStore.now = now }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().Add(-48 * time.Hour)
			tt.setTime(func() time.Time { return old })
			for _, id := range []string{"dev_active", "dev_idle"} {
				if err := tt.repo.Set(ctx, id, KeyStudent, `{"id":1}`); err != nil {
					t.Fatalf("Set failed: %v", err)
				}
			}

			tt.setTime(time.Now)
			if err := tt.repo.Touch(ctx, "dev_active", "dev_unknown"); err != nil {
				t.Fatalf("Touch failed: %v", err)
			}

			removed, err := tt.repo.CleanupStale(ctx, 24*time.Hour)
			if err != nil {
				t.Fatalf("CleanupStale failed: %v", err)
			}
			if removed != 1 {
				t.Fatalf("expected only the idle device removed, got %d", removed)
			}
			if _, ok, _ := tt.repo.Get(ctx, "dev_active", KeyStudent); !ok {
				t.Fatal("expected touched device to keep its session")
			}
			if _, ok, _ := tt.repo.Get(ctx, "dev_unknown", KeyStudent); ok {
				t.Fatal("expected Touch not to create sessions")
			}
		})
	}
}
