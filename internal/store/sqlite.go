package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taimurshaikh/CursorForCollegeApps/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS client_state (
		device_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (device_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_client_state_updated ON client_state(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get reads one key for a device.
func (s *SQLiteStore) Get(ctx context.Context, deviceID, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM client_state WHERE device_id = ? AND key = ?`, deviceID, key)

	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts one key for a device.
func (s *SQLiteStore) Set(ctx context.Context, deviceID, key, value string) error {
	query := `
	INSERT INTO client_state (device_id, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, deviceID, key, value, s.now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys for a device.
func (s *SQLiteStore) Delete(ctx context.Context, deviceID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := `DELETE FROM client_state WHERE device_id = ? AND key IN (` + placeholders + `)`
	args := make([]any, 0, len(keys)+1)
	args = append(args, deviceID)
	for _, k := range keys {
		args = append(args, k)
	}

	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		slog.Debug("delete client state failed", "device_id", deviceID, "error", err)
		return fmt.Errorf("delete client state: %w", err)
	}
	return nil
}

// Touch bumps updated_at for every key of the given devices.
func (s *SQLiteStore) Touch(ctx context.Context, deviceIDs ...string) error {
	if len(deviceIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(deviceIDs)), ",")
	query := `UPDATE client_state SET updated_at = ? WHERE device_id IN (` + placeholders + `)`
	args := make([]any, 0, len(deviceIDs)+1)
	args = append(args, s.now().Unix())
	for _, id := range deviceIDs {
		args = append(args, id)
	}

	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("touch client state: %w", err)
	}
	return nil
}

// CleanupStale removes every device whose newest key is older than ttl.
func (s *SQLiteStore) CleanupStale(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).Unix()
	query := `
	DELETE FROM client_state WHERE device_id IN (
		SELECT device_id FROM client_state
		GROUP BY device_id
		HAVING MAX(updated_at) < ?
	)`

	var removed int64
	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		var devices int64
		row := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM (
				SELECT device_id FROM client_state
				GROUP BY device_id
				HAVING MAX(updated_at) < ?
			)`, threshold)
		if err := row.Scan(&devices); err != nil {
			return err
		}
		if devices == 0 {
			removed = 0
			return nil
		}
		if _, err := s.db.ExecContext(ctx, query, threshold); err != nil {
			return err
		}
		removed = devices
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup stale state: %w", err)
	}
	return removed, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
