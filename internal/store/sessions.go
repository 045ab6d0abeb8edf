package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/taimurshaikh/CursorForCollegeApps/internal/domain"
)

// Sessions stores the persisted part of a device session: the logged-in
// student and the active conversation id.
type Sessions struct {
	repo Repository
}

// NewSessions wraps a Repository.
func NewSessions(repo Repository) *Sessions {
	return &Sessions{repo: repo}
}

// LoadSession reads the persisted session for a device. Missing or corrupt
// values read as "none".
func (s *Sessions) LoadSession(ctx context.Context, deviceID string) (domain.Session, error) {
	sess := domain.Session{DeviceID: deviceID}

	raw, ok, err := s.repo.Get(ctx, deviceID, KeyStudent)
	if err != nil {
		return sess, fmt.Errorf("load student: %w", err)
	}
	if ok {
		var student domain.Student
		if err := json.Unmarshal([]byte(raw), &student); err != nil || student.ID == 0 {
			slog.Warn("discarding corrupt persisted student", "device_id", deviceID, "error", err)
		} else {
			sess.Student = &student
		}
	}

	raw, ok, err = s.repo.Get(ctx, deviceID, KeyActiveConversationID)
	if err != nil {
		return sess, fmt.Errorf("load active conversation: %w", err)
	}
	if ok {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			slog.Warn("discarding corrupt persisted conversation id", "device_id", deviceID, "value", raw)
		} else {
			sess.ActiveConversationID = id
		}
	}

	return sess, nil
}

// SaveStudent persists the student. nil removes it.
func (s *Sessions) SaveStudent(ctx context.Context, deviceID string, student *domain.Student) error {
	if student == nil {
		return s.repo.Delete(ctx, deviceID, KeyStudent)
	}
	b, err := json.Marshal(student)
	if err != nil {
		return fmt.Errorf("encode student: %w", err)
	}
	return s.repo.Set(ctx, deviceID, KeyStudent, string(b))
}

// SaveActiveConversation persists the active conversation id. Zero removes it.
func (s *Sessions) SaveActiveConversation(ctx context.Context, deviceID string, conversationID int64) error {
	if conversationID == 0 {
		return s.repo.Delete(ctx, deviceID, KeyActiveConversationID)
	}
	return s.repo.Set(ctx, deviceID, KeyActiveConversationID, strconv.FormatInt(conversationID, 10))
}

// Clear removes everything persisted for a device.
func (s *Sessions) Clear(ctx context.Context, deviceID string) error {
	return s.repo.Delete(ctx, deviceID, KeyStudent, KeyActiveConversationID)
}
