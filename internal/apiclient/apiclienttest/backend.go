// Package apiclienttest provides an in-memory chat backend for tests.
package apiclienttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/taimurshaikh/CursorForCollegeApps/internal/domain"
)

// ReplyFunc produces the assistant reply for a user message.
type ReplyFunc func(history []domain.Message, content string) string

// Backend implements the backend HTTP contract in memory.
type Backend struct {
	mu            sync.Mutex
	nextID        int64
	students      map[int64]*domain.Student
	conversations map[int64]*domain.Conversation
	messages      map[int64][]domain.Message
	reply         ReplyFunc
	requests      []string
}

// New creates an empty backend that echoes user messages.
func New() *Backend {
	return &Backend{
		students:      make(map[int64]*domain.Student),
		conversations: make(map[int64]*domain.Conversation),
		messages:      make(map[int64][]domain.Message),
		reply: func(_ []domain.Message, content string) string {
			return "echo: " + content
		},
	}
}

// SetReply replaces the assistant reply generator.
func (b *Backend) SetReply(fn ReplyFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reply = fn
}

// Start serves the backend on a test server closed at test cleanup.
func (b *Backend) Start(t interface{ Cleanup(func()) }) *httptest.Server {
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// Handler returns the backend routes.
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.login)
	mux.HandleFunc("GET /conversations/{id}", b.listConversations)
	mux.HandleFunc("POST /conversations", b.createConversation)
	mux.HandleFunc("GET /conversations/{id}/messages", b.getMessages)
	mux.HandleFunc("POST /conversations/{id}/messages", b.sendMessage)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Method+" "+r.URL.Path)
		b.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

// Requests returns the "METHOD /path" lines received so far.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// DeleteStudent removes a student and everything it owns.
func (b *Backend) DeleteStudent(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.students, id)
	for cid, c := range b.conversations {
		if c.StudentID == id {
			delete(b.conversations, cid)
			delete(b.messages, cid)
		}
	}
}

// DeleteConversation removes a conversation and its messages.
func (b *Backend) DeleteConversation(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, id)
	delete(b.messages, id)
}

// Messages returns the stored messages of a conversation.
func (b *Backend) Messages(conversationID int64) []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.messages[conversationID]...)
}

func (b *Backend) id() int64 {
	b.nextID++
	return b.nextID
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string  `json:"email"`
		Name  *string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "email is required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.students {
		if s.Email == req.Email {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	name := "Student"
	if req.Name != nil && *req.Name != "" {
		name = *req.Name
	}
	s := &domain.Student{ID: b.id(), Email: req.Email, Name: name}
	b.students[s.ID] = s
	writeJSON(w, http.StatusOK, s)
}

func (b *Backend) listConversations(w http.ResponseWriter, r *http.Request) {
	studentID, ok := pathID(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.students[studentID]; !exists {
		writeDetail(w, http.StatusNotFound, "Student not found")
		return
	}
	out := []domain.Conversation{}
	for _, c := range b.conversations {
		if c.StudentID == studentID {
			out = append(out, *c)
		}
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (b *Backend) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID int64  `json:"student_id"`
		Title     string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.students[req.StudentID]; !exists {
		writeDetail(w, http.StatusNotFound, "Student not found")
		return
	}
	title := req.Title
	if title == "" {
		title = "New Conversation"
	}
	c := &domain.Conversation{ID: b.id(), StudentID: req.StudentID, Title: title}
	b.conversations[c.ID] = c
	writeJSON(w, http.StatusOK, c)
}

func (b *Backend) getMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.conversations[conversationID]; !exists {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	msgs := append([]domain.Message{}, b.messages[conversationID]...)
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (b *Backend) sendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.conversations[conversationID]; !exists {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	history := b.messages[conversationID]
	user := domain.Message{ID: b.id(), ConversationID: conversationID, Role: domain.RoleUser, Content: req.Content}
	history = append(history, user)
	assistant := domain.Message{
		ID:             b.id(),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        b.reply(history, req.Content),
	}
	b.messages[conversationID] = append(history, assistant)
	writeJSON(w, http.StatusOK, assistant)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
