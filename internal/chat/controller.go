// Package chat holds the per-device conversation controller: the state
// machine behind the login, sidebar and thread views.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/apiclient"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/domain"
)

// Messages shown to the student.
const (
	DefaultStudentName = "Student"
	LoginFailedAlert   = "Login failed. Please try again."
)

var (
	// ErrNothingToSend is returned when the composer is blank.
	ErrNothingToSend = errors.New("nothing to send")
	// ErrNoConversation is returned when sending without an active conversation.
	ErrNoConversation = errors.New("no active conversation")
	// ErrSendInFlight is returned while a previous send is still outstanding.
	ErrSendInFlight = errors.New("send already in flight")
	// ErrNotLoggedIn is returned by actions that need a student.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrAlreadyLoggedIn is returned by Login while a student is logged in.
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

// API is the backend surface the controller drives.
type API interface {
	Login(ctx context.Context, email, name string) (*domain.Student, error)
	ListConversations(ctx context.Context, studentID int64) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context, studentID int64, title string) (*domain.Conversation, error)
	GetMessages(ctx context.Context, conversationID int64) ([]domain.Message, error)
	SendMessage(ctx context.Context, conversationID int64, content string) (*domain.Message, error)
}

// SessionStore persists the part of the state that survives a reload.
type SessionStore interface {
	LoadSession(ctx context.Context, deviceID string) (domain.Session, error)
	SaveStudent(ctx context.Context, deviceID string, student *domain.Student) error
	SaveActiveConversation(ctx context.Context, deviceID string, conversationID int64) error
	Clear(ctx context.Context, deviceID string) error
}

// State is a point-in-time copy of everything the views render.
type State struct {
	Student              *domain.Student       `json:"student"`
	Conversations        []domain.Conversation `json:"conversations"`
	ActiveConversationID int64                 `json:"active_conversation_id"`
	Messages             []domain.Message      `json:"messages"`
	Input                string                `json:"input"`
	Loading              bool                  `json:"loading"`
	Email                string                `json:"email"`
	Name                 string                `json:"name"`
	Alert                string                `json:"alert,omitempty"`
}

// LoggedIn reports whether a student is present.
func (s State) LoggedIn() bool {
	return s.Student != nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTokenSource replaces the generator of local message tokens.
func WithTokenSource(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newToken = fn
		}
	}
}

// Controller owns the conversation state of one device.
//
// Network calls run without holding mu. Responses are applied only when the
// generation they were issued under is still current, so a late answer for
// an earlier selection or login never overwrites newer state.
type Controller struct {
	deviceID string
	api      API
	sessions SessionStore
	log      *slog.Logger
	newToken func() string

	mu    sync.Mutex
	state State

	// msgGen changes whenever the message list is re-targeted.
	msgGen       uint64
	fetchPending bool
	// convGen changes on login, logout and list refreshes.
	convGen uint64
	sending bool

	subMu   sync.Mutex
	subs    map[uint64]chan struct{}
	nextSub uint64

	wg sync.WaitGroup
}

// NewController creates a controller for deviceID. Call Mount before use.
func NewController(deviceID string, api API, sessions SessionStore, opts ...Option) *Controller {
	c := &Controller{
		deviceID: deviceID,
		api:      api,
		sessions: sessions,
		log:      slog.Default(),
		newToken: uuid.NewString,
		subs:     make(map[uint64]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("device_id", deviceID)
	return c
}

// DeviceID returns the device this controller serves.
func (c *Controller) DeviceID() string {
	return c.deviceID
}

// Mount restores the persisted session and refetches everything else.
func (c *Controller) Mount(ctx context.Context) {
	sess, err := c.sessions.LoadSession(ctx, c.deviceID)
	if err != nil {
		c.log.Warn("failed to load persisted session", "error", err)
		sess = domain.Session{DeviceID: c.deviceID}
	}

	c.mu.Lock()
	c.state = State{
		Student:              sess.Student,
		ActiveConversationID: sess.ActiveConversationID,
		Conversations:        []domain.Conversation{},
		Messages:             []domain.Message{},
	}
	c.convGen++
	convGen := c.convGen
	var msgGen uint64
	if sess.ActiveConversationID != 0 {
		msgGen = c.beginFetchLocked()
	} else {
		c.msgGen++
		c.fetchPending = false
	}
	c.mu.Unlock()
	c.notify()

	c.log.Debug("controller mounted",
		"logged_in", sess.Student != nil,
		"conversation_id", sess.ActiveConversationID)

	if sess.Student != nil {
		c.refreshConversations(ctx, sess.Student.ID, convGen)
	}
	if sess.ActiveConversationID != 0 {
		c.loadMessages(ctx, sess.ActiveConversationID, msgGen)
	}
}

// Login finds or creates the student and loads their conversations.
// An empty name is sent as DefaultStudentName. Only a logged-out device can
// log in.
func (c *Controller) Login(ctx context.Context, email, name string) error {
	c.mu.Lock()
	if c.state.Student != nil {
		c.mu.Unlock()
		return ErrAlreadyLoggedIn
	}
	c.state.Email = email
	c.state.Name = name
	c.state.Alert = ""
	c.mu.Unlock()

	sendName := name
	if strings.TrimSpace(sendName) == "" {
		sendName = DefaultStudentName
	}

	student, err := c.api.Login(ctx, email, sendName)
	if err != nil {
		c.log.Warn("login failed", "email", email, "error", err)
		c.mu.Lock()
		c.state.Alert = LoginFailedAlert
		c.mu.Unlock()
		c.notify()
		return err
	}

	c.mu.Lock()
	if c.state.Student != nil {
		// A concurrent login finished first.
		c.mu.Unlock()
		return ErrAlreadyLoggedIn
	}
	c.state.Student = student
	c.convGen++
	gen := c.convGen
	c.mu.Unlock()

	if err := c.sessions.SaveStudent(ctx, c.deviceID, student); err != nil {
		c.log.Error("failed to persist student", "student_id", student.ID, "error", err)
	}
	c.log.Info("student logged in", "student_id", student.ID)
	c.notify()

	c.refreshConversations(ctx, student.ID, gen)
	return nil
}

// Logout clears every piece of state, persisted or not.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()

	if err := c.sessions.Clear(ctx, c.deviceID); err != nil {
		c.log.Error("failed to clear persisted session", "error", err)
	}
	c.notify()
}

// resetLocked returns to the logged-out state. Caller holds mu.
func (c *Controller) resetLocked() {
	c.state.Student = nil
	c.state.ActiveConversationID = 0
	c.state.Conversations = []domain.Conversation{}
	c.state.Messages = []domain.Message{}
	c.state.Email = ""
	c.state.Name = ""
	c.convGen++
	c.msgGen++
	c.fetchPending = false
}

// SelectConversation makes id active and loads its messages.
func (c *Controller) SelectConversation(ctx context.Context, id int64) {
	c.mu.Lock()
	if c.state.Student == nil || id == c.state.ActiveConversationID {
		c.mu.Unlock()
		return
	}
	c.state.ActiveConversationID = id
	gen := c.beginFetchLocked()
	c.mu.Unlock()

	c.persistActive(ctx, id)
	c.notify()
	c.loadMessages(ctx, id, gen)
}

// NewConversation creates a conversation, prepends it and selects it.
func (c *Controller) NewConversation(ctx context.Context) error {
	c.mu.Lock()
	student := c.state.Student
	c.mu.Unlock()
	if student == nil {
		return ErrNotLoggedIn
	}

	conv, err := c.api.CreateConversation(ctx, student.ID, "")
	if err != nil {
		if apiclient.IsNotFound(err, apiclient.EntityStudent) {
			c.log.Warn("student no longer exists, logging out", "student_id", student.ID)
			c.Logout(ctx)
			return err
		}
		c.log.Error("failed to create conversation", "student_id", student.ID, "error", err)
		return err
	}

	c.mu.Lock()
	if c.state.Student == nil || c.state.Student.ID != student.ID {
		c.mu.Unlock()
		return nil
	}
	convs := make([]domain.Conversation, 0, len(c.state.Conversations)+1)
	convs = append(convs, *conv)
	for _, existing := range c.state.Conversations {
		if existing.ID != conv.ID {
			convs = append(convs, existing)
		}
	}
	c.state.Conversations = convs
	c.state.ActiveConversationID = conv.ID
	c.state.Messages = []domain.Message{}
	c.msgGen++
	c.fetchPending = false
	c.mu.Unlock()

	c.persistActive(ctx, conv.ID)
	c.log.Info("conversation created", "conversation_id", conv.ID)
	c.notify()
	return nil
}

// SetInput replaces the composer text.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	changed := c.state.Input != text
	c.state.Input = text
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

type pendingSend struct {
	conversationID int64
	content        string
	token          string
	gen            uint64
	// staleHistory is set when a message fetch was abandoned to start
	// this send; the list is refetched once the send succeeds.
	staleHistory bool
}

// SendMessage sends the composer text and blocks until the reply arrives.
func (c *Controller) SendMessage(ctx context.Context) error {
	p, err := c.beginSend()
	if err != nil {
		return err
	}
	return c.completeSend(ctx, p)
}

// SubmitMessage appends the optimistic message and returns. The round trip
// finishes in the background, detached from ctx's cancellation.
func (c *Controller) SubmitMessage(ctx context.Context) error {
	p, err := c.beginSend()
	if err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.completeSend(bg, p)
	}()
	return nil
}

// Wait blocks until every background send has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) beginSend() (pendingSend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sending {
		return pendingSend{}, ErrSendInFlight
	}
	content := c.state.Input
	if strings.TrimSpace(content) == "" {
		return pendingSend{}, ErrNothingToSend
	}
	if c.state.ActiveConversationID == 0 {
		return pendingSend{}, ErrNoConversation
	}

	p := pendingSend{
		conversationID: c.state.ActiveConversationID,
		content:        content,
		token:          c.newToken(),
		staleHistory:   c.fetchPending,
	}
	c.msgGen++
	c.fetchPending = false
	p.gen = c.msgGen

	c.state.Messages = append(c.state.Messages, domain.Message{
		ConversationID: p.conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		LocalToken:     p.token,
		Pending:        true,
	})
	c.state.Input = ""
	c.state.Loading = true
	c.sending = true

	c.notify()
	return p, nil
}

func (c *Controller) completeSend(ctx context.Context, p pendingSend) error {
	reply, err := c.api.SendMessage(ctx, p.conversationID, p.content)

	c.mu.Lock()
	c.sending = false
	c.state.Loading = false
	c.removeLocalLocked(p.token)

	if c.msgGen != p.gen || c.state.ActiveConversationID != p.conversationID {
		c.mu.Unlock()
		c.notify()
		if err != nil {
			c.log.Warn("send failed after selection changed", "conversation_id", p.conversationID, "error", err)
		}
		return err
	}

	if err == nil {
		c.state.Messages = append(c.state.Messages,
			domain.Message{
				ConversationID: p.conversationID,
				Role:           domain.RoleUser,
				Content:        p.content,
				LocalToken:     p.token,
			},
			*reply,
		)
		refetchGen := c.refetchGenLocked(p)
		c.mu.Unlock()
		c.notify()
		c.refetchStale(ctx, p, refetchGen)
		return nil
	}

	if !apiclient.IsNotFound(err, apiclient.EntityConversation) {
		refetchGen := c.refetchGenLocked(p)
		c.mu.Unlock()
		c.notify()
		c.log.Error("failed to send message", "conversation_id", p.conversationID, "error", err)
		c.refetchStale(ctx, p, refetchGen)
		return err
	}

	c.log.Warn("conversation no longer exists", "conversation_id", p.conversationID)
	c.state.ActiveConversationID = 0
	c.state.Messages = []domain.Message{}
	c.msgGen++
	student := c.state.Student
	c.convGen++
	convGen := c.convGen
	c.mu.Unlock()

	c.persistActive(ctx, 0)
	c.notify()
	if student != nil {
		c.refreshConversations(ctx, student.ID, convGen)
	}
	return err
}

// refetchGenLocked starts a new fetch generation when p abandoned a fetch
// of its conversation's history. Caller holds mu.
func (c *Controller) refetchGenLocked(p pendingSend) uint64 {
	if !p.staleHistory {
		return 0
	}
	return c.beginFetchLocked()
}

func (c *Controller) refetchStale(ctx context.Context, p pendingSend, gen uint64) {
	if p.staleHistory {
		c.loadMessages(ctx, p.conversationID, gen)
	}
}

func (c *Controller) removeLocalLocked(token string) {
	kept := c.state.Messages[:0:0]
	for _, m := range c.state.Messages {
		if m.LocalToken != token {
			kept = append(kept, m)
		}
	}
	c.state.Messages = kept
}

// beginFetchLocked starts a new message-list generation. Caller holds mu.
func (c *Controller) beginFetchLocked() uint64 {
	c.msgGen++
	c.fetchPending = true
	return c.msgGen
}

func (c *Controller) refreshConversations(ctx context.Context, studentID int64, gen uint64) {
	convs, err := c.api.ListConversations(ctx, studentID)

	c.mu.Lock()
	if c.convGen != gen {
		c.mu.Unlock()
		c.log.Debug("discarding stale conversation list", "student_id", studentID)
		return
	}
	if err != nil {
		c.resetLocked()
		c.mu.Unlock()
		c.log.Warn("failed to list conversations, logging out", "student_id", studentID, "error", err)
		if err := c.sessions.Clear(ctx, c.deviceID); err != nil {
			c.log.Error("failed to clear persisted session", "error", err)
		}
		c.notify()
		return
	}
	c.state.Conversations = convs
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) loadMessages(ctx context.Context, conversationID int64, gen uint64) {
	msgs, err := c.api.GetMessages(ctx, conversationID)

	c.mu.Lock()
	if c.msgGen != gen {
		c.mu.Unlock()
		c.log.Debug("discarding stale messages", "conversation_id", conversationID)
		return
	}
	c.fetchPending = false
	if err != nil {
		c.log.Warn("failed to load messages", "conversation_id", conversationID, "error", err)
		msgs = []domain.Message{}
	}
	c.state.Messages = msgs
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) persistActive(ctx context.Context, id int64) {
	if err := c.sessions.SaveActiveConversation(ctx, c.deviceID, id); err != nil {
		c.log.Error("failed to persist active conversation", "conversation_id", id, "error", err)
	}
}

// ConsumeAlert returns the pending alert and clears it.
func (c *Controller) ConsumeAlert() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	alert := c.state.Alert
	c.state.Alert = ""
	return alert
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	if s.Student != nil {
		student := *s.Student
		s.Student = &student
	}
	s.Conversations = append([]domain.Conversation{}, c.state.Conversations...)
	s.Messages = append([]domain.Message{}, c.state.Messages...)
	return s
}

// Busy reports whether the controller has a send in flight or live
// subscribers.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	sending := c.sending
	c.mu.Unlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	return sending || len(c.subs) > 0
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce; a slow reader sees at least the latest change.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan struct{}, 1)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
