// Package apiclient wraps the chat backend's HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taimurshaikh/CursorForCollegeApps/internal/domain"
)

// maxErrorBody bounds how much of a failed response is read for diagnostics.
const maxErrorBody = 4 * 1024

// Client talks to the backend. Every method performs exactly one round trip
// and never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets a per-request timeout on whichever HTTP client is in use.
// Zero keeps the client's own timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		// Copy so a caller-supplied client is left untouched.
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// BaseURL returns the configured backend endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type loginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type createConversationRequest struct {
	StudentID int64  `json:"student_id"`
	Title     string `json:"title,omitempty"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type conversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// Login finds or creates the student with the given email.
func (c *Client) Login(ctx context.Context, email, name string) (*domain.Student, error) {
	var student domain.Student
	err := c.do(ctx, call{
		op:     "login",
		method: http.MethodPost,
		path:   "/auth/login",
		body:   loginRequest{Email: email, Name: name},
		out:    &student,
	})
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// ListConversations returns the student's conversations in server order.
func (c *Client) ListConversations(ctx context.Context, studentID int64) ([]domain.Conversation, error) {
	var resp conversationsResponse
	err := c.do(ctx, call{
		op:       "list conversations",
		method:   http.MethodGet,
		path:     "/conversations/" + strconv.FormatInt(studentID, 10),
		out:      &resp,
		notFound: EntityStudent,
	})
	if err != nil {
		return nil, err
	}
	if resp.Conversations == nil {
		return []domain.Conversation{}, nil
	}
	return resp.Conversations, nil
}

// CreateConversation creates a conversation. An empty title lets the backend
// pick its default.
func (c *Client) CreateConversation(ctx context.Context, studentID int64, title string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.do(ctx, call{
		op:       "create conversation",
		method:   http.MethodPost,
		path:     "/conversations",
		body:     createConversationRequest{StudentID: studentID, Title: title},
		out:      &conv,
		notFound: EntityStudent,
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetMessages returns the full ordered history of a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	var resp messagesResponse
	err := c.do(ctx, call{
		op:       "get messages",
		method:   http.MethodGet,
		path:     messagesPath(conversationID),
		out:      &resp,
		notFound: EntityConversation,
	})
	if err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return []domain.Message{}, nil
	}
	return resp.Messages, nil
}

// SendMessage submits a user message and blocks until the backend returns the
// assistant's reply.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) (*domain.Message, error) {
	var reply domain.Message
	err := c.do(ctx, call{
		op:       "send message",
		method:   http.MethodPost,
		path:     messagesPath(conversationID),
		body:     sendMessageRequest{Content: content},
		out:      &reply,
		notFound: EntityConversation,
	})
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

func messagesPath(conversationID int64) string {
	return "/conversations/" + strconv.FormatInt(conversationID, 10) + "/messages"
}

type call struct {
	op       string
	method   string
	path     string
	body     any
	out      any
	notFound Entity
}

func (c *Client) do(ctx context.Context, cl call) error {
	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return &Error{Op: cl.op, Kind: KindValidation, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return &Error{Op: cl.op, Kind: KindTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: cl.op, Kind: KindTransport, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{
			Op:         cl.op,
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Detail:     readDetail(resp.Body),
		}
		if apiErr.Kind == KindNotFound {
			apiErr.Entity = cl.notFound
		}
		return apiErr
	}

	if cl.out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		return &Error{Op: cl.op, Kind: KindDecode, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

// readDetail extracts the backend's "detail" field, falling back to the raw
// body text.
func readDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Detail) == 0 {
		return text
	}

	var detail string
	if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
		return detail
	}
	// Validation errors carry a list of objects.
	return string(envelope.Detail)
}
