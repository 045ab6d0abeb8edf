package domain

import "strconv"

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message written by the student.
	RoleUser Role = "user"
	// RoleAssistant marks a reply generated by the backend.
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation thread.
//
// Server-confirmed messages carry the backend ID. Messages created locally for
// optimistic rendering have ID 0 and a LocalToken instead; the two id spaces
// never mix.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	LocalToken     string `json:"local_token,omitempty"`
	Pending        bool   `json:"pending,omitempty"`
}

// IsLocal returns true if the message was created by this client rather than
// read back from the backend.
func (m Message) IsLocal() bool {
	return m.LocalToken != ""
}

// Key returns a stable render key.
func (m Message) Key() string {
	if m.IsLocal() {
		return "p-" + m.LocalToken
	}
	return "m-" + strconv.FormatInt(m.ID, 10)
}
