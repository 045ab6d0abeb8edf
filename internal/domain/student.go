// Package domain contains core domain types for the student chat client.
package domain

// Student is a logged-in learner. Email is the identity key on the backend.
type Student struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// DisplayName returns the name shown in the sidebar, falling back to the email.
func (s *Student) DisplayName() string {
	if s == nil {
		return ""
	}
	if s.Name != "" {
		return s.Name
	}
	return s.Email
}

// Session is the per-device state that survives a reload.
type Session struct {
	DeviceID             string
	Student              *Student
	ActiveConversationID int64
}

// LoggedIn returns true if the session carries a student.
func (s *Session) LoggedIn() bool {
	return s != nil && s.Student != nil
}
