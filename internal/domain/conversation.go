package domain

// Conversation is a titled thread owned by one student.
type Conversation struct {
	ID        int64  `json:"id"`
	StudentID int64  `json:"student_id"`
	Title     string `json:"title"`
}
