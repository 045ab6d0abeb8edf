package api

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/taimurshaikh/CursorForCollegeApps/internal/chat"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/domain"
)

type conversationView struct {
	ID     int64
	Title  string
	Active bool
}

type messageView struct {
	Key     string
	Role    domain.Role
	Content string
	HTML    template.HTML
	IsUser  bool
	Pending bool
}

// pageView is the data behind the "page" and "app" templates.
type pageView struct {
	LoggedIn        bool
	Student         *domain.Student
	Conversations   []conversationView
	HasConversation bool
	Messages        []messageView
	Input           string
	Loading         bool
	Email           string
	Name            string
	Alert           string
}

func (h *Handler) buildView(s chat.State) pageView {
	v := pageView{
		LoggedIn:        s.LoggedIn(),
		Student:         s.Student,
		HasConversation: s.ActiveConversationID != 0,
		Input:           s.Input,
		Loading:         s.Loading,
		Email:           s.Email,
		Name:            s.Name,
		Alert:           s.Alert,
		Conversations:   make([]conversationView, 0, len(s.Conversations)),
		Messages:        make([]messageView, 0, len(s.Messages)),
	}
	for _, c := range s.Conversations {
		v.Conversations = append(v.Conversations, conversationView{
			ID:     c.ID,
			Title:  c.Title,
			Active: c.ID == s.ActiveConversationID,
		})
	}
	for _, m := range s.Messages {
		mv := messageView{
			Key:     m.Key(),
			Role:    m.Role,
			Content: m.Content,
			IsUser:  m.Role == domain.RoleUser,
			Pending: m.Pending,
		}
		if !mv.IsUser {
			mv.HTML = h.markdown.HTML(m.Content)
		}
		v.Messages = append(v.Messages, mv)
	}
	return v
}

func (h *Handler) renderString(name string, v pageView) (string, error) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (h *Handler) writeHTML(w http.ResponseWriter, name string, v pageView) {
	html, err := h.renderString(name, v)
	if err != nil {
		slog.Error("template render failed", "template", name, "error", err)
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(html))
}
