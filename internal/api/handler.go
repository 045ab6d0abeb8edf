// Package api provides the HTTP surface of the chat client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/chat"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/identity"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/middleware"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/render"
)

// liveHeader marks background form posts made by the page script.
const liveHeader = "X-Live-Request"

// Handler serves the views and actions of every device's controller.
type Handler struct {
	registry       *chat.Registry
	templates      *template.Template
	markdown       *render.Markdown
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(registry *chat.Registry, templates *template.Template, markdown *render.Markdown, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		registry:       registry,
		templates:      templates,
		markdown:       markdown,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// RegisterRoutes registers page, action, state and live routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.Get("/", h.Page)
		r.Get("/fragment", h.Fragment)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/conversations", h.NewConversation)
		r.Post("/conversations/{id}/select", h.SelectConversation)
		r.Post("/messages", h.SendMessage)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.CORS(h.allowedOrigins))
		r.Get("/state", h.State)
	})

	r.Get("/ws", h.Live)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// controller resolves the device's controller, writing an error response
// when it cannot.
func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*chat.Controller, bool) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "missing device identity")
		return nil, false
	}
	ctrl, err := h.registry.Get(r.Context(), deviceID)
	if err != nil {
		slog.Warn("failed to resolve controller", "device_id", deviceID, "error", err)
		Error(w, http.StatusServiceUnavailable, "session unavailable")
		return nil, false
	}
	return ctrl, true
}

// actionContext detaches controller work from the client connection so a
// dropped request cannot turn into a failed fetch and a logout.
func actionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func isLive(r *http.Request) bool {
	return r.Header.Get(liveHeader) != ""
}

// done finishes an action: live posts get 204, plain form posts go back to
// the page.
func (h *Handler) done(w http.ResponseWriter, r *http.Request) {
	if isLive(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// fail reports a rejected action. Plain form posts still go back to the
// page, which shows the unchanged state.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !isLive(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	switch {
	case errors.Is(err, chat.ErrNothingToSend):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotLoggedIn):
		Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, chat.ErrNoConversation), errors.Is(err, chat.ErrSendInFlight),
		errors.Is(err, chat.ErrAlreadyLoggedIn):
		Error(w, http.StatusConflict, err.Error())
	default:
		Error(w, http.StatusBadGateway, "request failed")
	}
}
