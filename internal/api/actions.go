package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/chat"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/identity"
)

// Page renders the full document. A pending login alert is shown once.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	s := ctrl.Snapshot()
	s.Alert = ctrl.ConsumeAlert()
	h.writeHTML(w, "page", h.buildView(s))
}

// Fragment renders only the swappable #app content.
func (h *Handler) Fragment(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	s := ctrl.Snapshot()
	s.Alert = ctrl.ConsumeAlert()
	h.writeHTML(w, "app", h.buildView(s))
}

// State returns the controller state as JSON.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// Login finds or creates the student named by the form.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	name := strings.TrimSpace(r.FormValue("name"))

	err := ctrl.Login(actionContext(r), email, name)
	if errors.Is(err, chat.ErrAlreadyLoggedIn) {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		slog.Info("Login rejected",
			"device_id", ctrl.DeviceID(),
			"ip", identity.IPFromRequest(r),
			"error", err)
	}
	// A failed login is reported through the alert, not the status.
	h.done(w, r)
}

// Logout clears the device's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.Logout(actionContext(r))
	h.done(w, r)
}

// NewConversation creates and selects a conversation.
func (h *Handler) NewConversation(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.NewConversation(actionContext(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.done(w, r)
}

// SelectConversation switches the active conversation.
func (h *Handler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.SelectConversation(actionContext(r), id)
	h.done(w, r)
}

// SendMessage submits the composer text. The response does not wait for the
// assistant; the reply arrives through the live connection or the next page
// load.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.SetInput(r.FormValue("content"))
	if err := ctrl.SubmitMessage(r.Context()); err != nil {
		slog.Debug("Message not sent", "device_id", ctrl.DeviceID(), "reason", err)
		h.fail(w, r, err)
		return
	}
	h.done(w, r)
}
