package handlers

import (
	"context"
	"net/http"

	"github.com/AnshRaj112/appshelf-backend/internal/editmode"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
)

// EditModeRequest asks to enter edit mode. ViewingShared is set by clients
// showing a published snapshot, which stays read-only.
type EditModeRequest struct {
	ViewingShared bool `json:"viewingShared,omitempty"`
}

// EditModeConfirmRequest answers the "switch to edit mode?" prompt.
type EditModeConfirmRequest struct {
	Accepted      bool `json:"accepted"`
	ViewingShared bool `json:"viewingShared,omitempty"`
}

// EditModeResponse reports the session's state and, for requests, what the
// client should do next.
type EditModeResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	State   editmode.State   `json:"state"`
	Outcome editmode.Outcome `json:"outcome,omitempty"`
}

// EditModeState returns the session's state.
func (h *Handler) EditModeState(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	writeJSON(w, http.StatusOK, EditModeResponse{Success: true, Message: "ok", State: h.Gate.State(r.Context(), sess.ID)})
}

// RequestEditMode is the first step of entering edit mode. It never
// changes state.
func (h *Handler) RequestEditMode(w http.ResponseWriter, r *http.Request) {
	var req EditModeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	outcome := h.Gate.Request(ctx, sess.ID, editmode.Request{
		Principal:     middleware.PrincipalFrom(r.Context()),
		ViewingShared: req.ViewingShared,
	})
	message := map[editmode.Outcome]string{
		editmode.OutcomeRejected: "Shared catalogs are read-only",
		editmode.OutcomeSignIn:   "Sign in to edit your catalog",
		editmode.OutcomeEditing:  "Already in edit mode",
		editmode.OutcomeConfirm:  "Switch to edit mode?",
	}[outcome]
	writeJSON(w, http.StatusOK, EditModeResponse{
		Success: true,
		Message: message,
		State:   h.Gate.State(ctx, sess.ID),
		Outcome: outcome,
	})
}

// ConfirmEditMode applies the answer to the prompt.
func (h *Handler) ConfirmEditMode(w http.ResponseWriter, r *http.Request) {
	var req EditModeConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	state, err := h.Gate.Confirm(ctx, sess.ID, editmode.Request{
		Principal:     middleware.PrincipalFrom(r.Context()),
		ViewingShared: req.ViewingShared,
	}, req.Accepted)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	message := "Staying in read-only mode"
	if state == editmode.StateEditing {
		message = "Edit mode on"
	}
	writeJSON(w, http.StatusOK, EditModeResponse{Success: true, Message: message, State: state})
}

// ExitEditMode returns the session to read-only.
func (h *Handler) ExitEditMode(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.Gate.Exit(ctx, sess.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EditModeResponse{Success: true, Message: "Edit mode off", State: editmode.StateReadOnly})
}
