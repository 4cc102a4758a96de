package handlers

import (
	"context"
	"net/http"

	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
	"github.com/AnshRaj112/appshelf-backend/internal/sharing"
)

// ShareResponse reports a member's share state.
type ShareResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	sharing.Status
}

func memberUID(r *http.Request) string {
	if p := middleware.PrincipalFrom(r.Context()); p != nil {
		return p.PrincipalUID()
	}
	return ""
}

// PublishCatalog opens a new share period and returns the new link. Any
// previous link stops resolving.
func (h *Handler) PublishCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	uid := memberUID(r)
	if _, err := h.Sharing.Publish(ctx, uid); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeStatus(ctx, w, r, uid, "Catalog published")
}

// UnpublishCatalog closes the open share period.
func (h *Handler) UnpublishCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	uid := memberUID(r)
	closed, err := h.Sharing.Unpublish(ctx, uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	message := "Catalog unpublished"
	if !closed {
		message = "Catalog was not published"
	}
	h.writeStatus(ctx, w, r, uid, message)
}

// ShareStatus returns the current link and the share history.
func (h *Handler) ShareStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	h.writeStatus(ctx, w, r, memberUID(r), "ok")
}

func (h *Handler) writeStatus(ctx context.Context, w http.ResponseWriter, r *http.Request, uid, message string) {
	st, err := h.Sharing.Status(ctx, uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ShareResponse{Success: true, Message: message, Status: st})
}
