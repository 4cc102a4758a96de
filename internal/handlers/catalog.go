package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/appshelf-backend/internal/catalog"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

// CatalogResponse lists the tools of one view.
type CatalogResponse struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	Scope       string             `json:"scope"` // "owner", "public" or "shared"
	Category    models.Category    `json:"category,omitempty"`
	SubCategory models.SubCategory `json:"subCategory,omitempty"`
	Query       string             `json:"query,omitempty"`
	Owner       *SharedOwner       `json:"owner,omitempty"`
	Tools       []models.Tool      `json:"tools"`
	Count       int                `json:"count"`
}

// SharedOwner names whose catalog a shared view shows.
type SharedOwner struct {
	CustomUserID string `json:"customUserId"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoURL,omitempty"`
}

// ToolResponse returns one tool after a mutation.
type ToolResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Tool    models.Tool `json:"tool"`
}

func scopeOf(c *catalog.Controller) string {
	if c.OwnerID() == "" {
		return "public"
	}
	return "owner"
}

func listResponse(scope string, sel catalog.Selection, tools []models.Tool) CatalogResponse {
	if tools == nil {
		tools = []models.Tool{}
	}
	return CatalogResponse{
		Success:     true,
		Message:     "ok",
		Scope:       scope,
		Category:    sel.Category,
		SubCategory: sel.SubCategory,
		Tools:       tools,
		Count:       len(tools),
	}
}

// CatalogView lists one category view: the member's own catalog, or the
// public snapshot for everyone else.
func (h *Handler) CatalogView(w http.ResponseWriter, r *http.Request) {
	sel, err := catalog.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ctrl := h.Catalogs.For(middleware.PrincipalFrom(r.Context()))
	writeJSON(w, http.StatusOK, listResponse(scopeOf(ctrl), sel, catalog.Filter(ctrl.Tools(ctx), sel)))
}

// SearchApps searches the caller's catalog.
func (h *Handler) SearchApps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ctrl := h.Catalogs.For(middleware.PrincipalFrom(r.Context()))
	resp := listResponse(scopeOf(ctrl), catalog.Selection{}, catalog.Search(ctrl.Tools(ctx), q))
	resp.Query = strings.TrimSpace(q)
	writeJSON(w, http.StatusOK, resp)
}

// AddApp adds a tool to the member's catalog. The response carries the
// confirmed tool; WebSocket listeners also see the pending placeholder.
func (h *Handler) AddApp(w http.ResponseWriter, r *http.Request) {
	var draft models.ToolDraft
	if !decodeJSON(w, r, &draft) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ctrl := h.Catalogs.For(middleware.PrincipalFrom(r.Context()))
	tool, err := ctrl.Add(ctx, actor(r), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToolResponse{Success: true, Message: "Tool added", Tool: tool})
}

// UpdateApp merges a partial update into a tool.
func (h *Handler) UpdateApp(w http.ResponseWriter, r *http.Request) {
	var patch models.ToolPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ctrl := h.Catalogs.For(middleware.PrincipalFrom(r.Context()))
	tool, err := ctrl.Update(ctx, actor(r), chi.URLParam(r, "toolID"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolResponse{Success: true, Message: "Tool updated", Tool: tool})
}

// DeleteApp removes a tool.
func (h *Handler) DeleteApp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ctrl := h.Catalogs.For(middleware.PrincipalFrom(r.Context()))
	if err := ctrl.Delete(ctx, actor(r), chi.URLParam(r, "toolID")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Tool deleted"})
}

// SharedView lists one category of a published catalog. Both route forms
// ({shareId} and {publishId}) land here.
func (h *Handler) SharedView(w http.ResponseWriter, r *http.Request) {
	sel, err := catalog.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	shareID := chi.URLParam(r, "shareId")
	if shareID == "" {
		shareID = chi.URLParam(r, "publishId")
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m, tools, err := h.Sharing.SharedCatalog(ctx, chi.URLParam(r, "userId"), shareID, sel)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := listResponse("shared", sel, tools)
	resp.Owner = sharedOwner(m)
	writeJSON(w, http.StatusOK, resp)
}

// SharedSearch searches a published catalog.
func (h *Handler) SharedSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m, tools, err := h.Sharing.SearchShared(ctx, chi.URLParam(r, "userId"), chi.URLParam(r, "shareId"), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := listResponse("shared", catalog.Selection{}, tools)
	resp.Owner = sharedOwner(m)
	resp.Query = strings.TrimSpace(q)
	writeJSON(w, http.StatusOK, resp)
}

func sharedOwner(m *models.Member) *SharedOwner {
	if m == nil {
		return nil
	}
	return &SharedOwner{CustomUserID: m.CustomUserID, DisplayName: m.DisplayName, PhotoURL: m.PhotoURL}
}
