package handlers

import (
	"context"
	"net/http"

	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
	"github.com/AnshRaj112/appshelf-backend/internal/services"
)

type UploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// UploadIcon stores a tool icon and returns its URL. Only the owner in
// edit mode may upload; the URL is then set on a tool through add or update.
func (h *Handler) UploadIcon(w http.ResponseWriter, r *http.Request) {
	if h.Uploader == nil {
		h.fail(w, r, services.ErrUploadsDisabled)
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())
	p := middleware.PrincipalFrom(r.Context())
	uid := memberUID(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*requestTimeout)
	defer cancel()

	if err := h.Gate.Authorize(ctx, sess.ID, p, uid, true); err != nil {
		h.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxIconSize+(1<<20))
	if err := r.ParseMultipartForm(services.MaxIconSize); err != nil {
		respondError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["icon"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "No file provided")
		return
	}

	upload, file, err := services.IconUpload(uid, files[0])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer file.Close()

	url, err := h.Uploader.Upload(ctx, upload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.Info("icon uploaded", logger.String("uid", uid), logger.String("key", upload.Key))
	writeJSON(w, http.StatusCreated, UploadResponse{Success: true, Message: "File uploaded successfully", URL: url})
}
