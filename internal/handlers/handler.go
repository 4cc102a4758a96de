package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/AnshRaj112/appshelf-backend/internal/catalog"
	"github.com/AnshRaj112/appshelf-backend/internal/editmode"
	"github.com/AnshRaj112/appshelf-backend/internal/identity"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
	"github.com/AnshRaj112/appshelf-backend/internal/services"
	"github.com/AnshRaj112/appshelf-backend/internal/sharing"
	"github.com/AnshRaj112/appshelf-backend/pkg/utils"
)

// requestTimeout bounds store work done on behalf of one request.
const requestTimeout = 5 * time.Second

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the HTTP API. Optional fields disable their routes when nil.
type Handler struct {
	Catalogs  *catalog.Registry
	Gate      *editmode.Gate
	Sharing   *sharing.Service
	Directory *identity.Directory
	Sessions  services.SessionStore

	Local    *identity.LocalAccounts // nil when local accounts are off
	Verifier identity.TokenVerifier  // nil when Firebase sign-in is off
	Uploader services.Uploader       // nil when uploads are off
	Metrics  *middleware.Metrics     // optional

	AllowedOrigins []string
	SecureCookies  bool
	SessionTTL     time.Duration
	Log            logger.Logger
}

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Message: message})
}

// decodeJSON reads a bounded JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// fail maps a domain error to a status code and writes the envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *models.ValidationError
	var uErr *utils.ValidationError
	switch {
	case errors.As(err, &vErr):
		respondError(w, http.StatusBadRequest, vErr.Message)
	case errors.As(err, &uErr):
		respondError(w, http.StatusBadRequest, uErr.Message)
	case errors.Is(err, catalog.ErrUnknownView),
		errors.Is(err, catalog.ErrToolNotFound),
		errors.Is(err, sharing.ErrLinkInvalid):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, editmode.ErrSignInRequired),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, editmode.ErrNotOwner),
		errors.Is(err, editmode.ErrNotEditing),
		errors.Is(err, editmode.ErrPinnedReadOnly),
		errors.Is(err, catalog.ErrReadOnlyScope),
		errors.Is(err, identity.ErrNotMember):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, catalog.ErrToolPending),
		errors.Is(err, identity.ErrUsernameTaken):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrNotAnImage):
		respondError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, services.ErrFileTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, services.ErrUploadsDisabled), errors.Is(err, errProviderDisabled):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.Log.Error("request timed out", logger.String("path", r.URL.Path), logger.Error(err))
		respondError(w, http.StatusGatewayTimeout, "The request timed out. Please try again.")
	default:
		h.Log.Error("request failed", logger.String("path", r.URL.Path), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

// actor builds the mutation actor for the request's session.
func actor(r *http.Request) catalog.Actor {
	sess, _ := middleware.SessionFrom(r.Context())
	return catalog.Actor{SessionID: sess.ID, Principal: middleware.PrincipalFrom(r.Context())}
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok"})
}
