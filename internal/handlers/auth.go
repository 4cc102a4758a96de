package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AnshRaj112/appshelf-backend/internal/editmode"
	"github.com/AnshRaj112/appshelf-backend/internal/identity"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

var errProviderDisabled = errors.New("this sign-in method is not enabled")

// FirebaseSigninRequest carries a Firebase ID token.
type FirebaseSigninRequest struct {
	IDToken string `json:"idToken"`
}

// UserSignupRequest creates a local account.
type UserSignupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

// UserSigninRequest signs in to a local account.
type UserSigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserView is the public shape of a principal.
type UserView struct {
	Kind         string `json:"kind"` // "anonymous" or "member"
	UID          string `json:"uid"`
	CustomUserID string `json:"customUserId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	Email        string `json:"email,omitempty"`
	PhotoURL     string `json:"photoURL,omitempty"`
	IsShared     bool   `json:"isShared"`
	LastShareID  string `json:"lastShareId,omitempty"`
}

// AuthResponse answers every sign-in route and /me.
type AuthResponse struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	User     *UserView      `json:"user,omitempty"`
	Token    string         `json:"token,omitempty"`
	EditMode editmode.State `json:"editMode,omitempty"`
}

func userView(p models.Principal) *UserView {
	switch v := p.(type) {
	case *models.Member:
		return &UserView{
			Kind:         "member",
			UID:          v.UID,
			CustomUserID: v.CustomUserID,
			DisplayName:  v.DisplayName,
			Email:        v.Email,
			PhotoURL:     v.PhotoURL,
			IsShared:     v.IsShared,
			LastShareID:  v.LastShareID,
		}
	case *models.AnonymousUser:
		return &UserView{Kind: "anonymous", UID: v.UID}
	default:
		return nil
	}
}

// AnonymousSignin creates an anonymous visitor and a session for it.
func (h *Handler) AnonymousSignin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	a, err := h.Directory.CreateAnonymous(ctx, "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.startSession(w, r, a, http.StatusCreated, "Signed in anonymously")
}

// FirebaseSignin exchanges a Firebase ID token for a session. Anonymous
// Firebase users stay anonymous; everyone else becomes a member.
func (h *Handler) FirebaseSignin(w http.ResponseWriter, r *http.Request) {
	if h.Verifier == nil {
		h.fail(w, r, errProviderDisabled)
		return
	}
	var req FirebaseSigninRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		respondError(w, http.StatusBadRequest, "idToken is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	profile, err := h.Verifier.Verify(ctx, req.IDToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var p models.Principal
	if profile.Provider == identity.ProviderAnonymous {
		p, err = h.Directory.CreateAnonymous(ctx, profile.UID)
	} else {
		p, err = h.Directory.EnsureMember(ctx, profile)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.startSession(w, r, p, http.StatusOK, "Signed in successfully")
}

// UserSignup handles local account registration.
func (h *Handler) UserSignup(w http.ResponseWriter, r *http.Request) {
	if h.Local == nil {
		h.fail(w, r, errProviderDisabled)
		return
	}
	var req UserSignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m, err := h.Local.SignUp(ctx, req.Username, req.Password, req.DisplayName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.Info("account created", logger.String("uid", m.UID), logger.String("customUserId", m.CustomUserID))
	h.startSession(w, r, m, http.StatusCreated, "Account created successfully")
}

// UserSignin handles local account sign-in.
func (h *Handler) UserSignin(w http.ResponseWriter, r *http.Request) {
	if h.Local == nil {
		h.fail(w, r, errProviderDisabled)
		return
	}
	var req UserSigninRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m, err := h.Local.SignIn(ctx, req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.startSession(w, r, m, http.StatusOK, "Signed in successfully")
}

// Signout ends the session and forces read-only mode.
func (h *Handler) Signout(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if ok {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if err := h.Gate.Reset(ctx, sess.ID); err != nil {
			h.Log.Warn("failed to reset edit mode on signout", logger.Error(err))
		}
		if err := h.Sessions.Invalidate(ctx, sess.Token); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	h.clearCookie(w)
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Signed out"})
}

// Me returns the signed-in principal and its edit state.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	writeJSON(w, http.StatusOK, AuthResponse{
		Success:  true,
		Message:  "ok",
		User:     userView(middleware.PrincipalFrom(r.Context())),
		EditMode: h.Gate.State(r.Context(), sess.ID),
	})
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, p models.Principal, status int, message string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	token, err := h.Sessions.Create(ctx, p.PrincipalUID())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cookie := &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if h.SessionTTL > 0 {
		cookie.Expires = time.Now().Add(h.SessionTTL)
	}
	http.SetCookie(w, cookie)
	writeJSON(w, status, AuthResponse{
		Success:  true,
		Message:  message,
		User:     userView(p),
		Token:    token,
		EditMode: editmode.StateReadOnly,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
