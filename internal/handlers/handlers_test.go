package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/appshelf-backend/internal/catalog"
	"github.com/AnshRaj112/appshelf-backend/internal/docstore"
	"github.com/AnshRaj112/appshelf-backend/internal/editmode"
	"github.com/AnshRaj112/appshelf-backend/internal/handlers"
	"github.com/AnshRaj112/appshelf-backend/internal/identity"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
	"github.com/AnshRaj112/appshelf-backend/internal/routes"
	"github.com/AnshRaj112/appshelf-backend/internal/services"
	"github.com/AnshRaj112/appshelf-backend/internal/sharing"
)

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeUploader) Upload(_ context.Context, u services.Upload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, u.Key)
	return "https://cdn.example.com/" + u.Key, nil
}

type testServer struct {
	*httptest.Server
	handler *handlers.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNop()
	store := docstore.NewMemoryStore()
	cache := services.NewMemorySnapshotCache(time.Minute)
	gate := editmode.NewGate(editmode.NewMemoryStateStore(), log)
	dir := identity.NewDirectory(store, log)

	defaults, err := catalog.LoadDefaults("")
	require.NoError(t, err)

	metrics := middleware.NewMetrics("test")
	registry := catalog.NewRegistry(catalog.RegistryOptions{
		Repo:     catalog.NewRepository(store),
		Auth:     gate,
		Cache:    cache,
		Defaults: defaults,
		Observer: metrics.ObserveCatalogEvent,
		Logger:   log,
	})
	t.Cleanup(registry.Close)

	h := &handlers.Handler{
		Catalogs:  registry,
		Gate:      gate,
		Directory: dir,
		Sessions:  services.NewMemorySessions(time.Hour),
		Sharing: sharing.NewService(sharing.Options{
			Users:    dir,
			Catalogs: registry,
			Cache:    cache,
			BaseURL:  "https://apps.example.com",
			Logger:   log,
		}),
		Local:          identity.NewLocalAccounts(store, dir),
		Metrics:        metrics,
		AllowedOrigins: []string{"https://apps.example.com"},
		SessionTTL:     time.Hour,
		Log:            log,
	}
	router := routes.NewRouter(routes.RouterConfig{
		AllowedOrigins: h.AllowedOrigins,
		Principals:     dir,
		Metrics:        metrics,
		AuthLimit:      func(next http.Handler) http.Handler { return next },
		Logger:         log,
	}, h)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, handler: h}
}

// do sends a JSON request and decodes the JSON answer into out when set.
func (s *testServer) do(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) signup(t *testing.T, username string) (string, *handlers.UserView) {
	t.Helper()
	var resp handlers.AuthResponse
	status := s.do(t, http.MethodPost, "/api/auth/signup", "", handlers.UserSignupRequest{
		Username: username,
		Password: "correct horse",
	}, &resp)
	require.Equal(t, http.StatusCreated, status, resp.Message)
	require.NotEmpty(t, resp.Token)
	return resp.Token, resp.User
}

func (s *testServer) enterEditMode(t *testing.T, token string) {
	t.Helper()
	var req handlers.EditModeResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/edit-mode/request", token, handlers.EditModeRequest{}, &req))
	require.Equal(t, editmode.OutcomeConfirm, req.Outcome)

	var conf handlers.EditModeResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/edit-mode/confirm", token, handlers.EditModeConfirmRequest{Accepted: true}, &conf))
	require.Equal(t, editmode.StateEditing, conf.State)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var resp handlers.Response
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil, &resp))
	assert.True(t, resp.Success)
}

func TestVisitorSeesPublicDefaults(t *testing.T) {
	s := newTestServer(t)

	var resp handlers.CatalogResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/catalog/general", "", nil, &resp))
	assert.Equal(t, "public", resp.Scope)
	assert.NotZero(t, resp.Count)
	for _, tool := range resp.Tools {
		assert.Equal(t, "general", string(tool.Category))
	}

	var missing handlers.Response
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/catalog/nope", "", nil, &missing))
	assert.False(t, missing.Success)
}

func TestAnonymousVisitorCannotEdit(t *testing.T) {
	s := newTestServer(t)

	var auth handlers.AuthResponse
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/auth/anonymous", "", nil, &auth))
	require.Equal(t, "anonymous", auth.User.Kind)
	token := auth.Token

	var req handlers.EditModeResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/edit-mode/request", token, handlers.EditModeRequest{}, &req))
	assert.Equal(t, editmode.OutcomeSignIn, req.Outcome)
	assert.Equal(t, editmode.StateReadOnly, req.State)

	assert.Equal(t, http.StatusUnauthorized,
		s.do(t, http.MethodPost, "/api/edit-mode/confirm", token, handlers.EditModeConfirmRequest{Accepted: true}, nil))

	// anonymous sessions browse the public snapshot, which never accepts writes
	assert.Equal(t, http.StatusForbidden,
		s.do(t, http.MethodPost, "/api/apps", token, map[string]string{"name": "X", "category": "general"}, nil))

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/share/publish", token, nil, nil))
}

func TestSharedViewRejectsEditMode(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "alice")

	var req handlers.EditModeResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/edit-mode/request", token, handlers.EditModeRequest{ViewingShared: true}, &req))
	assert.Equal(t, editmode.OutcomeRejected, req.Outcome)

	assert.Equal(t, http.StatusForbidden,
		s.do(t, http.MethodPost, "/api/edit-mode/confirm", token, handlers.EditModeConfirmRequest{Accepted: true, ViewingShared: true}, nil))
}

func TestMemberCatalogLifecycle(t *testing.T) {
	s := newTestServer(t)
	token, user := s.signup(t, "alice")
	assert.Equal(t, "member", user.Kind)
	assert.Equal(t, "alice", user.CustomUserID)

	draft := map[string]interface{}{
		"name":           "ripgrep",
		"category":       "advanced",
		"subCategory":    "additional",
		"installCommand": "brew install ripgrep",
	}

	// read-only sessions cannot add
	var denied handlers.Response
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/apps", token, draft, &denied))
	assert.False(t, denied.Success)

	s.enterEditMode(t, token)

	var again handlers.EditModeResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/edit-mode/request", token, handlers.EditModeRequest{}, &again))
	assert.Equal(t, editmode.OutcomeEditing, again.Outcome)

	var added handlers.ToolResponse
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/apps", token, draft, &added))
	assert.Equal(t, "ripgrep", added.Tool.Name)
	assert.False(t, added.Tool.Pending)
	assert.Equal(t, user.UID, added.Tool.UserID)

	var invalid handlers.Response
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/apps", token,
		map[string]string{"name": "", "category": "general"}, &invalid))
	assert.Equal(t, "Name is required", invalid.Message)

	var view handlers.CatalogResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/apps/additional", token, nil, &view))
	assert.Equal(t, "owner", view.Scope)
	require.Equal(t, 1, view.Count)
	assert.Equal(t, added.Tool.ID, view.Tools[0].ID)

	var search handlers.CatalogResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/apps/search?q=RIPGREP", token, nil, &search))
	assert.Equal(t, 1, search.Count)
	assert.Equal(t, "RIPGREP", search.Query)

	// updates need ownership but not edit mode
	var exit handlers.EditModeResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/edit-mode", token, nil, &exit))
	assert.Equal(t, editmode.StateReadOnly, exit.State)

	var updated handlers.ToolResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPatch, "/api/apps/"+added.Tool.ID, token,
		map[string]interface{}{"starCount": 3, "tooltip": "fast grep"}, &updated))
	assert.Equal(t, 3, updated.Tool.StarCount)
	assert.Equal(t, "fast grep", updated.Tool.Tooltip)
	assert.Equal(t, "brew install ripgrep", updated.Tool.InstallCommand)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/api/apps/missing", token,
		map[string]interface{}{"starCount": 1}, nil))

	// deletes need edit mode again
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/api/apps/"+added.Tool.ID, token, nil, nil))
	s.enterEditMode(t, token)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/apps/"+added.Tool.ID, token, nil, nil))

	var empty handlers.CatalogResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/apps/additional", token, nil, &empty))
	assert.Zero(t, empty.Count)
	assert.NotNil(t, empty.Tools)
}

func TestUnknownFieldsRejected(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "alice")
	s.enterEditMode(t, token)

	var resp handlers.Response
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/apps", token,
		map[string]string{"name": "x", "category": "general", "owner": "someone"}, &resp))
	assert.Equal(t, "Invalid request body", resp.Message)
}

func TestPublishAndSharedView(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "alice")
	s.enterEditMode(t, token)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/apps", token,
		map[string]string{"name": "fzf", "category": "dev"}, nil))

	var status handlers.ShareResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/share/status", token, nil, &status))
	assert.False(t, status.IsShared)
	assert.Empty(t, status.History)

	var published handlers.ShareResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/share/publish", token, nil, &published))
	require.True(t, published.IsShared)
	require.NotEmpty(t, published.ShareID)
	assert.Equal(t, "/share/alice/"+published.ShareID, published.SharePath)
	assert.Equal(t, "https://apps.example.com/share/alice/"+published.ShareID, published.ShareURL)

	// anyone may read the shared catalog, through either route form
	var shared handlers.CatalogResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/share/alice/"+published.ShareID+"/dev", "", nil, &shared))
	assert.Equal(t, "shared", shared.Scope)
	require.NotNil(t, shared.Owner)
	assert.Equal(t, "alice", shared.Owner.CustomUserID)
	require.Equal(t, 1, shared.Count)
	assert.Equal(t, "fzf", shared.Tools[0].Name)

	var legacy handlers.CatalogResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/apps/share/alice/"+published.ShareID+"/dev", "", nil, &legacy))
	assert.Equal(t, shared.Tools, legacy.Tools)

	var found handlers.CatalogResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/share/alice/"+published.ShareID+"/search?q=fz", "", nil, &found))
	assert.Equal(t, 1, found.Count)

	// republishing retires the previous link
	var republished handlers.ShareResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/share/publish", token, nil, &republished))
	require.NotEqual(t, published.ShareID, republished.ShareID)
	assert.Len(t, republished.History, 2)

	var stale handlers.Response
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/share/alice/"+published.ShareID+"/dev", "", nil, &stale))
	assert.Equal(t, sharing.ErrLinkInvalid.Error(), stale.Message)

	var unpublished handlers.ShareResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/share/unpublish", token, nil, &unpublished))
	assert.False(t, unpublished.IsShared)
	assert.Empty(t, unpublished.ShareID)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/share/alice/"+republished.ShareID+"/dev", "", nil, nil))

	var noop handlers.ShareResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/share/unpublish", token, nil, &noop))
	assert.Equal(t, "Catalog was not published", noop.Message)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/share/nobody/x/dev", "", nil, nil))
}

func TestLocalSigninAndSignout(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice")

	var dup handlers.Response
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/auth/signup", "",
		handlers.UserSignupRequest{Username: "Alice", Password: "another pass"}, &dup))

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/auth/signin", "",
		handlers.UserSigninRequest{Username: "alice", Password: "wrong password"}, nil))

	var auth handlers.AuthResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/auth/signin", "",
		handlers.UserSigninRequest{Username: "ALICE", Password: "correct horse"}, &auth))
	token := auth.Token
	s.enterEditMode(t, token)

	var me handlers.AuthResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/auth/me", token, nil, &me))
	assert.Equal(t, "alice", me.User.CustomUserID)
	assert.Equal(t, editmode.StateEditing, me.EditMode)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/auth/signout", token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/auth/me", token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/apps/dev", token, nil, nil))
}

func TestSigninCookie(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.Client().Post(s.URL+"/api/auth/anonymous", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	me, err := s.Client().Do(req)
	require.NoError(t, err)
	defer me.Body.Close()
	assert.Equal(t, http.StatusOK, me.StatusCode)
}

func TestFirebaseSigninDisabled(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/api/auth/firebase", "",
		handlers.FirebaseSigninRequest{IDToken: "x"}, nil))
}

func iconForm(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, token string, body io.Reader, contentType string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/uploads/icon", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestUploadIcon(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t)
		token, _ := s.signup(t, "alice")
		body, ct := iconForm(t, "icon", "a.png", png)
		assert.Equal(t, http.StatusServiceUnavailable, s.upload(t, token, body, ct, nil))
	})

	t.Run("needs edit mode", func(t *testing.T) {
		s := newTestServer(t)
		s.handler.Uploader = &fakeUploader{}
		token, _ := s.signup(t, "alice")
		body, ct := iconForm(t, "icon", "a.png", png)
		assert.Equal(t, http.StatusForbidden, s.upload(t, token, body, ct, nil))
	})

	t.Run("stores image", func(t *testing.T) {
		s := newTestServer(t)
		up := &fakeUploader{}
		s.handler.Uploader = up
		token, user := s.signup(t, "alice")
		s.enterEditMode(t, token)

		body, ct := iconForm(t, "icon", "a.png", png)
		var resp handlers.UploadResponse
		require.Equal(t, http.StatusCreated, s.upload(t, token, body, ct, &resp))
		require.Len(t, up.keys, 1)
		assert.True(t, strings.HasPrefix(up.keys[0], "icons/"+user.UID+"/"))
		assert.True(t, strings.HasSuffix(up.keys[0], ".png"))
		assert.Equal(t, "https://cdn.example.com/"+up.keys[0], resp.URL)
	})

	t.Run("rejects non images", func(t *testing.T) {
		s := newTestServer(t)
		s.handler.Uploader = &fakeUploader{}
		token, _ := s.signup(t, "alice")
		s.enterEditMode(t, token)

		body, ct := iconForm(t, "file", "a.png", []byte("plain text, not an image"))
		assert.Equal(t, http.StatusUnsupportedMediaType, s.upload(t, token, body, ct, nil))
	})
}

func readFrame(t *testing.T, conn *websocket.Conn) handlers.StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg handlers.StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestCatalogStream(t *testing.T) {
	s := newTestServer(t)
	token, user := s.signup(t, "alice")
	s.enterEditMode(t, token)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/catalog?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, handlers.EventSnapshot, first.Type)
	assert.Equal(t, user.UID, first.OwnerID)
	assert.NotNil(t, first.Tools)

	var added handlers.ToolResponse
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/apps", token,
		map[string]string{"name": "jq", "category": "dev"}, &added))

	pending := readFrame(t, conn)
	assert.Equal(t, catalog.EventPending, pending.Type)
	require.NotNil(t, pending.Tool)
	assert.True(t, pending.Tool.Pending)
	assert.True(t, strings.HasPrefix(pending.TempID, catalog.TempIDPrefix))

	confirmed := readFrame(t, conn)
	assert.Equal(t, catalog.EventConfirmed, confirmed.Type)
	assert.Equal(t, pending.TempID, confirmed.TempID)
	assert.Equal(t, added.Tool.ID, confirmed.ToolID)
}

func TestCatalogStreamRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "alice")

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/catalog?token=" + token
	header := http.Header{"Origin": []string{"https://evil.example.net"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestQueryTokenIgnoredOutsideUpgrades(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "alice")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/auth/me?token="+token, "", nil, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/health", "", nil, nil)

	// the counter is bumped after the response is flushed
	want := `test_http_requests_total{method="GET",route="/health",status="200"}`
	assert.Eventually(t, func() bool {
		resp, err := s.Client().Get(s.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return err == nil && strings.Contains(string(body), want)
	}, 2*time.Second, 20*time.Millisecond)
}
