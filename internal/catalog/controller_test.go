package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AnshRaj112/appshelf-backend/internal/docstore"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, string, models.Principal, string, bool) error { return nil }

type denyAll struct{ err error }

func (d denyAll) Authorize(context.Context, string, models.Principal, string, bool) error {
	return d.err
}

// hookStore wraps a store and lets a test fail or pause Apply.
type hookStore struct {
	docstore.Store

	mu      sync.Mutex
	applies int
	failErr error
	before  func()
	after   func()
}

func (s *hookStore) Apply(ctx context.Context, writes ...docstore.Write) error {
	s.mu.Lock()
	s.applies++
	failErr, before, after := s.failErr, s.before, s.after
	s.mu.Unlock()

	if before != nil {
		before()
	}
	if failErr != nil {
		return failErr
	}
	if err := s.Store.Apply(ctx, writes...); err != nil {
		return err
	}
	if after != nil {
		after()
	}
	return nil
}

func (s *hookStore) Applies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applies
}

// failingQueries makes every Query fail.
type failingQueries struct {
	docstore.Store
}

func (failingQueries) Query(context.Context, string, ...docstore.Filter) ([]docstore.Doc, error) {
	return nil, errors.New("backend unavailable")
}

// stalledQuery lets the first Query read the store, then holds the result
// until released, so writes can land between the read and the return.
type stalledQuery struct {
	docstore.Store

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newStalledQuery(store docstore.Store) *stalledQuery {
	return &stalledQuery{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *stalledQuery) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Doc, error) {
	docs, err := s.Store.Query(ctx, collection, filters...)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return docs, err
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]models.Tool
}

func newMapCache() *mapCache { return &mapCache{entries: make(map[string][]models.Tool)} }

func (m *mapCache) GetTools(_ context.Context, key string) ([]models.Tool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tools, ok := m.entries[key]
	return cloneTools(tools), ok
}

func (m *mapCache) SetTools(_ context.Context, key string, tools []models.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cloneTools(tools)
	return nil
}

func (m *mapCache) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func toolIDs(tools []models.Tool) []string {
	ids := make([]string, 0, len(tools))
	for _, t := range tools {
		ids = append(ids, t.ID)
	}
	return ids
}

func newOwnerController(store docstore.Store, auth Authorizer) *Controller {
	return NewController(ControllerOptions{
		OwnerID: "u1",
		Repo:    NewRepository(store),
		Auth:    auth,
	})
}

var owner = Actor{SessionID: "s1", Principal: &models.Member{UID: "u1", CustomUserID: "alice"}}

func chromeDraft() models.ToolDraft {
	return models.ToolDraft{Name: "Chrome", Category: models.CategoryGeneral}
}

func TestAddPersistsWithDefaults(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	c := newOwnerController(mem, allowAll{})

	tool, err := c.Add(ctx, owner, chromeDraft())
	require.NoError(t, err)
	assert.NotEmpty(t, tool.ID)
	assert.False(t, strings.HasPrefix(tool.ID, TempIDPrefix))
	assert.Equal(t, models.SubCategoryNone, tool.SubCategory)
	assert.Equal(t, 0, tool.StarCount)
	assert.Equal(t, "u1", tool.UserID)
	assert.False(t, tool.Pending)

	state := c.Snapshot()
	require.Len(t, state, 1)
	assert.Equal(t, tool.ID, state[0].ID)

	stored, err := NewRepository(mem).ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Chrome", stored[0].Name)
	assert.Equal(t, 0, mem.Len(SharedToolsCollection))
}

func TestAddEmitsPendingThenConfirmed(t *testing.T) {
	c := newOwnerController(docstore.NewMemoryStore(), allowAll{})
	events, cancel := c.Subscribe()
	defer cancel()

	tool, err := c.Add(context.Background(), owner, chromeDraft())
	require.NoError(t, err)

	pending := <-events
	assert.Equal(t, EventPending, pending.Type)
	require.NotNil(t, pending.Tool)
	assert.True(t, pending.Tool.Pending)
	assert.True(t, strings.HasPrefix(pending.TempID, TempIDPrefix))

	confirmed := <-events
	assert.Equal(t, EventConfirmed, confirmed.Type)
	assert.Equal(t, pending.TempID, confirmed.TempID)
	assert.Equal(t, tool.ID, confirmed.ToolID)
	assert.Equal(t, "u1", confirmed.OwnerID)
}

func TestAddKeepsListPosition(t *testing.T) {
	ctx := context.Background()
	c := newOwnerController(docstore.NewMemoryStore(), allowAll{})

	first, err := c.Add(ctx, owner, chromeDraft())
	require.NoError(t, err)
	second, err := c.Add(ctx, owner, models.ToolDraft{Name: "Slack", Category: models.CategoryGeneral})
	require.NoError(t, err)

	assert.Equal(t, []string{first.ID, second.ID}, ids(c.Snapshot()))
}

func TestAddRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	store := &hookStore{Store: mem, failErr: errors.New("write failed")}
	c := newOwnerController(store, allowAll{})
	events, cancel := c.Subscribe()
	defer cancel()

	_, err := c.Add(ctx, owner, chromeDraft())
	require.Error(t, err)

	assert.Empty(t, c.Snapshot())
	assert.Equal(t, 0, mem.Len(ToolsCollection))
	assert.Equal(t, EventPending, (<-events).Type)
	rolled := <-events
	assert.Equal(t, EventRolledBack, rolled.Type)
	assert.True(t, strings.HasPrefix(rolled.TempID, TempIDPrefix))
}

func TestAddValidationFailsBeforeAnyWrite(t *testing.T) {
	store := &hookStore{Store: docstore.NewMemoryStore()}
	c := newOwnerController(store, allowAll{})

	_, err := c.Add(context.Background(), owner, models.ToolDraft{Name: "Git", Category: models.CategoryAdvanced})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "subCategory", verr.Field)
	assert.Equal(t, 0, store.Applies())
	assert.Empty(t, c.Snapshot())
}

func TestDeniedMutationsNeverWrite(t *testing.T) {
	ctx := context.Background()
	denied := errors.New("denied")
	mem := docstore.NewMemoryStore()
	seed := newOwnerController(mem, allowAll{})
	tool, err := seed.Add(ctx, owner, chromeDraft())
	require.NoError(t, err)

	store := &hookStore{Store: mem}
	c := newOwnerController(store, denyAll{err: denied})

	_, err = c.Add(ctx, owner, chromeDraft())
	assert.ErrorIs(t, err, denied)
	assert.ErrorIs(t, c.Delete(ctx, owner, tool.ID), denied)
	name := "renamed"
	_, err = c.Update(ctx, owner, tool.ID, models.ToolPatch{Name: &name})
	assert.ErrorIs(t, err, denied)

	assert.Equal(t, 0, store.Applies())
	assert.Equal(t, 1, mem.Len(ToolsCollection))
}

func TestPublicScopeIsReadOnly(t *testing.T) {
	c := NewController(ControllerOptions{Repo: NewRepository(docstore.NewMemoryStore()), Auth: allowAll{}})
	_, err := c.Add(context.Background(), owner, chromeDraft())
	assert.ErrorIs(t, err, ErrReadOnlyScope)
}

func TestSharedAddWritesMirror(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	c := newOwnerController(mem, allowAll{})

	draft := chromeDraft()
	draft.IsShared = true
	tool, err := c.Add(ctx, owner, draft)
	require.NoError(t, err)

	shared, err := NewRepository(mem).ListPublic(ctx)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, tool.ID, shared[0].ID)
}

func TestDeleteRetractsMirror(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	c := newOwnerController(mem, allowAll{})

	draft := chromeDraft()
	draft.IsShared = true
	shared, err := c.Add(ctx, owner, draft)
	require.NoError(t, err)
	private, err := c.Add(ctx, owner, models.ToolDraft{Name: "Slack", Category: models.CategoryGeneral})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, owner, shared.ID))
	require.NoError(t, c.Delete(ctx, owner, private.ID))

	assert.Equal(t, 0, mem.Len(ToolsCollection))
	assert.Equal(t, 0, mem.Len(SharedToolsCollection))
	assert.Empty(t, c.Snapshot())
	assert.ErrorIs(t, c.Delete(ctx, owner, shared.ID), ErrToolNotFound)
}

func TestUpdateTogglesMirror(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	c := newOwnerController(mem, allowAll{})
	tool, err := c.Add(ctx, owner, chromeDraft())
	require.NoError(t, err)

	on, off := true, false
	_, err = c.Update(ctx, owner, tool.ID, models.ToolPatch{IsShared: &on})
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Len(SharedToolsCollection))

	name := "Chromium"
	updated, err := c.Update(ctx, owner, tool.ID, models.ToolPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Chromium", updated.Name)
	mirror, err := mem.Get(ctx, SharedToolsCollection, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chromium", mirror.String("name"))

	_, err = c.Update(ctx, owner, tool.ID, models.ToolPatch{IsShared: &off})
	require.NoError(t, err)
	assert.Equal(t, 0, mem.Len(SharedToolsCollection))

	stored, err := mem.Get(ctx, ToolsCollection, tool.ID)
	require.NoError(t, err)
	assert.False(t, stored.Bool("isShared"))
	assert.Equal(t, "Chromium", stored.String("name"))
}

func TestUpdateEmptyPatchIsNoop(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	c := newOwnerController(mem, allowAll{})
	tool, err := c.Add(ctx, owner, chromeDraft())
	require.NoError(t, err)

	store := &hookStore{Store: mem}
	c2 := newOwnerController(store, allowAll{})
	got, err := c2.Update(ctx, owner, tool.ID, models.ToolPatch{})
	require.NoError(t, err)
	assert.Equal(t, tool.ID, got.ID)
	assert.Equal(t, 0, store.Applies())
}

func TestUpdateUnknownTool(t *testing.T) {
	name := "x"
	c := newOwnerController(docstore.NewMemoryStore(), allowAll{})
	_, err := c.Update(context.Background(), owner, "missing", models.ToolPatch{Name: &name})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestUpdateRejectsOtherOwnersTool(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	other := NewController(ControllerOptions{OwnerID: "u2", Repo: NewRepository(mem), Auth: allowAll{}})
	tool, err := other.Add(ctx, Actor{Principal: &models.Member{UID: "u2"}}, chromeDraft())
	require.NoError(t, err)

	name := "hijacked"
	c := newOwnerController(mem, allowAll{})
	_, err = c.Update(ctx, owner, tool.ID, models.ToolPatch{Name: &name})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestLoadFailsSoft(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	seed := newOwnerController(mem, allowAll{})
	_, err := seed.Add(ctx, owner, chromeDraft())
	require.NoError(t, err)

	c := newOwnerController(mem, allowAll{})
	require.Len(t, c.Load(ctx), 1)

	broken := newOwnerController(failingQueries{Store: mem}, allowAll{})
	assert.Empty(t, broken.Load(ctx))
}

func TestLoadKeepsInFlightPlaceholder(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &hookStore{Store: docstore.NewMemoryStore()}
	store.before = func() {
		close(entered)
		<-release
	}
	c := newOwnerController(store, allowAll{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Add(ctx, owner, chromeDraft())
		done <- err
	}()
	<-entered

	state := c.Load(ctx)
	require.Len(t, state, 1)
	assert.True(t, state[0].Pending)

	close(release)
	require.NoError(t, <-done)

	final := c.Snapshot()
	require.Len(t, final, 1)
	assert.False(t, final[0].Pending)
}

func TestLoadAfterWriteLandsNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	landed := make(chan struct{})
	release := make(chan struct{})
	store := &hookStore{Store: docstore.NewMemoryStore()}
	store.after = func() {
		close(landed)
		<-release
	}
	c := newOwnerController(store, allowAll{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Add(ctx, owner, chromeDraft())
		done <- err
	}()
	<-landed

	// the fetched list carries the server id, so the placeholder goes
	state := c.Load(ctx)
	require.Len(t, state, 1)
	assert.False(t, state[0].Pending)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, c.Snapshot(), 1)
}

func TestLoadKeepsAddConfirmedDuringFetch(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	store := newStalledQuery(mem)
	cache := newMapCache()
	c := NewController(ControllerOptions{OwnerID: "u1", Repo: NewRepository(store), Auth: allowAll{}, Cache: cache})

	loaded := make(chan []models.Tool, 1)
	go func() { loaded <- c.Load(ctx) }()
	<-store.entered

	tool, err := c.Add(ctx, owner, chromeDraft())
	require.NoError(t, err)
	close(store.release)

	assert.Contains(t, toolIDs(<-loaded), tool.ID)
	assert.Contains(t, toolIDs(c.Snapshot()), tool.ID)

	cached, ok := cache.GetTools(ctx, CacheKey("u1"))
	if ok {
		assert.Contains(t, toolIDs(cached), tool.ID)
	}

	c.Invalidate()
	assert.Contains(t, toolIDs(c.Tools(ctx)), tool.ID)

	fresh := NewController(ControllerOptions{OwnerID: "u1", Repo: NewRepository(mem), Auth: allowAll{}, Cache: cache})
	assert.Contains(t, toolIDs(fresh.Load(ctx)), tool.ID)
}

func TestLoadDoesNotResurrectDeleteDuringFetch(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	tool, err := newOwnerController(mem, allowAll{}).Add(ctx, owner, chromeDraft())
	require.NoError(t, err)

	store := newStalledQuery(mem)
	cache := newMapCache()
	c := NewController(ControllerOptions{OwnerID: "u1", Repo: NewRepository(store), Auth: allowAll{}, Cache: cache})

	loaded := make(chan []models.Tool, 1)
	go func() { loaded <- c.Load(ctx) }()
	<-store.entered

	require.NoError(t, c.Delete(ctx, owner, tool.ID))
	close(store.release)

	assert.NotContains(t, toolIDs(<-loaded), tool.ID)
	assert.Empty(t, c.Snapshot())

	c.Invalidate()
	assert.Empty(t, c.Tools(ctx))
	fresh := NewController(ControllerOptions{OwnerID: "u1", Repo: NewRepository(mem), Auth: allowAll{}, Cache: cache})
	assert.Empty(t, fresh.Load(ctx))
}

func TestLoadRefetchesAfterUpdateDuringFetch(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	tool, err := newOwnerController(mem, allowAll{}).Add(ctx, owner, chromeDraft())
	require.NoError(t, err)

	store := newStalledQuery(mem)
	c := NewController(ControllerOptions{OwnerID: "u1", Repo: NewRepository(store), Auth: allowAll{}, Cache: newMapCache()})

	loaded := make(chan []models.Tool, 1)
	go func() { loaded <- c.Load(ctx) }()
	<-store.entered

	name := "Chromium"
	_, err = c.Update(ctx, owner, tool.ID, models.ToolPatch{Name: &name})
	require.NoError(t, err)
	close(store.release)

	state := <-loaded
	require.Len(t, state, 1)
	assert.Equal(t, "Chromium", state[0].Name)
}

func TestPendingAddSettlesOnce(t *testing.T) {
	p := &pendingAdd{tempID: TempIDPrefix + "x", serverID: "x"}
	require.NoError(t, p.settle(addCommitted))
	assert.Error(t, p.settle(addRolledBack))
	assert.Equal(t, addCommitted, p.phase)
}

func TestPendingToolCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &hookStore{Store: docstore.NewMemoryStore()}
	store.before = func() {
		close(entered)
		<-release
	}
	c := newOwnerController(store, allowAll{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Add(ctx, owner, chromeDraft())
		done <- err
	}()
	<-entered

	placeholder := c.Snapshot()[0]
	assert.ErrorIs(t, c.Delete(ctx, owner, placeholder.ID), ErrToolPending)

	close(release)
	require.NoError(t, <-done)
}

func TestLoadAfterCloseIsDiscarded(t *testing.T) {
	c := newOwnerController(docstore.NewMemoryStore(), allowAll{})
	c.Close()
	assert.Nil(t, c.Load(context.Background()))
	_, err := c.Add(context.Background(), owner, chromeDraft())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeCancelAndClose(t *testing.T) {
	c := newOwnerController(docstore.NewMemoryStore(), allowAll{})
	events, cancel := c.Subscribe()
	assert.Equal(t, 1, c.Subscribers())
	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 0, c.Subscribers())

	other, _ := c.Subscribe()
	c.Close()
	select {
	case _, open := <-other:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed")
	}
}

func TestInvalidateReloads(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	c := newOwnerController(mem, allowAll{})
	assert.Empty(t, c.Tools(ctx))

	other := newOwnerController(mem, allowAll{})
	_, err := other.Add(ctx, owner, chromeDraft())
	require.NoError(t, err)

	assert.Empty(t, c.Tools(ctx))
	c.Invalidate()
	assert.Len(t, c.Tools(ctx), 1)
}

func TestPublicScopeListsDefaultsThenMirror(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	defaults, err := ParseDefaults([]byte("tools:\n  - slug: slack\n    name: Slack\n    category: general\n"))
	require.NoError(t, err)

	ownerCtrl := newOwnerController(mem, allowAll{})
	draft := chromeDraft()
	draft.IsShared = true
	shared, err := ownerCtrl.Add(ctx, owner, draft)
	require.NoError(t, err)
	_, err = ownerCtrl.Add(ctx, owner, models.ToolDraft{Name: "Private", Category: models.CategoryGeneral})
	require.NoError(t, err)

	public := NewController(ControllerOptions{Repo: NewRepository(mem), Auth: allowAll{}, Defaults: defaults})
	assert.Equal(t, []string{"default-slack", shared.ID}, ids(public.Load(ctx)))
}
