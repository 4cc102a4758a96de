package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/appshelf-backend/internal/docstore"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrToolPending   = errors.New("tool is still being saved")
	ErrReadOnlyScope = errors.New("catalog is read-only")
	ErrClosed        = errors.New("catalog controller closed")
)

// TempIDPrefix marks the id of an optimistic placeholder.
const TempIDPrefix = "tmp-"

type EventType string

const (
	EventPending    EventType = "tool.pending"
	EventConfirmed  EventType = "tool.confirmed"
	EventRolledBack EventType = "tool.rolled_back"
	EventUpdated    EventType = "tool.updated"
	EventDeleted    EventType = "tool.deleted"
	EventReloaded   EventType = "catalog.reloaded"
)

// Event describes a change to a controller's state.
type Event struct {
	Type      EventType    `json:"type"`
	OwnerID   string       `json:"ownerId,omitempty"`
	Tool      *models.Tool `json:"tool,omitempty"`
	ToolID    string       `json:"toolId,omitempty"`
	TempID    string       `json:"tempId,omitempty"`
	Shared    bool         `json:"shared,omitempty"`
	Origin    string       `json:"origin,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Actor is whoever asks for a mutation.
type Actor struct {
	SessionID string
	Principal models.Principal
}

// Authorizer decides whether an actor may mutate ownerID's catalog.
type Authorizer interface {
	Authorize(ctx context.Context, sessionID string, p models.Principal, ownerID string, needsEdit bool) error
}

// SnapshotCache holds fetched catalogs keyed by scope. A nil cache is allowed.
type SnapshotCache interface {
	GetTools(ctx context.Context, key string) ([]models.Tool, bool)
	SetTools(ctx context.Context, key string, tools []models.Tool) error
	Invalidate(ctx context.Context, key string) error
}

type addPhase int

const (
	addTentative addPhase = iota
	addCommitted
	addRolledBack
)

// pendingAdd tracks one in-flight add. serverID is reserved before the
// gateway write so a concurrent load can tell whether the record landed.
type pendingAdd struct {
	tempID   string
	serverID string
	phase    addPhase
}

func (p *pendingAdd) settle(to addPhase) error {
	if p.phase != addTentative {
		return fmt.Errorf("add %s already settled", p.tempID)
	}
	p.phase = to
	return nil
}

// Controller owns the in-memory view of one catalog scope: a member's own
// tools, or the public snapshot when ownerID is empty.
type Controller struct {
	ownerID  string
	repo     *Repository
	auth     Authorizer
	cache    SnapshotCache
	defaults []models.Tool
	log      logger.Logger
	onEvent  func(Event)
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	tools   []models.Tool
	loaded  bool
	loadSeq uint64
	mutSeq  uint64 // bumped by every confirmed mutation
	closed  bool
	pending map[string]*pendingAdd

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// ControllerOptions configures a controller. Repo and Auth are required.
type ControllerOptions struct {
	OwnerID  string
	Repo     *Repository
	Auth     Authorizer
	Cache    SnapshotCache
	Defaults []models.Tool
	Logger   logger.Logger
	OnEvent  func(Event)
	Now      func() time.Time
	NewID    func() string
}

func NewController(opts ControllerOptions) *Controller {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	scope := opts.OwnerID
	if scope == "" {
		scope = "public"
	}
	return &Controller{
		ownerID:  opts.OwnerID,
		repo:     opts.Repo,
		auth:     opts.Auth,
		cache:    opts.Cache,
		defaults: opts.Defaults,
		log:      opts.Logger.With(logger.String("catalog", scope)),
		onEvent:  opts.OnEvent,
		now:      opts.Now,
		newID:    opts.NewID,
		pending:  make(map[string]*pendingAdd),
		subs:     make(map[int]chan Event),
	}
}

// OwnerID is empty for the public scope.
func (c *Controller) OwnerID() string { return c.ownerID }

// CacheKey is the snapshot cache key for a scope.
func CacheKey(ownerID string) string {
	if ownerID == "" {
		return "public"
	}
	return "owner:" + ownerID
}

// Tools returns the current state, loading it first if it is stale.
func (c *Controller) Tools(ctx context.Context) []models.Tool {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if !loaded {
		return c.Load(ctx)
	}
	return c.Snapshot()
}

// Snapshot returns a copy of the current state without touching the gateway.
func (c *Controller) Snapshot() []models.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneTools(c.tools)
}

// maxLoadAttempts bounds refetches when mutations keep landing mid-load.
const maxLoadAttempts = 3

// Load fetches the scope and replaces local state. A fetch failure is
// logged and the prior state returned. Placeholders for adds still in
// flight survive unless the fetched list already carries their server id.
// A fetch that overlapped a confirmed mutation is discarded and retried.
func (c *Controller) Load(ctx context.Context) []models.Tool {
	for attempt := 1; ; attempt++ {
		state, raced := c.loadOnce(ctx)
		if !raced || attempt == maxLoadAttempts || ctx.Err() != nil {
			return state
		}
	}
}

// loadOnce reports raced when a mutation was confirmed while it fetched.
// The fetched list may predate that mutation, so it is not applied.
func (c *Controller) loadOnce(ctx context.Context) ([]models.Tool, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	c.loadSeq++
	seq, mut := c.loadSeq, c.mutSeq
	c.mu.Unlock()

	fetched, cached, err := c.fetch(ctx)
	if err != nil {
		c.log.Warn("catalog load failed", logger.Error(err))
		return c.Snapshot(), false
	}

	c.mu.Lock()
	if c.closed || seq != c.loadSeq {
		state := cloneTools(c.tools)
		c.mu.Unlock()
		c.log.Debug("discarding superseded catalog load")
		return state, false
	}
	if c.mutSeq != mut {
		state := cloneTools(c.tools)
		c.mu.Unlock()
		c.log.Debug("catalog changed during load, refetching")
		return state, true
	}
	have := make(map[string]bool, len(fetched))
	for _, t := range fetched {
		have[t.ID] = true
	}
	merged := make([]models.Tool, 0, len(fetched)+len(c.pending))
	merged = append(merged, fetched...)
	for _, t := range c.tools {
		if !t.Pending {
			continue
		}
		p, ok := c.pending[t.ID]
		if ok && p.phase == addTentative && !have[p.serverID] {
			merged = append(merged, t)
		}
	}
	c.tools = merged
	c.loaded = true
	state := cloneTools(c.tools)
	c.mu.Unlock()

	if !cached {
		c.storeSnapshot(ctx, mut, fetched)
	}
	c.dispatch(Event{Type: EventReloaded})
	return state, false
}

// fetch reads the scope from the snapshot cache, falling back to the
// gateway. cached reports a cache hit.
func (c *Controller) fetch(ctx context.Context) (tools []models.Tool, cached bool, err error) {
	if c.cache != nil {
		if hit, ok := c.cache.GetTools(ctx, CacheKey(c.ownerID)); ok {
			return hit, true, nil
		}
	}

	if c.ownerID == "" {
		var shared []models.Tool
		shared, err = c.repo.ListPublic(ctx)
		tools = append(cloneTools(c.defaults), shared...)
	} else {
		tools, err = c.repo.ListByOwner(ctx, c.ownerID)
	}
	if err != nil {
		return nil, false, err
	}
	return tools, false, nil
}

// storeSnapshot caches a fetched list. If a mutation was confirmed after
// the fetch began (generation mut), the entry is dropped again: the
// mutation's own invalidation may already have run.
func (c *Controller) storeSnapshot(ctx context.Context, mut uint64, tools []models.Tool) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetTools(ctx, CacheKey(c.ownerID), tools); err != nil {
		c.log.Warn("snapshot cache write failed", logger.Error(err))
		return
	}
	c.mu.Lock()
	stale := c.mutSeq != mut
	c.mu.Unlock()
	if stale {
		c.dropCache(ctx)
	}
}

// Invalidate marks local state stale; the next Tools call reloads.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// Add stores a new tool. A placeholder is shown first and swapped in place
// for the stored tool, or removed if the write fails.
func (c *Controller) Add(ctx context.Context, actor Actor, draft models.ToolDraft) (models.Tool, error) {
	if err := c.authorize(ctx, actor, true); err != nil {
		return models.Tool{}, err
	}

	tool := draft.Materialize(c.newID(), c.ownerID, c.now())
	if err := tool.Validate(); err != nil {
		return models.Tool{}, err
	}

	p := &pendingAdd{tempID: TempIDPrefix + c.newID(), serverID: tool.ID}
	placeholder := tool
	placeholder.ID = p.tempID
	placeholder.Pending = true

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.Tool{}, ErrClosed
	}
	c.pending[p.tempID] = p
	c.tools = append(c.tools, placeholder)
	c.mu.Unlock()
	c.dispatch(Event{Type: EventPending, Tool: &placeholder, TempID: p.tempID, Shared: tool.IsShared})

	err := c.repo.Create(ctx, tool)

	c.mu.Lock()
	delete(c.pending, p.tempID)
	if err != nil {
		c.settleLocked(p, addRolledBack)
		c.removeLocked(p.tempID)
		c.mu.Unlock()
		c.log.Error("add tool failed, rolled back",
			logger.String("tempId", p.tempID), logger.String("name", tool.Name), logger.Error(err))
		c.dispatch(Event{Type: EventRolledBack, TempID: p.tempID, ToolID: tool.ID})
		return models.Tool{}, err
	}
	c.settleLocked(p, addCommitted)
	c.mutSeq++
	if i := c.indexLocked(p.tempID); i >= 0 {
		c.tools[i] = tool
	} else if c.indexLocked(tool.ID) < 0 {
		// a load replaced the list before the write landed
		c.tools = append(c.tools, tool)
	}
	c.mu.Unlock()

	c.dropCache(ctx)
	c.dispatch(Event{Type: EventConfirmed, Tool: &tool, TempID: p.tempID, ToolID: tool.ID, Shared: tool.IsShared})
	return tool, nil
}

// Delete removes a tool and retracts its public mirror in one write.
func (c *Controller) Delete(ctx context.Context, actor Actor, toolID string) error {
	if err := c.authorize(ctx, actor, true); err != nil {
		return err
	}
	tool, err := c.find(ctx, toolID)
	if err != nil {
		return err
	}
	if err := c.repo.Delete(ctx, tool.ID); err != nil {
		return err
	}

	c.mu.Lock()
	c.mutSeq++
	c.removeLocked(tool.ID)
	c.mu.Unlock()

	c.dropCache(ctx)
	c.dispatch(Event{Type: EventDeleted, ToolID: tool.ID, Shared: tool.IsShared})
	return nil
}

// Update merges patch into a tool. Only the owner may update; edit mode is
// not required. An empty patch returns the tool unchanged.
func (c *Controller) Update(ctx context.Context, actor Actor, toolID string, patch models.ToolPatch) (models.Tool, error) {
	if err := c.authorize(ctx, actor, false); err != nil {
		return models.Tool{}, err
	}
	before, err := c.find(ctx, toolID)
	if err != nil {
		return models.Tool{}, err
	}
	if patch.Empty() {
		return before, nil
	}

	after := patch.Apply(before, c.now())
	if err := after.Validate(); err != nil {
		return models.Tool{}, err
	}
	if err := c.repo.Update(ctx, before, patch, after); err != nil {
		return models.Tool{}, err
	}

	c.mu.Lock()
	c.mutSeq++
	if i := c.indexLocked(after.ID); i >= 0 {
		c.tools[i] = after
	}
	c.mu.Unlock()

	c.dropCache(ctx)
	c.dispatch(Event{Type: EventUpdated, Tool: &after, ToolID: after.ID, Shared: before.IsShared || after.IsShared})
	return after, nil
}

// Subscribe registers a listener. Delivery is non-blocking; a listener
// that falls behind misses events. cancel is safe to call more than once.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.subMu.Unlock()
		})
	}
}

// Subscribers reports how many listeners are attached.
func (c *Controller) Subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

// Deliver forwards an event that happened elsewhere to local listeners
// without re-publishing it.
func (c *Controller) Deliver(ev Event) {
	c.fanout(ev)
}

// Close discards in-flight loads and detaches every listener.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.subMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subMu.Unlock()
}

func (c *Controller) authorize(ctx context.Context, actor Actor, needsEdit bool) error {
	if c.ownerID == "" {
		return ErrReadOnlyScope
	}
	if err := c.auth.Authorize(ctx, actor.SessionID, actor.Principal, c.ownerID, needsEdit); err != nil {
		uid := ""
		if actor.Principal != nil {
			uid = actor.Principal.PrincipalUID()
		}
		c.log.Warn("catalog mutation denied", logger.String("uid", uid), logger.Error(err))
		return err
	}
	return nil
}

// find looks a tool up in local state, falling back to the gateway.
func (c *Controller) find(ctx context.Context, toolID string) (models.Tool, error) {
	c.mu.Lock()
	if i := c.indexLocked(toolID); i >= 0 {
		t := c.tools[i]
		c.mu.Unlock()
		if t.Pending {
			return models.Tool{}, ErrToolPending
		}
		return t, nil
	}
	c.mu.Unlock()

	t, err := c.repo.Get(ctx, toolID)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.Tool{}, ErrToolNotFound
	}
	if err != nil {
		return models.Tool{}, err
	}
	if t.UserID != c.ownerID {
		return models.Tool{}, ErrToolNotFound
	}
	return t, nil
}

func (c *Controller) dropCache(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, CacheKey(c.ownerID)); err != nil {
		c.log.Warn("snapshot cache invalidate failed", logger.Error(err))
	}
}

func (c *Controller) dispatch(ev Event) {
	ev.OwnerID = c.ownerID
	ev.Timestamp = c.now()
	c.fanout(ev)
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

func (c *Controller) fanout(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Controller) settleLocked(p *pendingAdd, to addPhase) {
	if err := p.settle(to); err != nil {
		c.log.Warn("pending add settled twice", logger.String("tempId", p.tempID), logger.Error(err))
	}
}

func (c *Controller) indexLocked(id string) int {
	for i := range c.tools {
		if c.tools[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) removeLocked(id string) {
	if i := c.indexLocked(id); i >= 0 {
		c.tools = append(c.tools[:i], c.tools[i+1:]...)
	}
}

func cloneTools(tools []models.Tool) []models.Tool {
	out := make([]models.Tool, len(tools))
	copy(out, tools)
	return out
}
