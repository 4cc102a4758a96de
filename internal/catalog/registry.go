package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

// Publisher ships local events to other instances.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RegistryOptions wires the dependencies shared by every controller.
type RegistryOptions struct {
	Repo       *Repository
	Auth       Authorizer
	Cache      SnapshotCache
	Defaults   []models.Tool
	Publisher  Publisher
	Observer   func(Event)
	Logger     logger.Logger
	IdleTTL    time.Duration
	InstanceID string
}

type registryEntry struct {
	ctrl     *Controller
	lastUsed time.Time
}

// Registry hands out one controller per scope and evicts idle ones. The
// public scope lives under the empty owner id and is never evicted.
type Registry struct {
	opts RegistryOptions
	log  logger.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 15 * time.Minute
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	return &Registry{
		opts:    opts,
		log:     opts.Logger,
		entries: make(map[string]*registryEntry),
	}
}

// InstanceID tags events published by this process.
func (r *Registry) InstanceID() string { return r.opts.InstanceID }

// Owner returns the controller for a member's own catalog.
func (r *Registry) Owner(ownerID string) *Controller {
	return r.get(ownerID)
}

// Public returns the controller for the public snapshot.
func (r *Registry) Public() *Controller {
	return r.get("")
}

// For picks the scope a principal browses: members see their own catalog,
// everyone else the public snapshot.
func (r *Registry) For(p models.Principal) *Controller {
	if m, ok := models.IsMember(p); ok {
		return r.Owner(m.UID)
	}
	return r.Public()
}

func (r *Registry) get(ownerID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[ownerID]; ok {
		e.lastUsed = time.Now()
		return e.ctrl
	}
	ctrl := NewController(ControllerOptions{
		OwnerID:  ownerID,
		Repo:     r.opts.Repo,
		Auth:     r.opts.Auth,
		Cache:    r.opts.Cache,
		Defaults: r.opts.Defaults,
		Logger:   r.log,
		OnEvent:  r.local,
	})
	r.entries[ownerID] = &registryEntry{ctrl: ctrl, lastUsed: time.Now()}
	return ctrl
}

func (r *Registry) peek(ownerID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ownerID]
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// local runs for every event a controller of this process emits.
func (r *Registry) local(ev Event) {
	if r.opts.Observer != nil {
		r.opts.Observer(ev)
	}
	if ev.OwnerID == "" || ev.Type == EventReloaded || ev.Type == EventPending {
		return
	}
	if ev.Shared && ev.Type != EventRolledBack {
		r.refreshPublic()
	}
	if r.opts.Publisher == nil || ev.Type == EventRolledBack {
		return
	}
	ev.Origin = r.opts.InstanceID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.opts.Publisher.Publish(ctx, ev); err != nil {
		r.log.Warn("publish catalog event failed", logger.String("type", string(ev.Type)), logger.Error(err))
	}
}

// HandleRemote applies an event published by another instance.
func (r *Registry) HandleRemote(ev Event) {
	if ev.Origin == r.opts.InstanceID {
		return
	}
	if ctrl, ok := r.peek(ev.OwnerID); ok && ev.OwnerID != "" {
		ctrl.Invalidate()
		ctrl.Deliver(ev)
	}
	if ev.Shared {
		r.refreshPublic()
	}
}

func (r *Registry) refreshPublic() {
	if r.opts.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.opts.Cache.Invalidate(ctx, CacheKey("")); err != nil {
			r.log.Warn("public snapshot invalidate failed", logger.Error(err))
		}
	}
	if pub, ok := r.peek(""); ok {
		pub.Invalidate()
		pub.Deliver(Event{Type: EventReloaded, Timestamp: time.Now().UTC()})
	}
}

// Evict closes owner controllers unused for longer than the idle TTL and
// without listeners. It returns how many were closed.
func (r *Registry) Evict(now time.Time) int {
	r.mu.Lock()
	var victims []*Controller
	for id, e := range r.entries {
		if id == "" || now.Sub(e.lastUsed) < r.opts.IdleTTL || e.ctrl.Subscribers() > 0 {
			continue
		}
		delete(r.entries, id)
		victims = append(victims, e.ctrl)
	}
	r.mu.Unlock()

	for _, c := range victims {
		c.Close()
	}
	if len(victims) > 0 {
		r.log.Debug("evicted idle catalog controllers", logger.Int("count", len(victims)))
	}
	return len(victims)
}

// Run evicts idle controllers until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := r.opts.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Evict(now)
		}
	}
}

// Len reports how many controllers are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()
	for _, e := range entries {
		e.ctrl.Close()
	}
}
