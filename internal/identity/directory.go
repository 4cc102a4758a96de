// Package identity resolves signed-in users into principals and keeps the
// users collection.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/appshelf-backend/internal/docstore"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
	"github.com/AnshRaj112/appshelf-backend/pkg/utils"
)

const UsersCollection = "users"

// CustomIDsCollection holds one reservation per custom id, keyed by the id
// and naming the owning uid. It is written in the same batch as the member.
const CustomIDsCollection = "customIds"

const (
	kindAnonymous = "anonymous"
	kindMember    = "member"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNotMember    = errors.New("user has no member profile")
)

// Profile is what an identity provider knows about a signed-in user.
type Profile struct {
	UID         string
	DisplayName string
	Email       string
	PhotoURL    string
	Provider    string
}

// Directory reads and writes user records.
type Directory struct {
	store docstore.Store
	log   logger.Logger
	now   func() time.Time

	// held from picking a custom id until the member is stored
	allocMu sync.Mutex
}

func NewDirectory(store docstore.Store, log logger.Logger) *Directory {
	if log == nil {
		log = logger.NewNop()
	}
	return &Directory{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the principal stored under uid.
func (d *Directory) Get(ctx context.Context, uid string) (models.Principal, error) {
	doc, err := d.store.Get(ctx, UsersCollection, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return principalFromDoc(doc), nil
}

// Member returns uid's member profile.
func (d *Directory) Member(ctx context.Context, uid string) (*models.Member, error) {
	p, err := d.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	m, ok := models.IsMember(p)
	if !ok {
		return nil, ErrNotMember
	}
	return m, nil
}

// ByCustomID finds a member by the public id used in share links.
func (d *Directory) ByCustomID(ctx context.Context, customID string) (*models.Member, error) {
	docs, err := d.store.Query(ctx, UsersCollection, docstore.Eq("customUserId", customID))
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", customID, err)
	}
	for _, doc := range docs {
		if m, ok := models.IsMember(principalFromDoc(doc)); ok {
			return m, nil
		}
	}
	return nil, ErrUserNotFound
}

// CreateAnonymous records a new anonymous visitor. An empty uid gets a
// generated one.
func (d *Directory) CreateAnonymous(ctx context.Context, uid string) (*models.AnonymousUser, error) {
	if uid == "" {
		uid = "anon-" + uuid.NewString()
	}
	if p, err := d.Get(ctx, uid); err == nil {
		if a, ok := p.(*models.AnonymousUser); ok {
			return a, nil
		}
		return nil, fmt.Errorf("uid %s already belongs to a member", uid)
	}
	a := &models.AnonymousUser{UID: uid, CreatedAt: d.now()}
	if err := d.store.Set(ctx, UsersCollection, uid, anonymousDoc(a)); err != nil {
		return nil, fmt.Errorf("create anonymous user: %w", err)
	}
	return a, nil
}

// EnsureMember returns the member for profile.UID, creating it on first
// sign-in or upgrading an anonymous record. Provider-owned fields are
// refreshed on every call.
func (d *Directory) EnsureMember(ctx context.Context, profile Profile) (*models.Member, error) {
	existing, err := d.Get(ctx, profile.UID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if m, ok := models.IsMember(existing); ok {
		changed := false
		refresh := func(dst *string, v string) {
			if v != "" && *dst != v {
				*dst = v
				changed = true
			}
		}
		refresh(&m.DisplayName, profile.DisplayName)
		refresh(&m.Email, profile.Email)
		refresh(&m.PhotoURL, profile.PhotoURL)
		if changed {
			if err := d.SaveMember(ctx, m); err != nil {
				return nil, err
			}
		}
		return m, nil
	}

	var since time.Time
	if a, ok := existing.(*models.AnonymousUser); ok && a != nil {
		since = a.CreatedAt
	}
	m, err := d.createMember(ctx, profile, "", since)
	if err != nil {
		return nil, err
	}
	d.log.Info("member created", logger.String("uid", m.UID), logger.String("customUserId", m.CustomUserID))
	return m, nil
}

// CreateMember stores a new member under a freshly allocated custom id,
// together with the id's reservation and any extra writes, in one batch.
// preferred, when free, is used as the custom id. If an extra write is a
// Create that conflicts, the error wraps docstore.ErrExists.
func (d *Directory) CreateMember(ctx context.Context, profile Profile, preferred string, extra ...docstore.Write) (*models.Member, error) {
	return d.createMember(ctx, profile, preferred, time.Time{}, extra...)
}

func (d *Directory) createMember(ctx context.Context, profile Profile, preferred string, since time.Time, extra ...docstore.Write) (*models.Member, error) {
	d.allocMu.Lock()
	defer d.allocMu.Unlock()

	base := preferred
	if base == "" {
		base = profile.DisplayName
		if base == "" {
			base = profile.Email
		}
	}
	base = utils.Slugify(base, "user")

	for i := 1; i <= maxCustomIDAttempts; i++ {
		customID := customIDCandidate(base, i)
		taken, err := d.customIDTaken(ctx, customID)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		m := d.newMember(profile, customID, since)
		writes := append([]docstore.Write{
			docstore.Create(CustomIDsCollection, customID, docstore.Doc{"uid": m.UID}),
			docstore.Set(UsersCollection, m.UID, MemberDoc(m)),
		}, extra...)
		err = d.store.Apply(ctx, writes...)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, docstore.ErrExists) {
			return nil, fmt.Errorf("create member %s: %w", m.UID, err)
		}
		// another instance may have reserved the id first; otherwise an
		// extra write conflicted
		_, rerr := d.store.Get(ctx, CustomIDsCollection, customID)
		if rerr != nil {
			return nil, fmt.Errorf("create member %s: %w", m.UID, err)
		}
	}
	return nil, fmt.Errorf("no free custom id for %q", base)
}

// maxCustomIDAttempts covers base, base-2 … base-999 and a few random
// suffixes after that.
const maxCustomIDAttempts = 1003

// customIDCandidate returns base, then base-2, base-3 …; a crowded base
// falls back to a random suffix.
func customIDCandidate(base string, attempt int) string {
	switch {
	case attempt <= 1:
		return base
	case attempt < 1000:
		return base + "-" + strconv.Itoa(attempt)
	default:
		return base + "-" + uuid.NewString()[:8]
	}
}

// customIDTaken checks the reservation, then members stored before
// reservations existed.
func (d *Directory) customIDTaken(ctx context.Context, customID string) (bool, error) {
	_, err := d.store.Get(ctx, CustomIDsCollection, customID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return false, fmt.Errorf("lookup %s: %w", customID, err)
	}
	_, err = d.ByCustomID(ctx, customID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Directory) newMember(profile Profile, customID string, since time.Time) *models.Member {
	now := d.now()
	if since.IsZero() {
		since = now
	}
	displayName := profile.DisplayName
	if displayName == "" {
		displayName = customID
	}
	return &models.Member{
		UID:          profile.UID,
		CustomUserID: customID,
		DisplayName:  displayName,
		Email:        profile.Email,
		PhotoURL:     profile.PhotoURL,
		Provider:     profile.Provider,
		ShareHistory: []models.ShareEntry{},
		CreatedAt:    since,
		UpdatedAt:    now,
	}
}

// SaveMember writes the whole member record.
func (d *Directory) SaveMember(ctx context.Context, m *models.Member) error {
	m.UpdatedAt = d.now()
	if err := d.store.Set(ctx, UsersCollection, m.UID, MemberDoc(m)); err != nil {
		return fmt.Errorf("save member %s: %w", m.UID, err)
	}
	return nil
}

// MemberDoc is the stored form of a member.
func MemberDoc(m *models.Member) docstore.Doc {
	history := make([]any, 0, len(m.ShareHistory))
	for _, e := range m.ShareHistory {
		var ended any
		if e.EndedAt != nil {
			ended = *e.EndedAt
		}
		history = append(history, map[string]any{
			"shareId":   e.ShareID,
			"startedAt": e.StartedAt,
			"endedAt":   ended,
		})
	}
	return docstore.Doc{
		"kind":         kindMember,
		"uid":          m.UID,
		"customUserId": m.CustomUserID,
		"displayName":  m.DisplayName,
		"email":        m.Email,
		"photoURL":     m.PhotoURL,
		"provider":     m.Provider,
		"isShared":     m.IsShared,
		"lastShareId":  m.LastShareID,
		"shareHistory": history,
		"createdAt":    m.CreatedAt,
		"updatedAt":    m.UpdatedAt,
	}
}

func anonymousDoc(a *models.AnonymousUser) docstore.Doc {
	return docstore.Doc{
		"kind":      kindAnonymous,
		"uid":       a.UID,
		"createdAt": a.CreatedAt,
	}
}

func principalFromDoc(doc docstore.Doc) models.Principal {
	if doc.String("kind") != kindMember {
		return &models.AnonymousUser{UID: doc.String("uid"), CreatedAt: doc.Time("createdAt")}
	}
	history := []models.ShareEntry{}
	for _, e := range doc.List("shareHistory") {
		history = append(history, models.ShareEntry{
			ShareID:   e.String("shareId"),
			StartedAt: e.Time("startedAt"),
			EndedAt:   e.TimePtr("endedAt"),
		})
	}
	return &models.Member{
		UID:          doc.String("uid"),
		CustomUserID: doc.String("customUserId"),
		DisplayName:  doc.String("displayName"),
		Email:        doc.String("email"),
		PhotoURL:     doc.String("photoURL"),
		Provider:     doc.String("provider"),
		IsShared:     doc.Bool("isShared"),
		LastShareID:  doc.String("lastShareId"),
		ShareHistory: history,
		CreatedAt:    doc.Time("createdAt"),
		UpdatedAt:    doc.Time("updatedAt"),
	}
}
