// Package sharing publishes read-only links to a member's catalog.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/appshelf-backend/internal/catalog"
	"github.com/AnshRaj112/appshelf-backend/internal/identity"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

// ErrLinkInvalid covers every link that does not name the owner's current
// share: unknown user, unpublished catalog, or a superseded share id.
var ErrLinkInvalid = errors.New("link no longer valid")

// Users is the part of the user directory the workflow needs.
type Users interface {
	Member(ctx context.Context, uid string) (*models.Member, error)
	ByCustomID(ctx context.Context, customID string) (*models.Member, error)
	SaveMember(ctx context.Context, m *models.Member) error
}

// Status is a member's current share state.
type Status struct {
	IsShared  bool                `json:"isShared"`
	ShareID   string              `json:"shareId,omitempty"`
	SharePath string              `json:"sharePath,omitempty"`
	ShareURL  string              `json:"shareUrl,omitempty"`
	History   []models.ShareEntry `json:"history"`
}

type Options struct {
	Users    Users
	Catalogs *catalog.Registry
	Cache    catalog.SnapshotCache
	BaseURL  string
	Logger   logger.Logger
	Now      func() time.Time
	NewID    func() string
}

type Service struct {
	users    Users
	catalogs *catalog.Registry
	cache    catalog.SnapshotCache
	baseURL  string
	log      logger.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		users:    opts.Users,
		catalogs: opts.Catalogs,
		cache:    opts.Cache,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// SharePath is the route of a share link.
func SharePath(customUserID, shareID string) string {
	return "/share/" + url.PathEscape(customUserID) + "/" + url.PathEscape(shareID)
}

// Publish opens a new share period and returns its id. Republishing closes
// the open period first, so the previous link stops resolving.
func (s *Service) Publish(ctx context.Context, uid string) (string, error) {
	m, err := s.users.Member(ctx, uid)
	if err != nil {
		return "", err
	}

	now := s.now()
	if i := m.OpenShare(); i >= 0 {
		ended := now
		m.ShareHistory[i].EndedAt = &ended
	}
	shareID := s.newID()
	m.ShareHistory = append(m.ShareHistory, models.ShareEntry{ShareID: shareID, StartedAt: now})
	m.IsShared = true
	m.LastShareID = shareID

	if err := s.users.SaveMember(ctx, m); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	s.dropSnapshot(ctx, uid)
	s.log.Info("catalog published", logger.String("uid", uid), logger.String("shareId", shareID))
	return shareID, nil
}

// Unpublish closes the open share period. It reports false, and writes
// nothing, when no period is open.
func (s *Service) Unpublish(ctx context.Context, uid string) (bool, error) {
	m, err := s.users.Member(ctx, uid)
	if err != nil {
		return false, err
	}
	i := m.OpenShare()
	if i < 0 {
		return false, nil
	}

	ended := s.now()
	m.ShareHistory[i].EndedAt = &ended
	m.IsShared = false
	m.LastShareID = ""

	if err := s.users.SaveMember(ctx, m); err != nil {
		return false, fmt.Errorf("unpublish: %w", err)
	}
	s.dropSnapshot(ctx, uid)
	s.log.Info("catalog unpublished", logger.String("uid", uid))
	return true, nil
}

// Resolve returns the owner of a share link. Only the current share id of
// a published catalog resolves.
func (s *Service) Resolve(ctx context.Context, customUserID, shareID string) (*models.Member, error) {
	if customUserID == "" || shareID == "" {
		return nil, ErrLinkInvalid
	}
	m, err := s.users.ByCustomID(ctx, customUserID)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, ErrLinkInvalid
	}
	if err != nil {
		return nil, err
	}
	if !m.IsShared || m.LastShareID != shareID {
		return nil, ErrLinkInvalid
	}
	return m, nil
}

// Status reports uid's share state and history.
func (s *Service) Status(ctx context.Context, uid string) (Status, error) {
	m, err := s.users.Member(ctx, uid)
	if err != nil {
		return Status{}, err
	}
	st := Status{IsShared: m.IsShared, History: m.ShareHistory}
	if st.History == nil {
		st.History = []models.ShareEntry{}
	}
	if m.IsShared && m.LastShareID != "" {
		st.ShareID = m.LastShareID
		st.SharePath = SharePath(m.CustomUserID, m.LastShareID)
		st.ShareURL = s.baseURL + st.SharePath
	}
	return st, nil
}

// SharedCatalog returns one board of a shared catalog after validating the
// link. Unsaved placeholders are never shown.
func (s *Service) SharedCatalog(ctx context.Context, customUserID, shareID string, sel catalog.Selection) (*models.Member, []models.Tool, error) {
	m, tools, err := s.sharedTools(ctx, customUserID, shareID)
	if err != nil {
		return nil, nil, err
	}
	return m, catalog.Filter(tools, sel), nil
}

// SearchShared searches a shared catalog after validating the link.
func (s *Service) SearchShared(ctx context.Context, customUserID, shareID, q string) (*models.Member, []models.Tool, error) {
	m, tools, err := s.sharedTools(ctx, customUserID, shareID)
	if err != nil {
		return nil, nil, err
	}
	return m, catalog.Search(tools, q), nil
}

func (s *Service) sharedTools(ctx context.Context, customUserID, shareID string) (*models.Member, []models.Tool, error) {
	m, err := s.Resolve(ctx, customUserID, shareID)
	if err != nil {
		return nil, nil, err
	}
	all := s.catalogs.Owner(m.UID).Tools(ctx)
	tools := make([]models.Tool, 0, len(all))
	for _, t := range all {
		if !t.Pending {
			tools = append(tools, t)
		}
	}
	return m, tools, nil
}

func (s *Service) dropSnapshot(ctx context.Context, uid string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, catalog.CacheKey(uid)); err != nil {
		s.log.Warn("snapshot cache invalidate failed", logger.String("uid", uid), logger.Error(err))
	}
}
