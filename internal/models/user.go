package models

import (
	"time"
)

// Principal is either *AnonymousUser or *Member. Callers switch on the
// concrete type; there is no third variant.
type Principal interface {
	PrincipalUID() string
	isPrincipal()
}

// AnonymousUser is a signed-in visitor without a profile. It can browse but never owns a catalog.
type AnonymousUser struct {
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *AnonymousUser) PrincipalUID() string { return a.UID }
func (a *AnonymousUser) isPrincipal()         {}

// Member is an authenticated user with a public-facing CustomUserID.
type Member struct {
	UID          string       `json:"uid"`
	CustomUserID string       `json:"customUserId"`
	DisplayName  string       `json:"displayName"`
	Email        string       `json:"email,omitempty"`
	PhotoURL     string       `json:"photoURL,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	IsShared     bool         `json:"isShared"`
	LastShareID  string       `json:"lastShareId,omitempty"`
	ShareHistory []ShareEntry `json:"shareHistory"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (m *Member) PrincipalUID() string { return m.UID }
func (m *Member) isPrincipal()         {}

// OpenShare returns the index of the share entry that has not ended, or -1.
func (m *Member) OpenShare() int {
	for i := len(m.ShareHistory) - 1; i >= 0; i-- {
		if m.ShareHistory[i].EndedAt == nil {
			return i
		}
	}
	return -1
}

// ShareEntry records one publish period of a member's catalog.
type ShareEntry struct {
	ShareID   string     `json:"shareId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
}

// IsMember reports whether p is an authenticated member and returns it.
func IsMember(p Principal) (*Member, bool) {
	switch v := p.(type) {
	case *Member:
		return v, v != nil
	case *AnonymousUser:
		return nil, false
	default:
		return nil, false
	}
}
