// Package editmode gates catalog mutations behind an explicit, per-session
// switch into edit mode.
package editmode

import (
	"context"
	"errors"
	"fmt"

	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

type State string

const (
	StateReadOnly State = "read_only"
	StateEditing  State = "editing"
)

// Outcome is the result of asking to enter edit mode.
type Outcome string

const (
	// OutcomeRejected: a shared snapshot is pinned read-only; no prompt.
	OutcomeRejected Outcome = "rejected"
	// OutcomeSignIn: the visitor must sign in first.
	OutcomeSignIn Outcome = "sign_in"
	// OutcomeEditing: already in edit mode.
	OutcomeEditing Outcome = "editing"
	// OutcomeConfirm: ask "switch to edit mode?" and call Confirm.
	OutcomeConfirm Outcome = "confirm"
)

var (
	ErrPinnedReadOnly = errors.New("shared catalogs are read-only")
	ErrSignInRequired = errors.New("sign in to edit")
	ErrNotOwner       = errors.New("only the owner can change this catalog")
	ErrNotEditing     = errors.New("switch to edit mode first")
)

// Request describes who is asking and what they are looking at.
type Request struct {
	Principal     models.Principal
	ViewingShared bool
}

type Gate struct {
	states StateStore
	log    logger.Logger
}

func NewGate(states StateStore, log logger.Logger) *Gate {
	if log == nil {
		log = logger.NewNop()
	}
	return &Gate{states: states, log: log}
}

// State returns the session's state. Lookup failures read as read-only.
func (g *Gate) State(ctx context.Context, sessionID string) State {
	if sessionID == "" {
		return StateReadOnly
	}
	s, err := g.states.Get(ctx, sessionID)
	if err != nil {
		g.log.Warn("edit state lookup failed", logger.Error(err))
		return StateReadOnly
	}
	return s
}

// Request is the first step of entering edit mode. It never changes state.
func (g *Gate) Request(ctx context.Context, sessionID string, req Request) Outcome {
	if req.ViewingShared {
		return OutcomeRejected
	}
	if _, ok := models.IsMember(req.Principal); !ok {
		return OutcomeSignIn
	}
	if g.State(ctx, sessionID) == StateEditing {
		return OutcomeEditing
	}
	return OutcomeConfirm
}

// Confirm answers the prompt. Declining leaves the state as it was.
func (g *Gate) Confirm(ctx context.Context, sessionID string, req Request, accepted bool) (State, error) {
	current := g.State(ctx, sessionID)
	if req.ViewingShared {
		return current, ErrPinnedReadOnly
	}
	if _, ok := models.IsMember(req.Principal); !ok {
		return current, ErrSignInRequired
	}
	if !accepted {
		return current, nil
	}
	if err := g.states.Set(ctx, sessionID, StateEditing); err != nil {
		return current, fmt.Errorf("enter edit mode: %w", err)
	}
	return StateEditing, nil
}

// Exit returns the session to read-only.
func (g *Gate) Exit(ctx context.Context, sessionID string) error {
	if err := g.states.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("exit edit mode: %w", err)
	}
	return nil
}

// Reset forces read-only on sign-out.
func (g *Gate) Reset(ctx context.Context, sessionID string) error {
	return g.Exit(ctx, sessionID)
}

// Authorize allows a mutation of ownerID's catalog only by that owner and,
// when needsEdit is set, only while the session is editing.
func (g *Gate) Authorize(ctx context.Context, sessionID string, p models.Principal, ownerID string, needsEdit bool) error {
	m, ok := models.IsMember(p)
	if !ok || ownerID == "" || m.UID != ownerID {
		return ErrNotOwner
	}
	if !needsEdit {
		return nil
	}
	s, err := g.states.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotEditing, err)
	}
	if s != StateEditing {
		return ErrNotEditing
	}
	return nil
}
