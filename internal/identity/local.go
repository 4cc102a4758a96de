package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/appshelf-backend/internal/docstore"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
	"github.com/AnshRaj112/appshelf-backend/pkg/utils"
)

const CredentialsCollection = "credentials"

// ProviderPassword marks members created through local sign-up.
const ProviderPassword = "password"

var (
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// LocalAccounts stores username/password accounts next to the users
// collection. Credentials are keyed by normalized username.
type LocalAccounts struct {
	store docstore.Store
	dir   *Directory
}

func NewLocalAccounts(store docstore.Store, dir *Directory) *LocalAccounts {
	return &LocalAccounts{store: store, dir: dir}
}

// SignUp creates the credential and the member in one write. The
// credential is created only if absent, so concurrent sign-ups of the same
// username leave exactly one account.
func (l *LocalAccounts) SignUp(ctx context.Context, username, password, displayName string) (*models.Member, error) {
	if err := utils.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := utils.ValidatePassword(password); err != nil {
		return nil, err
	}
	key := utils.NormalizeUsername(username)

	_, err := l.store.Get(ctx, CredentialsCollection, key)
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	profile := Profile{
		UID:         "local-" + uuid.NewString(),
		DisplayName: strings.TrimSpace(displayName),
		Provider:    ProviderPassword,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = strings.TrimSpace(username)
	}
	cred := docstore.Create(CredentialsCollection, key, docstore.Doc{
		"username":     key,
		"uid":          profile.UID,
		"passwordHash": hash,
		"createdAt":    time.Now().UTC(),
	})
	m, err := l.dir.CreateMember(ctx, profile, key, cred)
	if errors.Is(err, docstore.ErrExists) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", key, err)
	}
	return m, nil
}

// SignIn checks the password and returns the member.
func (l *LocalAccounts) SignIn(ctx context.Context, username, password string) (*models.Member, error) {
	cred, err := l.store.Get(ctx, CredentialsCollection, utils.NormalizeUsername(username))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := utils.VerifyPassword(password, cred.String("passwordHash"))
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	return l.dir.Member(ctx, cred.String("uid"))
}
