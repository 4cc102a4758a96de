package identity

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/auth"
)

// ProviderAnonymous is the sign-in provider Firebase reports for guests.
const ProviderAnonymous = "anonymous"

var ErrInvalidToken = errors.New("invalid or expired token")

// TokenVerifier turns a provider-issued token into a profile.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (Profile, error)
}

// FirebaseVerifier checks Firebase ID tokens with the Admin SDK.
type FirebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(client *auth.Client) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

func (f *FirebaseVerifier) Verify(ctx context.Context, idToken string) (Profile, error) {
	if idToken == "" {
		return Profile{}, ErrInvalidToken
	}
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	profile := Profile{UID: token.UID, Provider: token.Firebase.SignInProvider}
	if profile.Provider == ProviderAnonymous {
		return profile, nil
	}

	user, err := f.client.GetUser(ctx, token.UID)
	if err != nil {
		return Profile{}, fmt.Errorf("load firebase user %s: %w", token.UID, err)
	}
	profile.DisplayName = user.DisplayName
	profile.Email = user.Email
	profile.PhotoURL = user.PhotoURL
	return profile, nil
}
