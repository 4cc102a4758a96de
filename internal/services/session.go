package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionDuration is 7 days
	SessionDuration = 7 * 24 * time.Hour
	// SessionKeyPrefix is the Redis key prefix for sessions
	SessionKeyPrefix = "session:"
)

// SessionStore maps opaque session tokens to user ids.
type SessionStore interface {
	Create(ctx context.Context, uid string) (string, error)
	Lookup(ctx context.Context, token string) (string, bool, error)
	Refresh(ctx context.Context, token string) error
	Invalidate(ctx context.Context, token string) error
}

func newSessionToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}

// RedisSessions keeps sessions in Redis with a sliding expiry.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = SessionDuration
	}
	return &RedisSessions{client: client, ttl: ttl}
}

// Create stores a new session for uid and returns its token.
func (s *RedisSessions) Create(ctx context.Context, uid string) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, SessionKeyPrefix+token, uid, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Lookup returns the user id behind a token. Unknown or expired tokens
// report false without an error.
func (s *RedisSessions) Lookup(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	uid, err := s.client.Get(ctx, SessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return uid, true, nil
}

// Refresh extends the session expiration from now.
func (s *RedisSessions) Refresh(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("session token is empty")
	}
	return s.client.Expire(ctx, SessionKeyPrefix+token, s.ttl).Err()
}

// Invalidate removes a session.
func (s *RedisSessions) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.client.Del(ctx, SessionKeyPrefix+token).Err()
}

// MemorySessions is a SessionStore for single-process runs and tests.
type MemorySessions struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]memorySession
}

type memorySession struct {
	uid     string
	expires time.Time
}

func NewMemorySessions(ttl time.Duration) *MemorySessions {
	if ttl <= 0 {
		ttl = SessionDuration
	}
	return &MemorySessions{ttl: ttl, now: time.Now, sessions: make(map[string]memorySession)}
}

func (s *MemorySessions) Create(_ context.Context, uid string) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = memorySession{uid: uid, expires: s.now().Add(s.ttl)}
	return token, nil
}

func (s *MemorySessions) Lookup(_ context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false, nil
	}
	if s.now().After(sess.expires) {
		delete(s.sessions, token)
		return "", false, nil
	}
	return sess.uid, true, nil
}

func (s *MemorySessions) Refresh(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return fmt.Errorf("session not found")
	}
	sess.expires = s.now().Add(s.ttl)
	s.sessions[token] = sess
	return nil
}

func (s *MemorySessions) Invalidate(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
