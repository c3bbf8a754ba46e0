package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyKey   = errors.New("lock key is empty")
	ErrInvalidTTL = errors.New("lock ttl must be positive")
)

// Locker grants short-lived exclusive ownership of a key. TryLock never
// blocks; callers retry with their own policy.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// KeyedMutex is an in-process Locker. Ownership expires after ttl so a
// leaked token cannot block a key forever.
type KeyedMutex struct {
	mu    sync.Mutex
	held  map[string]lease
	nowFn func() time.Time
}

type lease struct {
	token     string
	expiresAt time.Time
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		held:  make(map[string]lease),
		nowFn: time.Now,
	}
}

func (m *KeyedMutex) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if current, ok := m.held[key]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	m.held[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (m *KeyedMutex) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.held[key]; ok && current.token == token {
		delete(m.held, key)
	}
	return nil
}
