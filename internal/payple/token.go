package payple

import (
	"context"
	"sync"
	"time"
)

// TokenCache stores the partner access token until shortly before it
// expires.
type TokenCache interface {
	// Get returns the cached token or "" when none is cached.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
}

// MemoryTokenCache is a process local TokenCache.
type MemoryTokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

var _ TokenCache = (*MemoryTokenCache)(nil)

// NewMemoryTokenCache creates an empty MemoryTokenCache.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{now: time.Now}
}

func (m *MemoryTokenCache) Get(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == "" || !m.now().Before(m.expiresAt) {
		return "", nil
	}
	return m.token, nil
}

func (m *MemoryTokenCache) Set(_ context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = token
	m.expiresAt = m.now().Add(ttl)
	return nil
}
