package memrepo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
	"github.com/naman-msft/mcp-dev-tools/internal/usecase"
)

// InMemorySessionRepository provides an in-memory implementation of usecase.SessionStore.
// Sessions idle for longer than the configured TTL are evicted.
// NOTE: This implementation is not persistent and data will be lost on restart.
type InMemorySessionRepository struct {
	mu     sync.Mutex // serialises read-modify-write sequences on the cache
	items  *cache.Cache
	now    func() time.Time
	logger *slog.Logger
}

// NewInMemorySessionRepository creates a new in-memory repository. A ttl of
// zero or less keeps sessions until they are deleted.
func NewInMemorySessionRepository(ttl time.Duration, logger *slog.Logger) *InMemorySessionRepository {
	cleanup := ttl
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	}
	r := &InMemorySessionRepository{
		items:  cache.New(ttl, cleanup),
		now:    time.Now,
		logger: logger.With("component", "session_repo"),
	}
	r.items.OnEvicted(func(id string, _ interface{}) {
		r.logger.Info("Session evicted", slog.String("session_id", id))
	})
	return r
}

// Get returns a copy of the session and refreshes its idle timer.
func (r *InMemorySessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.load(id)
	if !ok {
		r.logger.Debug("Session not found", slog.String("session_id", id))
		return nil, usecase.ErrSessionNotFound
	}
	sess.LastSeen = r.now()
	r.items.SetDefault(id, sess)
	return &sess, nil
}

// Upsert applies fn to the stored session, creating an uninitialized one first
// when id is unknown, and returns a copy of the result.
func (r *InMemorySessionRepository) Upsert(ctx context.Context, id string, fn func(*domain.Session)) (*domain.Session, error) {
	if id == "" {
		return nil, errors.New("session id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.load(id)
	if !ok {
		sess = *domain.NewSession(id, r.now())
		r.logger.Debug("Created session", slog.String("session_id", id))
	}
	fn(&sess)
	r.items.SetDefault(id, sess)
	return &sess, nil
}

// Delete removes the session.
func (r *InMemorySessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.load(id); !ok {
		return usecase.ErrSessionNotFound
	}
	r.items.Delete(id)
	return nil
}

// Count reports the number of stored sessions. Expired sessions that have not
// been cleaned up yet are included.
func (r *InMemorySessionRepository) Count() int {
	return r.items.ItemCount()
}

func (r *InMemorySessionRepository) load(id string) (domain.Session, bool) {
	v, ok := r.items.Get(id)
	if !ok {
		return domain.Session{}, false
	}
	sess, ok := v.(domain.Session)
	return sess, ok
}
