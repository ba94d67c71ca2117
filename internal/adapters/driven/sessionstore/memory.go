package sessionstore

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

// MemoryStore holds pre-auth sessions keyed by rid. Entries expire on their
// own after the configured lifetime; an authentication attempt that never
// completes does not need explicit cleanup.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates a session store whose entries expire lifetime after
// creation.
func NewMemoryStore(lifetime time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(lifetime, lifetime),
	}
}

// Put stores a session under its RID.
func (s *MemoryStore) Put(session *domain.AuthSession) error {
	if session.RID == "" {
		return domain.BadRequestError("session has no rid")
	}
	s.cache.SetDefault(session.RID, session.Clone())
	return nil
}

// Get retrieves a copy of the session.
func (s *MemoryStore) Get(rid string) (*domain.AuthSession, error) {
	v, ok := s.cache.Get(rid)
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	return v.(*domain.AuthSession).Clone(), nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(rid string) {
	s.cache.Delete(rid)
}

// Ensure MemoryStore implements ports.SessionStore
var _ ports.SessionStore = (*MemoryStore)(nil)
