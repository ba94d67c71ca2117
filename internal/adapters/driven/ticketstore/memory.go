package ticketstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

// ticketIDBytes is the entropy of a ticket id. Hex-encoding yields ids of
// twice this length.
const ticketIDBytes = 128

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithLogger sets the logger. A nil logger means silent.
func WithLogger(logger *zap.Logger) Option {
	return func(s *MemoryStore) { s.logger = logger }
}

// WithClock overrides the clock. For testing.
func WithClock(clock ports.Clock) Option {
	return func(s *MemoryStore) { s.clock = clock }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m ports.MetricsRecorder) Option {
	return func(s *MemoryStore) { s.metrics = m }
}

// MemoryStore is the in-memory ticket store. It serializes id generation and
// per-ticket updates under one mutex and maintains a NameID secondary index
// so logout lookups avoid a scan over all live tickets.
type MemoryStore struct {
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
	clock   ports.Clock
	metrics ports.MetricsRecorder

	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	// byNameID holds every live ticket id per NameID. Distinct tickets may
	// share a NameID, so the index must never collapse to a single id.
	byNameID map[string]map[string]struct{}
	counter  uint64
}

// NewMemoryStore creates a ticket store holding at most maxSize tickets,
// each expiring ttl after its last store write. maxSize <= 0 means
// unbounded; ttl <= 0 means tickets never expire.
func NewMemoryStore(maxSize int, ttl time.Duration, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		maxSize:  maxSize,
		ttl:      ttl,
		clock:    ports.RealClock{},
		tickets:  make(map[string]*domain.Ticket),
		byNameID: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create generates a fresh unique id and stores the context under it.
func (s *MemoryStore) Create(_ context.Context, t *domain.Ticket) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()

	if s.maxSize > 0 && len(s.tickets) >= s.maxSize {
		if s.logger != nil {
			s.logger.Warn("ticket store full", zap.Int("max_size", s.maxSize))
		}
		return "", ports.ErrStoreFull
	}

	id, err := s.newIDLocked()
	if err != nil {
		return "", err
	}

	stored := t.Clone()
	stored.ID = id
	if stored.NameID == "" {
		stored.NameID = id
	}
	stored.Timestamp = s.clock.Now()

	s.tickets[id] = stored
	s.indexAddLocked(stored.NameID, id)
	s.counter++

	// Propagate the store-assigned fields to the caller's context.
	t.ID = id
	t.NameID = stored.NameID
	t.Timestamp = stored.Timestamp
	return id, nil
}

// newIDLocked draws random ids until one is unused. Collisions are
// astronomically unlikely at this id size but the check is what guarantees
// the uniqueness invariant.
func (s *MemoryStore) newIDLocked() (string, error) {
	buf := make([]byte, ticketIDBytes)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", domain.InternalError("ticket id generation failed", err)
		}
		id := hex.EncodeToString(buf)
		if _, exists := s.tickets[id]; !exists {
			return id, nil
		}
	}
}

// Get returns a copy of the stored context.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok || s.expiredLocked(t) {
		if ok {
			s.removeLocked(id, "expired")
		}
		return nil, ports.ErrTicketNotFound
	}
	return t.Clone(), nil
}

// Update overwrites the context and bumps its timestamp.
func (s *MemoryStore) Update(ctx context.Context, id string, t *domain.Ticket) bool {
	return s.update(id, t, true)
}

// UpdateQuietly overwrites the context without touching the timestamp.
func (s *MemoryStore) UpdateQuietly(ctx context.Context, id string, t *domain.Ticket) bool {
	return s.update(id, t, false)
}

func (s *MemoryStore) update(id string, t *domain.Ticket, touch bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tickets[id]
	if !ok || s.expiredLocked(old) {
		if s.logger != nil {
			s.logger.Debug("update of absent ticket ignored", zap.String("ticket", abbrev(id)))
		}
		return false
	}

	stored := t.Clone()
	stored.ID = id
	if stored.NameID == "" {
		stored.NameID = old.NameID
	}
	if touch {
		stored.Timestamp = s.clock.Now()
	} else {
		stored.Timestamp = old.Timestamp
	}

	if old.NameID != stored.NameID {
		s.indexDeleteLocked(old.NameID, id)
		s.indexAddLocked(stored.NameID, id)
	}
	s.tickets[id] = stored
	return true
}

// Remove deletes the ticket.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[id]; !ok {
		return ports.ErrTicketNotFound
	}
	s.removeLocked(id, "removed")
	return nil
}

// GetByNameID returns a copy of the most recently written live ticket whose
// NameID matches, via the secondary index.
func (s *MemoryStore) GetByNameID(_ context.Context, nameID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *domain.Ticket
	for id := range s.byNameID[nameID] {
		t, ok := s.tickets[id]
		if !ok || s.expiredLocked(t) {
			continue
		}
		if newest == nil || t.Timestamp.After(newest.Timestamp) {
			newest = t
		}
	}
	if newest == nil {
		return nil, ports.ErrTicketNotFound
	}
	return newest.Clone(), nil
}

// RemoveByNameID deletes every ticket whose NameID matches, via the
// secondary index. A federated subject being logged out must not keep any
// ticket alive under the same NameID.
func (s *MemoryStore) RemoveByNameID(_ context.Context, nameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.byNameID[nameID]))
	for id := range s.byNameID[nameID] {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		s.removeLocked(id, "removed")
	}
	return true
}

// Count returns the number of live tickets.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.tickets)
}

func (s *MemoryStore) removeLocked(id, reason string) {
	if t, ok := s.tickets[id]; ok {
		s.indexDeleteLocked(t.NameID, id)
		delete(s.tickets, id)
		if s.metrics != nil && reason == "expired" {
			s.metrics.RecordTicketRemoved(reason)
		}
	}
}

func (s *MemoryStore) indexAddLocked(nameID, id string) {
	ids, ok := s.byNameID[nameID]
	if !ok {
		ids = make(map[string]struct{}, 1)
		s.byNameID[nameID] = ids
	}
	ids[id] = struct{}{}
}

func (s *MemoryStore) indexDeleteLocked(nameID, id string) {
	ids, ok := s.byNameID[nameID]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.byNameID, nameID)
	}
}

func (s *MemoryStore) expiredLocked(t *domain.Ticket) bool {
	if s.ttl <= 0 {
		return false
	}
	return !s.clock.Now().Before(t.Timestamp.Add(s.ttl))
}

// expireLocked sweeps expired tickets. Called on Create and Count so a full
// store of stale tickets never blocks new issuance.
func (s *MemoryStore) expireLocked() {
	if s.ttl <= 0 {
		return
	}
	for id, t := range s.tickets {
		if s.expiredLocked(t) {
			s.removeLocked(id, "expired")
		}
	}
}

// abbrev shortens a ticket id for logging. Full ids never reach logs.
func abbrev(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// Ensure MemoryStore implements ports.TicketStore
var _ ports.TicketStore = (*MemoryStore)(nil)
