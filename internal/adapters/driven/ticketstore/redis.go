package ticketstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

const (
	ticketKeyPrefix = "tgt:"
	nameIDKeyPrefix = "tgt:nameid:"
)

// RedisStore is a ticket store backed by redis, for deployments where
// several server nodes share one ticket space. Per-ticket serialization
// relies on redis transactions (WATCH on the ticket key); the NameID index
// is a set of ticket ids per NameID, since distinct tickets may share one.
type RedisStore struct {
	client  *rdb.Client
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisStore creates a redis-backed ticket store.
func NewRedisStore(addr string, db int, maxSize int, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:  rdb.NewClient(&rdb.Options{Addr: addr, DB: db}),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
	}
}

// Create generates a fresh unique id and stores the serialized context.
func (s *RedisStore) Create(ctx context.Context, t *domain.Ticket) (string, error) {
	if s.maxSize > 0 && s.Count(ctx) >= s.maxSize {
		return "", ports.ErrStoreFull
	}

	buf := make([]byte, ticketIDBytes)
	var id string
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", domain.InternalError("ticket id generation failed", err)
		}
		id = hex.EncodeToString(buf)

		stored := t.Clone()
		stored.ID = id
		if stored.NameID == "" {
			stored.NameID = id
		}
		stored.Timestamp = time.Now()

		data, err := json.Marshal(stored)
		if err != nil {
			return "", domain.InternalError("ticket serialization failed", err)
		}

		// SetNX is the uniqueness check-then-insert in one round trip.
		ok, err := s.client.SetNX(ctx, ticketKeyPrefix+id, data, s.ttl).Result()
		if err != nil {
			return "", domain.InternalError("ticket store write failed", err)
		}
		if ok {
			s.client.SAdd(ctx, nameIDKeyPrefix+stored.NameID, id)
			s.client.Expire(ctx, nameIDKeyPrefix+stored.NameID, s.ttl)
			t.ID = id
			t.NameID = stored.NameID
			t.Timestamp = stored.Timestamp
			return id, nil
		}
	}
}

// Get returns the stored context.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	data, err := s.client.Get(ctx, ticketKeyPrefix+id).Bytes()
	if err != nil {
		return nil, ports.ErrTicketNotFound
	}
	var t domain.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		if s.logger != nil {
			s.logger.Error("stored ticket unreadable", zap.Error(err))
		}
		return nil, ports.ErrTicketNotFound
	}
	return &t, nil
}

// Update overwrites the context, refreshing its TTL.
func (s *RedisStore) Update(ctx context.Context, id string, t *domain.Ticket) bool {
	return s.update(ctx, id, t, true)
}

// UpdateQuietly overwrites the context, preserving the remaining TTL.
func (s *RedisStore) UpdateQuietly(ctx context.Context, id string, t *domain.Ticket) bool {
	return s.update(ctx, id, t, false)
}

func (s *RedisStore) update(ctx context.Context, id string, t *domain.Ticket, touch bool) bool {
	key := ticketKeyPrefix + id

	err := s.client.Watch(ctx, func(tx *rdb.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var old domain.Ticket
		if err := json.Unmarshal(data, &old); err != nil {
			return err
		}

		stored := t.Clone()
		stored.ID = id
		if stored.NameID == "" {
			stored.NameID = old.NameID
		}
		if touch {
			stored.Timestamp = time.Now()
		} else {
			stored.Timestamp = old.Timestamp
		}

		out, err := json.Marshal(stored)
		if err != nil {
			return err
		}

		ttl := s.ttl
		if !touch {
			remaining, err := tx.TTL(ctx, key).Result()
			if err == nil && remaining > 0 {
				ttl = remaining
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			if old.NameID != stored.NameID {
				pipe.SRem(ctx, nameIDKeyPrefix+old.NameID, id)
			}
			pipe.SAdd(ctx, nameIDKeyPrefix+stored.NameID, id)
			pipe.Expire(ctx, nameIDKeyPrefix+stored.NameID, ttl)
			return nil
		})
		return err
	}, key)

	if err != nil {
		if s.logger != nil && err != rdb.Nil {
			s.logger.Warn("ticket update failed", zap.Error(err))
		}
		return false
	}
	return true
}

// Remove deletes the ticket and its NameID index entry.
func (s *RedisStore) Remove(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return ports.ErrTicketNotFound
	}
	s.client.Del(ctx, ticketKeyPrefix+id)
	s.client.SRem(ctx, nameIDKeyPrefix+t.NameID, id)
	return nil
}

// GetByNameID returns the most recently written ticket whose NameID matches.
func (s *RedisStore) GetByNameID(ctx context.Context, nameID string) (*domain.Ticket, error) {
	ids, err := s.client.SMembers(ctx, nameIDKeyPrefix+nameID).Result()
	if err != nil || len(ids) == 0 {
		return nil, ports.ErrTicketNotFound
	}
	var newest *domain.Ticket
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			// The ticket key expired ahead of its index entry.
			s.client.SRem(ctx, nameIDKeyPrefix+nameID, id)
			continue
		}
		if newest == nil || t.Timestamp.After(newest.Timestamp) {
			newest = t
		}
	}
	if newest == nil {
		return nil, ports.ErrTicketNotFound
	}
	return newest, nil
}

// RemoveByNameID deletes every ticket whose NameID matches.
func (s *RedisStore) RemoveByNameID(ctx context.Context, nameID string) bool {
	ids, err := s.client.SMembers(ctx, nameIDKeyPrefix+nameID).Result()
	if err != nil || len(ids) == 0 {
		return false
	}
	removed := false
	for _, id := range ids {
		deleted, err := s.client.Del(ctx, ticketKeyPrefix+id).Result()
		if err == nil && deleted > 0 {
			removed = true
		}
	}
	s.client.Del(ctx, nameIDKeyPrefix+nameID)
	return removed
}

// Count returns the approximate number of live tickets.
func (s *RedisStore) Count(ctx context.Context) int {
	var count int
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, ticketKeyPrefix+"*", 1000).Result()
		if err != nil {
			return count
		}
		for _, k := range keys {
			if len(k) == len(ticketKeyPrefix)+2*ticketIDBytes {
				count++
			}
		}
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}

// Ensure RedisStore implements ports.TicketStore
var _ ports.TicketStore = (*RedisStore)(nil)
