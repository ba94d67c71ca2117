package ports

import (
	"context"
	"errors"

	"github.com/renait/aselect-sub006/internal/core/domain"
)

// TicketStore is the port interface for ticket persistence. Implementations
// must serialize id generation (uniqueness check-then-insert) and in-place
// updates of the same ticket id; operations on distinct tickets are
// independent.
type TicketStore interface {
	// Create generates a unique ticket id, stores the context under it and
	// returns the id. NameID defaults to the id when absent. Returns
	// ErrStoreFull when the store's capacity is exhausted.
	Create(ctx context.Context, t *domain.Ticket) (string, error)

	// Get returns a copy of the stored context, or ErrTicketNotFound.
	Get(ctx context.Context, id string) (*domain.Ticket, error)

	// Update overwrites the context atomically and bumps its store
	// timestamp. Returns false if the id is currently absent; failures are
	// logged by the implementation and reported as false, never raised.
	Update(ctx context.Context, id string, t *domain.Ticket) bool

	// UpdateQuietly is Update without the timestamp bump. Used by session
	// synchronization, whose own SessionSyncTime write must not look like
	// ticket activity.
	UpdateQuietly(ctx context.Context, id string, t *domain.Ticket) bool

	// Remove deletes the ticket. Returns ErrTicketNotFound if absent.
	Remove(ctx context.Context, id string) error

	// GetByNameID returns a copy of the most recently written ticket whose
	// NameID matches, or ErrTicketNotFound. Logout fan-out needs the
	// ticket's SSO session before the ticket goes away.
	GetByNameID(ctx context.Context, nameID string) (*domain.Ticket, error)

	// RemoveByNameID deletes every ticket whose NameID matches. Returns
	// true if at least one was found.
	RemoveByNameID(ctx context.Context, nameID string) bool

	// Count returns the number of live tickets.
	Count(ctx context.Context) int
}

// ErrTicketNotFound is returned when a ticket id is not in the store.
var ErrTicketNotFound = errors.New("ticket not found")

// ErrStoreFull is returned when the store's maximum size is reached.
var ErrStoreFull = errors.New("ticket store full")
