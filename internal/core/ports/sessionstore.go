package ports

import (
	"errors"

	"github.com/renait/aselect-sub006/internal/core/domain"
)

// SessionStore is the port interface for the ephemeral pre-auth session
// store, keyed by request id. Entries live only for the duration of an
// authentication flow.
type SessionStore interface {
	// Put stores a session under its RID.
	Put(session *domain.AuthSession) error

	// Get retrieves a copy of the session. Returns ErrSessionNotFound if
	// the rid is unknown or the session has expired.
	Get(rid string) (*domain.AuthSession, error)

	// Delete removes the session. Deleting an absent rid is a no-op.
	Delete(rid string)
}

// ErrSessionNotFound is returned when a session cannot be found or has expired.
var ErrSessionNotFound = errors.New("session not found")
