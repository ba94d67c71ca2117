package domain

import (
	"time"
)

// Ticket is a Ticket-Granting-Ticket context: the server-side record of an
// authenticated browser session. It is referenced by an opaque hex id handed
// to the browser and is exclusively owned by the ticket store once created.
//
// The well-known fields the protocol logic branches on are typed; anything
// else travels opaquely in Ext so the schema stays open for partner-specific
// attributes.
type Ticket struct {
	// ID is the ticket id, unique within the store at all times.
	ID string

	// RID correlates the ticket to the originating authentication request.
	RID string

	// UID is the authenticated user identifier.
	UID string

	// Organization the user authenticated for.
	Organization string

	// ProxyOrganization is set on cross-domain issuance when the
	// authenticating remote party differs from the user's home organization.
	ProxyOrganization string

	// AuthSP identifies the first-factor method that authenticated the user.
	AuthSP string

	// AuthSPLevel is the trust level actually reached by the AuthSP.
	AuthSPLevel int

	// SelLevel is the selected trust level. Never below AuthSPLevel after
	// issuance.
	SelLevel int

	// AppLevel is the level required by the requesting application.
	AppLevel int

	// AppID is the requesting application.
	AppID string

	// NameID is the federation-assigned subject identifier. Defaults to the
	// ticket id when the federation did not assign one.
	NameID string

	// FederationURL is the partner endpoint for session synchronization.
	FederationURL string

	// SessionSyncTime is the instant of the last confirmed partner-side
	// session liveness. Zero before the first sync.
	SessionSyncTime time.Time

	// Timestamp is maintained by the ticket store: the instant of the last
	// store write, used for expiry.
	Timestamp time.Time

	// SsoSession tracks the federation partners this subject is signed into,
	// for single-logout fan-out. Owned by this ticket; may be nil.
	SsoSession *UserSsoSession

	// ClientIP is the address the authentication was performed from.
	ClientIP string

	// Language is the user's interface language.
	Language string

	// ResultCode is set on error tickets issued for failed authentications.
	ResultCode string

	// SPAssertURL and SPReqBinding are copied opaquely from the pre-auth
	// session for service-provider flows.
	SPAssertURL  string
	SPReqBinding string

	// Ext holds attributes with no typed field, copied verbatim between
	// session and ticket.
	Ext map[string]string
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate a stored context without going through Update.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.SsoSession != nil {
		cp.SsoSession = t.SsoSession.Clone()
	}
	if t.Ext != nil {
		cp.Ext = make(map[string]string, len(t.Ext))
		for k, v := range t.Ext {
			cp.Ext[k] = v
		}
	}
	return &cp
}

// LevelOverrides carries the level fields of an old ticket that exceed the
// corresponding fields of a new one. Zero values mean "no override".
type LevelOverrides struct {
	AuthSPLevel int
	SelLevel    int
	AppLevel    int
}

// CompareOldTicketLevels returns the fields where old exceeds new. Applying
// the result to the new ticket makes trust levels monotonic non-decreasing
// across merges.
func CompareOldTicketLevels(old, new *Ticket) LevelOverrides {
	var o LevelOverrides
	if old.AuthSPLevel > new.AuthSPLevel {
		o.AuthSPLevel = old.AuthSPLevel
	}
	if old.SelLevel > new.SelLevel {
		o.SelLevel = old.SelLevel
	}
	if old.AppLevel > new.AppLevel {
		o.AppLevel = old.AppLevel
	}
	return o
}

// Apply raises t's levels to the overrides. Zero override fields are ignored.
func (o LevelOverrides) Apply(t *Ticket) {
	if o.AuthSPLevel > t.AuthSPLevel {
		t.AuthSPLevel = o.AuthSPLevel
	}
	if o.SelLevel > t.SelLevel {
		t.SelLevel = o.SelLevel
	}
	if o.AppLevel > t.AppLevel {
		t.AppLevel = o.AppLevel
	}
}

// NormalizeSelLevel corrects SelLevel upward so the selected level can never
// fall below the level actually reached by the AuthSP.
func (t *Ticket) NormalizeSelLevel() {
	if t.SelLevel < t.AuthSPLevel {
		t.SelLevel = t.AuthSPLevel
	}
}
