package domain

import "time"

// Session-sync message encodings a partner may require.
const (
	SyncMessageSAML  = "saml"
	SyncMessageXACML = "xacml"
)

// PartnerData is the static, configuration-derived record for one federation
// partner. It is read-only after load; protocol execution never mutates it.
type PartnerData struct {
	// EntityID is the partner's SAML entity id.
	EntityID string

	// MetadataSource is a local file path or an http(s) URL serving the
	// partner's EntityDescriptor.
	MetadataSource string

	// SessionSyncURL is the partner endpoint for session-liveness pushes.
	SessionSyncURL string

	// LocalIssuer is the entity id this server presents to the partner.
	LocalIssuer string

	// ACSIndex and AttributeConsumerIndex select endpoints in the partner's
	// metadata.
	ACSIndex               int
	AttributeConsumerIndex int

	// SignRequests controls whether outbound requests to this partner carry
	// an XML signature. Responses are always signed regardless.
	SignRequests bool

	// LogoutBinding selects front-channel redirect or back-channel SOAP for
	// logout messages sent to this partner.
	LogoutBinding string

	// SessionSyncInterval is how often partner-side liveness must be
	// reconfirmed.
	SessionSyncInterval time.Duration

	// SessionSyncMessage selects SyncMessageSAML or SyncMessageXACML.
	SessionSyncMessage string
}
