package ports

import (
	"context"
	"crypto/x509"
)

// SAML metadata element names used for endpoint lookup.
const (
	ElementSingleSignOnService       = "SingleSignOnService"
	ElementSingleLogoutService       = "SingleLogoutService"
	ElementArtifactResolutionService = "ArtifactResolutionService"
	ElementAssertionConsumerService  = "AssertionConsumerService"
)

// MetadataResolver is the port interface for on-demand resolution of partner
// metadata. Implementations load and cache EntityDescriptors lazily on the
// first reference to an unseen entity id; a failed load is logged and leaves
// the entity unresolved rather than failing the caller.
type MetadataResolver interface {
	// Resolve loads and caches the entity's descriptor if it is not cached
	// yet. A no-op for already-cached entities. The returned error is
	// informational; lookup methods degrade to empty results on their own.
	Resolve(ctx context.Context, entityID string) error

	// Location returns the Location attribute of the role descriptor child
	// element matching elementName whose Binding equals bindingName, or ""
	// if the entity cannot be resolved or no element matches.
	Location(ctx context.Context, entityID, elementName, bindingName string) string

	// ResponseLocation is Location for the ResponseLocation attribute.
	ResponseLocation(ctx context.Context, entityID, elementName, bindingName string) string

	// SigningCertificate returns the first X.509 certificate of a key
	// descriptor with use="signing", or nil if unresolvable.
	SigningCertificate(ctx context.Context, entityID string) *x509.Certificate

	// List returns the cached entity ids. Operational use only.
	List() []string

	// Remove drops a cached entity, forcing a fresh load on next reference.
	// Returns true if the entity was cached. Operational use only.
	Remove(entityID string) bool
}
