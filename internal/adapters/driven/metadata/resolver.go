package metadata

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/crewjam/saml"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/renait/aselect-sub006/internal/core/ports"
)

// fetchTimeout bounds the HTTP fetch of remote metadata.
const fetchTimeout = 5 * time.Second

// Source locates the metadata document for one entity: a local file path or
// an http(s) URL.
type Source struct {
	EntityID string
	Location string
}

// entityEntry is what the resolver caches per entity id: the parsed
// descriptor and the preferred SSO role extracted from it.
type entityEntry struct {
	descriptor *saml.EntityDescriptor
	role       roleInfo
}

// roleInfo is the flattened view of the IdP-or-SP role descriptor the lookup
// operations scan. When an entity publishes both roles the IdP role wins.
type roleInfo struct {
	isIDP          bool
	keyDescriptors []saml.KeyDescriptor
	endpoints      map[string][]endpoint
}

// endpoint normalizes saml.Endpoint and saml.IndexedEndpoint.
type endpoint struct {
	binding          string
	location         string
	responseLocation string
}

// Resolver loads, parses and caches partner EntityDescriptors on demand.
// Cache entries expire so rotated partner signing keys are picked up without
// operator intervention; Remove forces an immediate reload. First
// resolutions of the same entity are collapsed to a single fetch.
type Resolver struct {
	sources    map[string]string
	defaultSrc string // wildcard source for partners not listed explicitly
	cache      *gocache.Cache
	group      singleflight.Group
	httpClient *http.Client
	logger     *zap.Logger
	metrics    ports.MetricsRecorder
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. A nil logger means silent.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m ports.MetricsRecorder) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithHTTPClient overrides the HTTP client. For testing.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// NewResolver creates a resolver for the given per-entity sources.
// defaultSource, when non-empty, serves any entity id without an explicit
// source. Cached entries expire after cacheTTL; cacheTTL <= 0 disables
// expiry.
func NewResolver(sources []Source, defaultSource string, cacheTTL time.Duration, opts ...Option) *Resolver {
	srcMap := make(map[string]string, len(sources))
	for _, s := range sources {
		srcMap[s.EntityID] = s.Location
	}
	ttl := cacheTTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	r := &Resolver{
		sources:    srcMap,
		defaultSrc: defaultSource,
		cache:      gocache.New(ttl, 10*time.Minute),
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads and caches the entity's descriptor if not cached yet.
func (r *Resolver) Resolve(ctx context.Context, entityID string) error {
	_, err := r.entry(ctx, entityID)
	return err
}

// entry returns the cached entry, resolving on first access. Concurrent
// first accesses to the same entity share one fetch.
func (r *Resolver) entry(ctx context.Context, entityID string) (*entityEntry, error) {
	if v, ok := r.cache.Get(entityID); ok {
		return v.(*entityEntry), nil
	}

	v, err, _ := r.group.Do(entityID, func() (interface{}, error) {
		// Re-check: another caller may have populated the cache while we
		// queued on the group.
		if v, ok := r.cache.Get(entityID); ok {
			return v, nil
		}
		e, err := r.load(ctx, entityID)
		if err != nil {
			return nil, err
		}
		r.cache.SetDefault(entityID, e)
		return e, nil
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("metadata resolution failed",
				zap.String("entity_id", entityID),
				zap.Error(err))
		}
		return nil, err
	}
	return v.(*entityEntry), nil
}

// load fetches and parses the entity's metadata document.
func (r *Resolver) load(ctx context.Context, entityID string) (*entityEntry, error) {
	location, ok := r.sources[entityID]
	if !ok {
		location = r.defaultSrc
	}
	if location == "" {
		return nil, fmt.Errorf("no metadata source configured for %q", entityID)
	}

	sourceKind := "file"
	var data []byte
	var err error
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		sourceKind = "url"
		data, err = r.fetch(ctx, location)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordMetadataResolve(sourceKind, false)
		}
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	var descriptor saml.EntityDescriptor
	if err := xml.Unmarshal(data, &descriptor); err != nil {
		if r.metrics != nil {
			r.metrics.RecordMetadataResolve(sourceKind, false)
		}
		return nil, fmt.Errorf("parse metadata: %w", err)
	}

	role, err := extractRole(&descriptor)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordMetadataResolve(sourceKind, false)
		}
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.RecordMetadataResolve(sourceKind, true)
	}
	if r.logger != nil {
		r.logger.Info("metadata resolved",
			zap.String("entity_id", entityID),
			zap.String("source", location),
			zap.Bool("idp_role", role.isIDP))
	}
	return &entityEntry{descriptor: &descriptor, role: role}, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metadata: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// extractRole picks the SSO role descriptor, preferring IdP over SP.
func extractRole(d *saml.EntityDescriptor) (roleInfo, error) {
	if len(d.IDPSSODescriptors) > 0 {
		idp := &d.IDPSSODescriptors[0]
		eps := map[string][]endpoint{
			ports.ElementSingleSignOnService:       flatten(idp.SingleSignOnServices),
			ports.ElementSingleLogoutService:       flatten(idp.SingleLogoutServices),
			ports.ElementArtifactResolutionService: flatten(idp.ArtifactResolutionServices),
		}
		return roleInfo{isIDP: true, keyDescriptors: idp.KeyDescriptors, endpoints: eps}, nil
	}
	if len(d.SPSSODescriptors) > 0 {
		sp := &d.SPSSODescriptors[0]
		eps := map[string][]endpoint{
			ports.ElementSingleLogoutService:       flatten(sp.SingleLogoutServices),
			ports.ElementAssertionConsumerService:  flattenIndexed(sp.AssertionConsumerServices),
			ports.ElementArtifactResolutionService: flattenIndexed(sp.ArtifactResolutionServices),
		}
		return roleInfo{isIDP: false, keyDescriptors: sp.KeyDescriptors, endpoints: eps}, nil
	}
	return roleInfo{}, fmt.Errorf("entity %q has no IdP or SP role descriptor", d.EntityID)
}

func flatten(eps []saml.Endpoint) []endpoint {
	out := make([]endpoint, 0, len(eps))
	for _, e := range eps {
		out = append(out, endpoint{
			binding:          e.Binding,
			location:         e.Location,
			responseLocation: e.ResponseLocation,
		})
	}
	return out
}

func flattenIndexed(eps []saml.IndexedEndpoint) []endpoint {
	out := make([]endpoint, 0, len(eps))
	for _, e := range eps {
		ep := endpoint{binding: e.Binding, location: e.Location}
		if e.ResponseLocation != nil {
			ep.responseLocation = *e.ResponseLocation
		}
		out = append(out, ep)
	}
	return out
}

// Location returns the Location of the matching role descriptor element.
func (r *Resolver) Location(ctx context.Context, entityID, elementName, bindingName string) string {
	if ep := r.lookup(ctx, entityID, elementName, bindingName); ep != nil {
		return ep.location
	}
	return ""
}

// ResponseLocation returns the ResponseLocation of the matching element.
func (r *Resolver) ResponseLocation(ctx context.Context, entityID, elementName, bindingName string) string {
	if ep := r.lookup(ctx, entityID, elementName, bindingName); ep != nil {
		return ep.responseLocation
	}
	return ""
}

func (r *Resolver) lookup(ctx context.Context, entityID, elementName, bindingName string) *endpoint {
	e, err := r.entry(ctx, entityID)
	if err != nil {
		return nil
	}
	for _, ep := range e.role.endpoints[elementName] {
		if ep.binding == bindingName {
			return &ep
		}
	}
	return nil
}

// SigningCertificate returns the first signing certificate of the entity.
func (r *Resolver) SigningCertificate(ctx context.Context, entityID string) *x509.Certificate {
	e, err := r.entry(ctx, entityID)
	if err != nil {
		return nil
	}
	for _, kd := range e.role.keyDescriptors {
		if kd.Use != "" && kd.Use != "signing" {
			continue
		}
		for _, c := range kd.KeyInfo.X509Data.X509Certificates {
			cert, err := parseCertificate(c.Data)
			if err != nil {
				if r.logger != nil {
					r.logger.Warn("unparseable certificate in metadata",
						zap.String("entity_id", entityID),
						zap.Error(err))
				}
				continue
			}
			return cert
		}
	}
	return nil
}

// parseCertificate decodes the base64 DER certificate data as embedded in
// metadata, tolerating the line breaks and indentation most IdPs emit.
func parseCertificate(data string) (*x509.Certificate, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, data)
	der, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// List returns the cached entity ids.
func (r *Resolver) List() []string {
	items := r.cache.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids
}

// Remove drops a cached entity.
func (r *Resolver) Remove(entityID string) bool {
	_, ok := r.cache.Get(entityID)
	r.cache.Delete(entityID)
	return ok
}

// Ensure Resolver implements ports.MetadataResolver
var _ ports.MetadataResolver = (*Resolver)(nil)
