// Package config loads and validates the server's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/renait/aselect-sub006/internal/core/domain"
)

// Config holds the full server configuration.
type Config struct {
	// ServerID is the a-select-server identifier presented in redirects.
	ServerID string `yaml:"server_id"`

	// EntityID is the SAML entity id this server presents to partners.
	EntityID string `yaml:"entity_id"`

	// Listen is the HTTP listen address. Defaults to ":8080".
	Listen string `yaml:"listen,omitempty"`

	// CookieDomain scopes the credentials cookie. Empty means host-only.
	CookieDomain string `yaml:"cookie_domain,omitempty"`

	// KeyFile is the path to the server's signing key (PEM).
	KeyFile string `yaml:"key_file"`

	// CertFile is the path to the server's signing certificate (PEM).
	CertFile string `yaml:"cert_file"`

	// KeyName, when set, is embedded as KeyName in outbound XML signatures.
	KeyName string `yaml:"key_name,omitempty"`

	SSO      SSOConfig      `yaml:"sso,omitempty"`
	Tickets  TicketConfig   `yaml:"tickets,omitempty"`
	Sessions SessionConfig  `yaml:"sessions,omitempty"`
	Metadata MetadataConfig `yaml:"metadata,omitempty"`

	// AuthSPLevels maps authentication provider ids to their level.
	AuthSPLevels map[string]int `yaml:"authsp_levels,omitempty"`

	// PrivilegedLevel is the level assigned to providers absent from
	// AuthSPLevels. Zero disables the fallback.
	PrivilegedLevel int `yaml:"privileged_level,omitempty"`

	// OnBehalfOf configures the per-application on-behalf-of step.
	OnBehalfOf map[string]OBOConfig `yaml:"on_behalf_of,omitempty"`

	// StoreCookieURL receives the HMAC-protected previous-session push.
	StoreCookieURL string `yaml:"store_cookie_url,omitempty"`

	// StoreCookieSecret keys the previous-session push HMAC.
	StoreCookieSecret string `yaml:"store_cookie_secret,omitempty"`

	// Partners lists the federation partners by entity id.
	Partners []PartnerConfig `yaml:"partners,omitempty"`
}

// SSOConfig controls single sign-on cookie behavior.
type SSOConfig struct {
	// Enabled turns the credentials cookie on.
	Enabled bool `yaml:"enabled,omitempty"`

	// NameCookie enables the ssoname display-name cookie.
	NameCookie bool `yaml:"name_cookie,omitempty"`
}

// OBOConfig configures the on-behalf-of flow for one application.
type OBOConfig struct {
	Enabled bool `yaml:"enabled"`

	// FirstStep is the step index the flow starts at.
	FirstStep int `yaml:"first_step,omitempty"`
}

// TicketConfig configures the ticket granting ticket store.
type TicketConfig struct {
	// Store selects "memory" (default) or "redis".
	Store string `yaml:"store,omitempty"`

	// RedisAddr is the redis address when Store is "redis".
	RedisAddr string `yaml:"redis_addr,omitempty"`

	// TTL is the ticket lifetime, e.g. "8h". Defaults to "8h".
	TTL string `yaml:"ttl,omitempty"`

	// MaxCount caps concurrent tickets. Zero means unlimited.
	MaxCount int `yaml:"max_count,omitempty"`
}

// SessionConfig configures the pending authentication session store.
type SessionConfig struct {
	// TTL is the pending session lifetime, e.g. "15m". Defaults to "15m".
	TTL string `yaml:"ttl,omitempty"`
}

// MetadataConfig configures metadata resolution.
type MetadataConfig struct {
	// Default is a wildcard metadata source used for unknown entities.
	Default string `yaml:"default,omitempty"`

	// CacheTTL is how long resolved descriptors stay cached, e.g. "4h".
	// Defaults to "4h".
	CacheTTL string `yaml:"cache_ttl,omitempty"`
}

// PartnerConfig is the YAML form of one federation partner.
type PartnerConfig struct {
	// EntityID is the partner's SAML entity id (required).
	EntityID string `yaml:"entity_id"`

	// Metadata is a file path or http(s) URL for the partner's descriptor.
	Metadata string `yaml:"metadata,omitempty"`

	// SessionSyncURL overrides the endpoint for session liveness pushes.
	SessionSyncURL string `yaml:"session_sync_url,omitempty"`

	// LocalIssuer overrides the issuer presented to this partner.
	LocalIssuer string `yaml:"local_issuer,omitempty"`

	// ACSIndex and AttributeConsumerIndex select indexed endpoints in the
	// partner's metadata.
	ACSIndex               int `yaml:"acs_index,omitempty"`
	AttributeConsumerIndex int `yaml:"attribute_consumer_index,omitempty"`

	// SignRequests controls XML signatures on outbound requests.
	SignRequests bool `yaml:"sign_requests,omitempty"`

	// LogoutBinding selects "soap" (default) or "redirect".
	LogoutBinding string `yaml:"logout_binding,omitempty"`

	// SessionSyncInterval is how often liveness must be reconfirmed,
	// e.g. "10m". Empty disables syncing for this partner.
	SessionSyncInterval string `yaml:"session_sync_interval,omitempty"`

	// SessionSyncMessage selects "saml" (default) or "xacml".
	SessionSyncMessage string `yaml:"session_sync_message,omitempty"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("reading %s: %v", path, err))
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("parsing %s: %v", path, err))
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Tickets.Store == "" {
		c.Tickets.Store = "memory"
	}
	if c.Tickets.TTL == "" {
		c.Tickets.TTL = "8h"
	}
	if c.Sessions.TTL == "" {
		c.Sessions.TTL = "15m"
	}
	if c.Metadata.CacheTTL == "" {
		c.Metadata.CacheTTL = "4h"
	}
	for i := range c.Partners {
		if c.Partners[i].LogoutBinding == "" {
			c.Partners[i].LogoutBinding = "soap"
		}
		if c.Partners[i].SessionSyncMessage == "" {
			c.Partners[i].SessionSyncMessage = domain.SyncMessageSAML
		}
	}
}

// Validate checks the configuration and returns a ConfigError describing
// the first problem found.
func (c *Config) Validate() error {
	if c.ServerID == "" {
		return domain.ConfigError("server_id is required")
	}
	if c.EntityID == "" {
		return domain.ConfigError("entity_id is required")
	}
	if c.KeyFile == "" || c.CertFile == "" {
		return domain.ConfigError("key_file and cert_file are required")
	}
	if c.Tickets.Store != "memory" && c.Tickets.Store != "redis" {
		return domain.ConfigError(fmt.Sprintf("tickets.store %q: must be memory or redis", c.Tickets.Store))
	}
	if c.Tickets.Store == "redis" && c.Tickets.RedisAddr == "" {
		return domain.ConfigError("tickets.redis_addr is required for the redis store")
	}
	if _, err := time.ParseDuration(c.Tickets.TTL); err != nil {
		return domain.ConfigError(fmt.Sprintf("tickets.ttl %q: %v", c.Tickets.TTL, err))
	}
	if _, err := time.ParseDuration(c.Sessions.TTL); err != nil {
		return domain.ConfigError(fmt.Sprintf("sessions.ttl %q: %v", c.Sessions.TTL, err))
	}
	if _, err := time.ParseDuration(c.Metadata.CacheTTL); err != nil {
		return domain.ConfigError(fmt.Sprintf("metadata.cache_ttl %q: %v", c.Metadata.CacheTTL, err))
	}
	if c.StoreCookieURL != "" && c.StoreCookieSecret == "" {
		return domain.ConfigError("store_cookie_secret is required when store_cookie_url is set")
	}
	seen := map[string]bool{}
	for i, p := range c.Partners {
		if p.EntityID == "" {
			return domain.ConfigError(fmt.Sprintf("partners[%d]: entity_id is required", i))
		}
		if seen[p.EntityID] {
			return domain.ConfigError(fmt.Sprintf("partners[%d]: duplicate entity_id %q", i, p.EntityID))
		}
		seen[p.EntityID] = true
		if p.LogoutBinding != "soap" && p.LogoutBinding != "redirect" {
			return domain.ConfigError(fmt.Sprintf("partners[%d]: logout_binding %q: must be soap or redirect", i, p.LogoutBinding))
		}
		if p.SessionSyncMessage != domain.SyncMessageSAML && p.SessionSyncMessage != domain.SyncMessageXACML {
			return domain.ConfigError(fmt.Sprintf("partners[%d]: session_sync_message %q: must be saml or xacml", i, p.SessionSyncMessage))
		}
		if p.SessionSyncInterval != "" {
			if _, err := time.ParseDuration(p.SessionSyncInterval); err != nil {
				return domain.ConfigError(fmt.Sprintf("partners[%d]: session_sync_interval %q: %v", i, p.SessionSyncInterval, err))
			}
		}
	}
	return nil
}

// TicketTTL returns the parsed ticket lifetime.
func (c *Config) TicketTTL() time.Duration {
	d, _ := time.ParseDuration(c.Tickets.TTL)
	return d
}

// SessionTTL returns the parsed pending session lifetime.
func (c *Config) SessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Sessions.TTL)
	return d
}

// MetadataCacheTTL returns the parsed metadata cache lifetime.
func (c *Config) MetadataCacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Metadata.CacheTTL)
	return d
}

// AuthSPLevel looks up the configured level for an authentication provider.
func (c *Config) AuthSPLevel(authSP string) (int, bool) {
	level, ok := c.AuthSPLevels[authSP]
	return level, ok
}

// Partner looks up a partner record by entity id.
func (c *Config) Partner(entityID string) (domain.PartnerData, bool) {
	for _, p := range c.Partners {
		if p.EntityID == entityID {
			return p.Data(), true
		}
	}
	return domain.PartnerData{}, false
}

// PartnerMap converts all partner records to their domain form, keyed by
// entity id.
func (c *Config) PartnerMap() map[string]domain.PartnerData {
	out := make(map[string]domain.PartnerData, len(c.Partners))
	for _, p := range c.Partners {
		out[p.EntityID] = p.Data()
	}
	return out
}

// Data converts the YAML partner record to its domain form.
func (p PartnerConfig) Data() domain.PartnerData {
	interval, _ := time.ParseDuration(p.SessionSyncInterval)
	binding := "urn:oasis:names:tc:SAML:2.0:bindings:SOAP"
	if p.LogoutBinding == "redirect" {
		binding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
	}
	return domain.PartnerData{
		EntityID:               p.EntityID,
		MetadataSource:         p.Metadata,
		SessionSyncURL:         p.SessionSyncURL,
		LocalIssuer:            p.LocalIssuer,
		ACSIndex:               p.ACSIndex,
		AttributeConsumerIndex: p.AttributeConsumerIndex,
		SignRequests:           p.SignRequests,
		LogoutBinding:          binding,
		SessionSyncInterval:    interval,
		SessionSyncMessage:     p.SessionSyncMessage,
	}
}
