// Package aselect implements a federated single sign-on server: ticket
// granting ticket lifecycle management plus the SAML2 federation protocol
// surface (logout and session synchronization).
//
// The root package re-exports the domain model and service entry points;
// the implementation lives under internal/ in a ports and adapters layout.
package aselect

import (
	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
	"github.com/renait/aselect-sub006/internal/core/services"
)

// Re-export the domain model
type Ticket = domain.Ticket
type AuthSession = domain.AuthSession
type UserSsoSession = domain.UserSsoSession
type ServiceProvider = domain.ServiceProvider
type PartnerData = domain.PartnerData
type Window = domain.Window
type LevelOverrides = domain.LevelOverrides

// Re-export the driven ports for embedding applications that bring their
// own adapters
type TicketStore = ports.TicketStore
type SessionStore = ports.SessionStore
type MetadataResolver = ports.MetadataResolver
type XMLSigner = ports.XMLSigner
type XMLVerifier = ports.XMLVerifier
type SOAPClient = ports.SOAPClient
type Clock = ports.Clock

// Re-export the services
type Issuer = services.Issuer
type IssuerConfig = services.IssuerConfig
type IssueRequest = services.IssueRequest
type IssueResult = services.IssueResult
type LogoutService = services.LogoutService
type LogoutConfig = services.LogoutConfig
type SessionSyncService = services.SessionSyncService
type SyncConfig = services.SyncConfig

var (
	NewUserSsoSession      = domain.NewUserSsoSession
	CompareOldTicketLevels = domain.CompareOldTicketLevels
	NewIssuer              = services.NewIssuer
	NewLogoutService       = services.NewLogoutService
	NewSessionSyncService  = services.NewSessionSyncService
)

// Cookie names of the credential interface
const (
	CredentialsCookieName = services.CredentialsCookieName
	SSONameCookieName     = services.SSONameCookieName
)
