package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

// Cookie and query parameter names of the credential interface.
const (
	CredentialsCookieName = "aselect_credentials"
	SSONameCookieName     = "ssoname"
	specialsParam         = "aselect_specials"
)

// IssueStatus is the outcome class of an issuance request.
type IssueStatus int

const (
	// StatusRedirect is the terminal success state: a ticket exists and the
	// user is redirected back to the application.
	StatusRedirect IssueStatus = iota

	// StatusOrgChoice pauses issuance for an organization selection form.
	// Not an error; the session is kept for the follow-up request.
	StatusOrgChoice

	// StatusOBOForm pauses issuance for an on-behalf-of form. The response
	// output is closed while the form is outstanding.
	StatusOBOForm
)

// Cookie describes a cookie the driving adapter must set. The issuer does
// not touch http.ResponseWriter itself.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	HTTPOnly bool
}

// IssueRequest carries the parameters of one issuance attempt.
type IssueRequest struct {
	// RID correlates to the pre-auth session.
	RID string

	// OldTicketID is the ticket from the SSO cookie, if the browser
	// presented one.
	OldTicketID string

	// SelLevelOverride overrides the selected level when > 0. Corrected
	// upward if below the reached authentication level.
	SelLevelOverride int

	// ChosenOrganization resumes a paused organization-choice flow.
	ChosenOrganization string

	// OBOCompleted resumes a paused on-behalf-of flow.
	OBOCompleted bool
}

// IssueResult is the outcome of an issuance attempt.
type IssueResult struct {
	Status IssueStatus

	// TicketID and RedirectURL are set for StatusRedirect.
	TicketID    string
	RedirectURL string
	Cookies     []Cookie

	// Organizations and RID are set for StatusOrgChoice.
	Organizations []string
	RID           string

	// OBOStep is set for StatusOBOForm. OutputClosed marks that no further
	// writes may occur on the paused response.
	OBOStep      int
	OutputClosed bool
}

// OBOConfig is the per-application on-behalf-of policy.
type OBOConfig struct {
	Enabled   bool
	FirstStep int
}

// IssuerConfig is the static configuration of the issuer.
type IssuerConfig struct {
	// ServerID is this server's id, carried in redirects and cookies.
	ServerID string

	// CookieDomain scopes the credential cookie.
	CookieDomain string

	// SSOEnabled controls whether a credential cookie is set at all.
	SSOEnabled bool

	// SSONameCookie additionally exposes the user identifier in a
	// non-HttpOnly cookie for relying pages.
	SSONameCookie bool

	// AuthSPLevels maps each configured AuthSP to its trust level.
	AuthSPLevels map[string]int

	// PrivilegedLevel is the level granted to privileged AuthSPs that are
	// not present in AuthSPLevels.
	PrivilegedLevel int

	// OBO holds the per-application on-behalf-of policies.
	OBO map[string]OBOConfig

	// StoreCookieURL and StoreCookieSecret configure the partner AuthSP
	// "storecookie" push. Empty URL disables the push.
	StoreCookieURL    string
	StoreCookieSecret string
}

// Issuer orchestrates ticket creation and merge: the
// issuance state machine from session validation through redirect.
//
// Sub-flow precedence is fixed: when both trigger, organization choice is
// presented before on-behalf-of, because the chosen organization decides
// which application policy (including OBO) applies.
type Issuer struct {
	cfg        IssuerConfig
	tickets    ports.TicketStore
	sessions   ports.SessionStore
	metadata   ports.MetadataResolver
	clock      ports.Clock
	logger     *zap.Logger
	metrics    ports.MetricsRecorder
	httpClient *http.Client
}

// NewIssuer creates a ticket issuer.
func NewIssuer(cfg IssuerConfig, tickets ports.TicketStore, sessions ports.SessionStore, metadata ports.MetadataResolver, clock ports.Clock, logger *zap.Logger, metrics ports.MetricsRecorder) *Issuer {
	if clock == nil {
		clock = ports.RealClock{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Issuer{
		cfg:        cfg,
		tickets:    tickets,
		sessions:   sessions,
		metadata:   metadata,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		httpClient: &http.Client{},
	}
}

// IssueTicketAndRedirect runs the issuance state machine for a completed
// local authentication.
func (i *Issuer) IssueTicketAndRedirect(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	session, err := i.sessions.Get(req.RID)
	if err != nil {
		return nil, domain.SessionExpiredError(req.RID)
	}

	if req.ChosenOrganization != "" {
		session.Organization = req.ChosenOrganization
		session.Organizations = []string{req.ChosenOrganization}
		if err := i.sessions.Put(session); err != nil {
			return nil, domain.InternalError("session update failed", err)
		}
	}

	ticket := i.buildTicket(session, req.SelLevelOverride)

	// Organization choice comes before on-behalf-of. The session survives
	// both pauses; only terminal issuance deletes it.
	if session.Organization == "" && len(session.Organizations) > 1 {
		return &IssueResult{
			Status:        StatusOrgChoice,
			Organizations: session.Organizations,
			RID:           req.RID,
		}, nil
	}
	if session.Organization == "" && len(session.Organizations) == 1 {
		session.Organization = session.Organizations[0]
		ticket.Organization = session.Organization
	}

	if obo, ok := i.cfg.OBO[session.AppID]; ok && obo.Enabled && !req.OBOCompleted {
		step := session.OBOStep
		if step == 0 {
			step = obo.FirstStep
		}
		return &IssueResult{
			Status:       StatusOBOForm,
			RID:          req.RID,
			OBOStep:      step,
			OutputClosed: true,
		}, nil
	}

	kind := "new"
	var ticketID string
	if req.OldTicketID != "" && !session.ForcedAuthenticate {
		if old, err := i.tickets.Get(ctx, req.OldTicketID); err == nil {
			ticketID = i.mergeTicket(ctx, old, ticket)
			if ticketID != "" {
				kind = "merge"
			}
		}
	}
	if ticketID == "" {
		ticket.SsoSession = domain.NewUserSsoSession(ticket.UID)
		i.trackServiceProvider(ticket)
		id, err := i.tickets.Create(ctx, ticket)
		if err != nil {
			if err == ports.ErrStoreFull {
				return nil, domain.ServerBusyError()
			}
			return nil, domain.InternalError("ticket creation failed", err)
		}
		ticketID = id
	}
	i.metrics.RecordTicketIssued(kind)

	i.sessions.Delete(req.RID)

	result := &IssueResult{
		Status:      StatusRedirect,
		TicketID:    ticketID,
		RedirectURL: i.buildRedirectURL(session.AppURL, ticketID, req.RID, session.Language),
	}
	if i.cfg.SSOEnabled && !session.ForcedAuthenticate {
		result.Cookies = append(result.Cookies, Cookie{
			Name:     CredentialsCookieName,
			Value:    ticketID,
			Domain:   i.cfg.CookieDomain,
			HTTPOnly: true,
		})
		if i.cfg.SSONameCookie && ticket.UID != "" {
			result.Cookies = append(result.Cookies, Cookie{
				Name:  SSONameCookieName,
				Value: url.QueryEscape(ticket.UID),
				Path:  "/",
			})
		}
		i.PushStoreCookie(ctx, CredentialsCookieName, ticketID, ticketID, ticket.UID)
	}

	if i.logger != nil {
		i.logger.Info("ticket issued",
			zap.String("rid", req.RID),
			zap.String("uid", ticket.UID),
			zap.String("app_id", ticket.AppID),
			zap.String("kind", kind),
			zap.Int("sel_level", ticket.SelLevel))
	}
	return result, nil
}

// buildTicket assembles a ticket context from session fields and applies the
// level rules.
func (i *Issuer) buildTicket(session *domain.AuthSession, selOverride int) *domain.Ticket {
	level, ok := i.cfg.AuthSPLevels[session.AuthSP]
	if !ok {
		// Privileged AuthSPs are not listed in the level table; they get
		// the caller-supplied default.
		level = i.cfg.PrivilegedLevel
	}
	if session.AuthSPLevel > level {
		level = session.AuthSPLevel
	}

	t := &domain.Ticket{
		RID:          session.RID,
		UID:          session.UID,
		Organization: session.Organization,
		AuthSP:       session.AuthSP,
		AuthSPLevel:  level,
		SelLevel:     level,
		AppLevel:     session.RequiredLevel,
		AppID:        session.AppID,
		ClientIP:     session.ClientIP,
		Language:     session.Language,
		SPAssertURL:  session.SPAssertURL,
		SPReqBinding: session.SPReqBinding,
	}
	if selOverride > 0 {
		t.SelLevel = selOverride
	}
	t.NormalizeSelLevel()

	if len(session.Ext) > 0 {
		t.Ext = make(map[string]string, len(session.Ext))
		for k, v := range session.Ext {
			t.Ext[k] = v
		}
	}
	return t
}

// trackServiceProvider records the requesting service provider in the
// ticket's SSO session so an IdP-initiated logout can reach it later.
func (i *Issuer) trackServiceProvider(t *domain.Ticket) {
	if t.SsoSession == nil || t.SPAssertURL == "" {
		return
	}
	t.SsoSession.AddServiceProvider(t.SPAssertURL, i.clock.Now())
}

// mergeTicket merges the new context into an existing ticket, keeping the
// old id and never lowering a trust level. Returns "" if the in-place
// update failed (the old ticket vanished concurrently).
func (i *Issuer) mergeTicket(ctx context.Context, old, fresh *domain.Ticket) string {
	overrides := domain.CompareOldTicketLevels(old, fresh)
	overrides.Apply(fresh)
	fresh.NormalizeSelLevel()

	// The federation subject and the logout fan-out list belong to the
	// lifetime of the SSO session, not to one issuance.
	fresh.NameID = old.NameID
	fresh.SsoSession = old.SsoSession
	if fresh.SsoSession == nil {
		fresh.SsoSession = domain.NewUserSsoSession(fresh.UID)
	}
	i.trackServiceProvider(fresh)
	fresh.SessionSyncTime = old.SessionSyncTime

	if !i.tickets.Update(ctx, old.ID, fresh) {
		return ""
	}
	return old.ID
}

// CrossIssueRequest carries a cross-domain issuance: the user authenticated
// at a remote server which hands us its result as a signed credential.
type CrossIssueRequest struct {
	RID string

	// RemoteServerID is the entity id of the remote server; its
	// signing certificate comes from metadata.
	RemoteServerID string

	// RemoteOrganization is the organization the remote server serves.
	RemoteOrganization string

	// Credential is the remote authentication result, a JWT signed by the
	// remote server.
	Credential string
}

// remoteClaims is the claim set of a cross-domain credential.
type remoteClaims struct {
	jwt.RegisteredClaims
	UID           string `json:"uid"`
	Organization  string `json:"organization"`
	AuthSPLevel   int    `json:"authsp_level"`
	NameID        string `json:"name_id"`
	FederationURL string `json:"federation_url"`
	Language      string `json:"language,omitempty"`
}

// IssueCrossTicketAndRedirect issues a ticket from a remote authentication
// result instead of local session state. The context assembly is the same;
// identity fields come from the verified credential.
func (i *Issuer) IssueCrossTicketAndRedirect(ctx context.Context, req CrossIssueRequest) (*IssueResult, error) {
	session, err := i.sessions.Get(req.RID)
	if err != nil {
		return nil, domain.SessionExpiredError(req.RID)
	}

	cert := i.metadata.SigningCertificate(ctx, req.RemoteServerID)
	if cert == nil {
		return nil, domain.SignatureError(
			fmt.Sprintf("no signing certificate for remote server %q", req.RemoteServerID), nil)
	}

	claims := &remoteClaims{}
	_, err = jwt.ParseWithClaims(req.Credential, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return cert.PublicKey, nil
	})
	if err != nil {
		return nil, domain.SignatureError("remote credential verification failed", err)
	}

	ticket := &domain.Ticket{
		RID:           req.RID,
		UID:           claims.UID,
		Organization:  claims.Organization,
		AuthSPLevel:   claims.AuthSPLevel,
		SelLevel:      claims.AuthSPLevel,
		AppLevel:      session.RequiredLevel,
		AppID:         session.AppID,
		NameID:        claims.NameID,
		FederationURL: claims.FederationURL,
		ClientIP:      session.ClientIP,
		Language:      claims.Language,
	}
	if ticket.Language == "" {
		ticket.Language = session.Language
	}
	if req.RemoteOrganization != "" && req.RemoteOrganization != claims.Organization {
		ticket.ProxyOrganization = req.RemoteOrganization
	}
	ticket.NormalizeSelLevel()
	ticket.SsoSession = domain.NewUserSsoSession(ticket.UID)
	ticket.SPAssertURL = session.SPAssertURL
	i.trackServiceProvider(ticket)

	id, err := i.tickets.Create(ctx, ticket)
	if err != nil {
		if err == ports.ErrStoreFull {
			return nil, domain.ServerBusyError()
		}
		return nil, domain.InternalError("ticket creation failed", err)
	}
	i.metrics.RecordTicketIssued("cross")

	i.sessions.Delete(req.RID)

	result := &IssueResult{
		Status:      StatusRedirect,
		TicketID:    id,
		RedirectURL: i.buildRedirectURL(session.AppURL, id, req.RID, ticket.Language),
	}
	if i.cfg.SSOEnabled {
		result.Cookies = append(result.Cookies, Cookie{
			Name:     CredentialsCookieName,
			Value:    id,
			Domain:   i.cfg.CookieDomain,
			HTTPOnly: true,
		})
	}
	return result, nil
}

// IssueErrorTicketAndRedirect issues a minimal ticket carrying the failure
// result code. It never pauses: authentication failures always redirect.
func (i *Issuer) IssueErrorTicketAndRedirect(ctx context.Context, rid, resultCode string) (*IssueResult, error) {
	session, err := i.sessions.Get(rid)
	if err != nil {
		return nil, domain.SessionExpiredError(rid)
	}

	ticket := &domain.Ticket{
		RID:        rid,
		AppID:      session.AppID,
		ResultCode: resultCode,
		ClientIP:   session.ClientIP,
	}
	id, err := i.tickets.Create(ctx, ticket)
	if err != nil {
		if err == ports.ErrStoreFull {
			return nil, domain.ServerBusyError()
		}
		return nil, domain.InternalError("ticket creation failed", err)
	}
	i.metrics.RecordTicketIssued("error")

	i.sessions.Delete(rid)

	if i.logger != nil {
		i.logger.Info("error ticket issued",
			zap.String("rid", rid),
			zap.String("result_code", resultCode))
	}
	return &IssueResult{
		Status:      StatusRedirect,
		TicketID:    id,
		RedirectURL: i.buildRedirectURL(session.AppURL, id, rid, session.Language),
	}, nil
}

// buildRedirectURL constructs the application redirect. Any
// aselect_specials parameter on the application URL is stripped, never
// forwarded.
func (i *Issuer) buildRedirectURL(appURL, ticketID, rid, language string) string {
	u, err := url.Parse(appURL)
	if err != nil {
		// A malformed application URL was validated at session creation;
		// degrade to the raw string rather than drop the user.
		return appURL
	}
	q := u.Query()
	q.Del(specialsParam)
	q.Set(CredentialsCookieName, ticketID)
	q.Set("rid", rid)
	q.Set("a-select-server", i.cfg.ServerID)
	if language != "" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// PushStoreCookie posts a previous-session cookie value to the partner
// AuthSP storecookie endpoint, signed with an HMAC over the request fields.
// Best-effort: a failed push is logged and ignored.
func (i *Issuer) PushStoreCookie(ctx context.Context, cookieName, cookieValue, ticketID, uid string) {
	if i.cfg.StoreCookieURL == "" {
		return
	}

	mac := hmac.New(sha1.New, []byte(i.cfg.StoreCookieSecret))
	mac.Write([]byte("storecookie" + cookieName + ticketID + uid + i.cfg.ServerID))
	sig := hex.EncodeToString(mac.Sum(nil))

	form := url.Values{
		"request":         {"storecookie"},
		"name":            {cookieName},
		"value":           {cookieValue},
		"ticket":          {ticketID},
		"uid":             {uid},
		"a-select-server": {i.cfg.ServerID},
		"signature":       {sig},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.StoreCookieURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		if i.logger != nil {
			i.logger.Warn("storecookie push failed", zap.Error(err))
		}
		return
	}
	resp.Body.Close()
}

// noopMetrics keeps the issuer free of nil checks when metrics are off.
type noopMetrics struct{}

func (noopMetrics) RecordTicketIssued(string)          {}
func (noopMetrics) RecordTicketRemoved(string)         {}
func (noopMetrics) RecordLogout(string, bool)          {}
func (noopMetrics) RecordSessionSync(string)           {}
func (noopMetrics) RecordMetadataResolve(string, bool) {}
