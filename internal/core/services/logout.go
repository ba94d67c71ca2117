package services

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/crewjam/saml"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

// ExchangeState tracks one logout exchange through its protocol states.
type ExchangeState string

const (
	StateIdle             ExchangeState = "IDLE"
	StateRequestBuilt     ExchangeState = "REQUEST_BUILT"
	StateRequestSigned    ExchangeState = "REQUEST_SIGNED"
	StateSent             ExchangeState = "SENT"
	StateResponseReceived ExchangeState = "RESPONSE_RECEIVED"
	StateSuccess          ExchangeState = "SUCCESS"
	StateFailed           ExchangeState = "FAILED"
)

// exchange is one tracked logout message exchange.
type exchange struct {
	partner string
	state   ExchangeState
	logger  *zap.Logger
}

func (e *exchange) transition(to ExchangeState) {
	if e.logger != nil {
		e.logger.Debug("logout exchange",
			zap.String("partner", e.partner),
			zap.String("from", string(e.state)),
			zap.String("to", string(to)))
	}
	e.state = to
}

// LogoutConfig is the static configuration of the logout service.
type LogoutConfig struct {
	// LocalEntityID is the issuer this server presents in logout messages.
	LocalEntityID string

	// Partners holds the per-partner records, keyed by entity id.
	Partners map[string]domain.PartnerData
}

// LogoutResult is the outcome of an IdP-initiated logout.
type LogoutResult struct {
	// RedirectURL returns the browser to the RelayState/return URL with the
	// aggregate result code attached.
	RedirectURL string

	// FanOutRedirects are front-channel LogoutResponse URLs the driving
	// adapter must deliver (one per redirect-binding partner).
	FanOutRedirects []string

	// ResultCode aggregates the per-partner outcomes.
	ResultCode string
}

// LogoutService implements single logout in both directions: SP-initiated
// towards the federation IdP, and IdP-initiated fan-out across the ticket's
// tracked service providers.
type LogoutService struct {
	cfg      LogoutConfig
	tickets  ports.TicketStore
	metadata ports.MetadataResolver
	signer   ports.XMLSigner
	verifier ports.XMLVerifier
	soap     ports.SOAPClient
	clock    ports.Clock
	logger   *zap.Logger
	metrics  ports.MetricsRecorder
}

// NewLogoutService creates a logout service.
func NewLogoutService(cfg LogoutConfig, tickets ports.TicketStore, metadata ports.MetadataResolver, signer ports.XMLSigner, verifier ports.XMLVerifier, soap ports.SOAPClient, clock ports.Clock, logger *zap.Logger, metrics ports.MetricsRecorder) *LogoutService {
	if clock == nil {
		clock = ports.RealClock{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &LogoutService{
		cfg:      cfg,
		tickets:  tickets,
		metadata: metadata,
		signer:   signer,
		verifier: verifier,
		soap:     soap,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// InitiateLogout performs an SP-initiated logout for the given ticket: the
// local ticket is removed, then the federation IdP is notified over the
// back channel. Partner failures are logged; the local removal is never
// rolled back, so the logout always completes locally.
func (s *LogoutService) InitiateLogout(ctx context.Context, ticketID, reason string) error {
	ticket, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return domain.UnknownTicketError()
	}

	if err := s.tickets.Remove(ctx, ticketID); err == nil {
		s.metrics.RecordTicketRemoved("logout")
	}

	if ticket.FederationURL == "" {
		s.metrics.RecordLogout("sp_initiated", true)
		return nil
	}

	success := s.sendLogoutRequest(ctx, ticket, reason)
	s.metrics.RecordLogout("sp_initiated", success)
	return nil
}

// sendLogoutRequest runs one back-channel LogoutRequest exchange. Returns
// whether the partner confirmed success.
func (s *LogoutService) sendLogoutRequest(ctx context.Context, ticket *domain.Ticket, reason string) bool {
	ex := &exchange{partner: ticket.FederationURL, state: StateIdle, logger: s.logger}

	location := s.metadata.Location(ctx, ticket.FederationURL,
		ports.ElementSingleLogoutService, saml.SOAPBinding)
	if location == "" {
		ex.transition(StateFailed)
		if s.logger != nil {
			s.logger.Warn("no SOAP logout endpoint for partner",
				zap.String("partner", ticket.FederationURL))
		}
		return false
	}

	partner := s.cfg.Partners[ticket.FederationURL]
	req := &saml.LogoutRequest{
		ID:           newMessageID(),
		Version:      "2.0",
		IssueInstant: s.clock.Now().UTC(),
		Destination:  location,
		Issuer: &saml.Issuer{
			Format: "urn:oasis:names:tc:SAML:2.0:nameid-format:entity",
			Value:  s.issuerFor(partner),
		},
		NameID: &saml.NameID{Value: ticket.NameID},
	}
	el := req.Element()
	if reason != "" {
		el.CreateAttr("Reason", reason)
	}
	ex.transition(StateRequestBuilt)

	if partner.SignRequests {
		signed, err := s.signer.SignElement(el, ports.SignOptions{AddCertificate: true})
		if err != nil {
			ex.transition(StateFailed)
			if s.logger != nil {
				s.logger.Error("logout request signing failed", zap.Error(err))
			}
			return false
		}
		el = signed
	}
	ex.transition(StateRequestSigned)

	reply, err := s.soap.Call(ctx, location, el)
	ex.transition(StateSent)
	if err != nil {
		ex.transition(StateFailed)
		if s.logger != nil {
			s.logger.Warn("logout call failed",
				zap.String("partner", ticket.FederationURL),
				zap.Error(err))
		}
		return false
	}
	ex.transition(StateResponseReceived)

	if !isLogoutSuccess(reply) {
		ex.transition(StateFailed)
		return false
	}
	ex.transition(StateSuccess)
	return true
}

// isLogoutSuccess checks a LogoutResponse element for the Success status.
func isLogoutSuccess(el *etree.Element) bool {
	if el == nil || el.Tag != "LogoutResponse" {
		return false
	}
	for _, status := range el.ChildElements() {
		if status.Tag != "Status" {
			continue
		}
		for _, code := range status.ChildElements() {
			if code.Tag == "StatusCode" {
				return code.SelectAttrValue("Value", "") == saml.StatusSuccess
			}
		}
	}
	return false
}

// HandleLogoutRequest processes an inbound IdP-initiated LogoutRequest:
// verify, locate the local ticket by NameID, remove it, fan out signed
// LogoutResponses to every tracked service provider, and send the browser
// back to the relay state with the aggregate result.
//
// requestEl is the raw request element; for the SOAP binding its XML
// signature is verified here, for the redirect binding the driving adapter
// has already verified the query signature.
func (s *LogoutService) HandleLogoutRequest(ctx context.Context, req *saml.LogoutRequest, requestEl *etree.Element, relayState string, verifyXML bool) *LogoutResult {
	issuer := ""
	if req.Issuer != nil {
		issuer = req.Issuer.Value
	}

	if verifyXML {
		cert := s.metadata.SigningCertificate(ctx, issuer)
		if !s.verifier.VerifyElement(requestEl, cert) {
			s.metrics.RecordLogout("idp_initiated", false)
			return &LogoutResult{
				RedirectURL: appendResultCode(relayState, domain.ResultCodeInvalidSignature),
				ResultCode:  domain.ResultCodeInvalidSignature,
			}
		}
	}

	if !CheckValidity(LogoutRequestWindow{Request: req}, s.clock.Now()) {
		s.metrics.RecordLogout("idp_initiated", false)
		return &LogoutResult{
			RedirectURL: appendResultCode(relayState, domain.ResultCodeBadRequest),
			ResultCode:  domain.ResultCodeBadRequest,
		}
	}

	nameID := ""
	if req.NameID != nil {
		nameID = req.NameID.Value
	}

	result := &LogoutResult{ResultCode: domain.ResultCodeSuccess}
	ticket, err := s.tickets.GetByNameID(ctx, nameID)
	if err == nil {
		if s.tickets.RemoveByNameID(ctx, nameID) {
			s.metrics.RecordTicketRemoved("logout")
		}
		s.fanOut(ctx, ticket, req.ID, result)
	} else if s.logger != nil {
		// Unknown subjects still get a clean response: the session may have
		// expired locally before the partner initiated logout.
		s.logger.Info("logout for unknown subject", zap.String("issuer", issuer))
	}

	s.metrics.RecordLogout("idp_initiated", result.ResultCode == domain.ResultCodeSuccess)
	result.RedirectURL = appendResultCode(relayState, result.ResultCode)
	return result
}

// fanOut sends a signed LogoutResponse to every service provider tracked in
// the ticket's SSO session, front-channel or back-channel per partner
// configuration. Outbound responses are signed unconditionally.
func (s *LogoutService) fanOut(ctx context.Context, ticket *domain.Ticket, inResponseTo string, result *LogoutResult) {
	if ticket.SsoSession == nil {
		return
	}
	for _, sp := range ticket.SsoSession.ServiceProviders {
		ok := s.sendLogoutResponse(ctx, sp.URL, inResponseTo, result)
		if !ok {
			result.ResultCode = domain.ResultCodeInternal
		}
	}
}

func (s *LogoutService) sendLogoutResponse(ctx context.Context, partnerID, inResponseTo string, result *LogoutResult) bool {
	ex := &exchange{partner: partnerID, state: StateIdle, logger: s.logger}
	partner := s.cfg.Partners[partnerID]

	binding := partner.LogoutBinding
	if binding == "" {
		binding = saml.SOAPBinding
	}

	location := s.metadata.ResponseLocation(ctx, partnerID, ports.ElementSingleLogoutService, binding)
	if location == "" {
		location = s.metadata.Location(ctx, partnerID, ports.ElementSingleLogoutService, binding)
	}
	if location == "" {
		ex.transition(StateFailed)
		if s.logger != nil {
			s.logger.Warn("no logout endpoint for partner",
				zap.String("partner", partnerID),
				zap.String("binding", binding))
		}
		return false
	}

	resp := &saml.LogoutResponse{
		ID:           newMessageID(),
		InResponseTo: inResponseTo,
		Version:      "2.0",
		IssueInstant: s.clock.Now().UTC(),
		Destination:  location,
		Issuer: &saml.Issuer{
			Format: "urn:oasis:names:tc:SAML:2.0:nameid-format:entity",
			Value:  s.issuerFor(partner),
		},
		Status: saml.Status{
			StatusCode: saml.StatusCode{Value: saml.StatusSuccess},
		},
	}
	el := resp.Element()
	ex.transition(StateRequestBuilt)

	if binding == saml.HTTPRedirectBinding {
		// Front-channel: the message is signed at the query-string level.
		redirectURL, err := s.buildRedirectResponse(location, el)
		if err != nil {
			ex.transition(StateFailed)
			return false
		}
		ex.transition(StateRequestSigned)
		result.FanOutRedirects = append(result.FanOutRedirects, redirectURL)
		ex.transition(StateSuccess)
		return true
	}

	signed, err := s.signer.SignElement(el, ports.SignOptions{AddCertificate: true})
	if err != nil {
		ex.transition(StateFailed)
		if s.logger != nil {
			s.logger.Error("logout response signing failed", zap.Error(err))
		}
		return false
	}
	ex.transition(StateRequestSigned)

	_, err = s.soap.Call(ctx, location, signed)
	ex.transition(StateSent)
	if err != nil {
		ex.transition(StateFailed)
		if s.logger != nil {
			s.logger.Warn("logout response delivery failed",
				zap.String("partner", partnerID),
				zap.Error(err))
		}
		return false
	}
	ex.transition(StateSuccess)
	return true
}

// buildRedirectResponse deflate+base64 encodes the response for the
// HTTP-Redirect binding and signs the query string. The signed octets are
// "SAMLResponse=...&SigAlg=..." per the redirect binding rules.
func (s *LogoutService) buildRedirectResponse(location string, el *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	var buf bytes.Buffer
	b64 := base64.NewEncoder(base64.StdEncoding, &buf)
	deflate, err := flate.NewWriter(b64, flate.DefaultCompression)
	if err != nil {
		return "", err
	}
	if _, err := doc.WriteTo(deflate); err != nil {
		return "", err
	}
	deflate.Close()
	b64.Close()

	base := "SAMLResponse=" + url.QueryEscape(buf.String())

	// The signature method URI must be part of the signed string, so a first
	// pass learns the method the key produces before signing the final form.
	_, method, err := s.signer.SignQuery(base)
	if err != nil {
		return "", err
	}
	signedQuery := base + "&SigAlg=" + url.QueryEscape(method)
	signature, _, err := s.signer.SignQuery(signedQuery)
	if err != nil {
		return "", err
	}

	sep := "?"
	if strings.Contains(location, "?") {
		sep = "&"
	}
	return location + sep + signedQuery + "&Signature=" + url.QueryEscape(signature), nil
}

// BuildLogoutResponse builds and signs a LogoutResponse carrying the given
// SAML status code, addressed to nobody in particular. The SOAP driving
// adapter returns it in the same connection that delivered the request.
func (s *LogoutService) BuildLogoutResponse(inResponseTo, statusCode string) (*etree.Element, error) {
	resp := &saml.LogoutResponse{
		ID:           newMessageID(),
		InResponseTo: inResponseTo,
		Version:      "2.0",
		IssueInstant: s.clock.Now().UTC(),
		Issuer: &saml.Issuer{
			Format: "urn:oasis:names:tc:SAML:2.0:nameid-format:entity",
			Value:  s.cfg.LocalEntityID,
		},
		Status: saml.Status{
			StatusCode: saml.StatusCode{Value: statusCode},
		},
	}
	return s.signer.SignElement(resp.Element(), ports.SignOptions{AddCertificate: true})
}

// issuerFor returns the entity id presented to a partner, honoring the
// per-partner override.
func (s *LogoutService) issuerFor(partner domain.PartnerData) string {
	if partner.LocalIssuer != "" {
		return partner.LocalIssuer
	}
	return s.cfg.LocalEntityID
}

// newMessageID generates a SAML message id. Ids must start with a letter.
func newMessageID() string {
	return "id-" + uuid.NewString()
}

// appendResultCode adds the aggregate result code to the return URL.
func appendResultCode(returnURL, code string) string {
	if returnURL == "" {
		return ""
	}
	u, err := url.Parse(returnURL)
	if err != nil {
		return returnURL
	}
	q := u.Query()
	q.Set("result_code", code)
	u.RawQuery = q.Encode()
	return u.String()
}
