package services

import (
	"context"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

// Outcomes of a session sync attempt.
type SyncOutcome string

const (
	// SyncSkipped means the partner interval has not elapsed yet; no network
	// traffic was generated.
	SyncSkipped SyncOutcome = "skipped"

	// SyncUpdated means the partner confirmed the session and the ticket's
	// sync time was advanced.
	SyncUpdated SyncOutcome = "updated"

	// SyncRejected means the partner denied the session or the exchange
	// failed; the local ticket has been removed.
	SyncRejected SyncOutcome = "rejected"
)

const (
	xacmlContextNS = "urn:oasis:names:tc:xacml:1.0:context"
	samlProtocolNS = "urn:oasis:names:tc:SAML:2.0:protocol"
	samlAssertNS   = "urn:oasis:names:tc:SAML:2.0:assertion"

	decisionPermit = "Permit"
)

// SyncConfig is the static configuration of the session sync service.
type SyncConfig struct {
	// LocalEntityID is the issuer presented in sync messages.
	LocalEntityID string

	// Resource identifies this server in the query's Resource field.
	Resource string

	// Partners holds the per-partner records, keyed by entity id.
	Partners map[string]domain.PartnerData
}

// SessionSyncService keeps federated tickets alive by confirming session
// liveness with the originating partner. Syncs are lazy: a ticket is only
// synced when it is touched and its partner interval has elapsed, so idle
// tickets generate no traffic.
type SessionSyncService struct {
	cfg     SyncConfig
	tickets ports.TicketStore
	signer  ports.XMLSigner
	soap    ports.SOAPClient
	clock   ports.Clock
	logger  *zap.Logger
	metrics ports.MetricsRecorder
}

// NewSessionSyncService creates a session sync service.
func NewSessionSyncService(cfg SyncConfig, tickets ports.TicketStore, signer ports.XMLSigner, soap ports.SOAPClient, clock ports.Clock, logger *zap.Logger, metrics ports.MetricsRecorder) *SessionSyncService {
	if clock == nil {
		clock = ports.RealClock{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &SessionSyncService{
		cfg:     cfg,
		tickets: tickets,
		signer:  signer,
		soap:    soap,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Sync confirms the ticket's session with its federation partner if the
// partner's sync interval has elapsed. Local tickets and tickets inside
// their interval are left alone. A denied or failed exchange removes the
// ticket; the returned error is then a session-expired error so the caller
// forces re-authentication.
func (s *SessionSyncService) Sync(ctx context.Context, ticket *domain.Ticket) (SyncOutcome, error) {
	if ticket.FederationURL == "" {
		return SyncSkipped, nil
	}

	partner, ok := s.cfg.Partners[ticket.FederationURL]
	if !ok || partner.SessionSyncInterval <= 0 {
		return SyncSkipped, nil
	}

	now := s.clock.Now()
	last := ticket.SessionSyncTime
	if last.IsZero() {
		last = ticket.Timestamp
	}
	if now.Before(last.Add(partner.SessionSyncInterval)) {
		return SyncSkipped, nil
	}

	endpoint := partner.SessionSyncURL
	if endpoint == "" {
		endpoint = ticket.FederationURL
	}

	query, err := s.buildQuery(partner, ticket)
	if err != nil {
		return SyncSkipped, domain.InternalError("building session sync query", err)
	}

	reply, err := s.soap.Call(ctx, endpoint, query)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("session sync call failed",
				zap.String("partner", ticket.FederationURL),
				zap.Error(err))
		}
		return s.reject(ctx, ticket, "sync_failed")
	}

	permitted, malformed := readDecision(reply)
	if malformed {
		if s.logger != nil {
			s.logger.Warn("unreadable session sync reply",
				zap.String("partner", ticket.FederationURL))
		}
		return s.reject(ctx, ticket, "sync_failed")
	}
	if !permitted {
		if s.logger != nil {
			s.logger.Info("session denied by partner",
				zap.String("partner", ticket.FederationURL),
				zap.String("uid", ticket.UID))
		}
		return s.reject(ctx, ticket, "sync_denied")
	}

	ticket.SessionSyncTime = now
	if !s.tickets.UpdateQuietly(ctx, ticket.ID, ticket) {
		// The ticket vanished between Get and the sync write.
		return SyncRejected, domain.SessionExpiredError(ticket.RID)
	}
	s.metrics.RecordSessionSync("updated")
	return SyncUpdated, nil
}

func (s *SessionSyncService) reject(ctx context.Context, ticket *domain.Ticket, reason string) (SyncOutcome, error) {
	if err := s.tickets.Remove(ctx, ticket.ID); err == nil {
		s.metrics.RecordTicketRemoved(reason)
	}
	s.metrics.RecordSessionSync(reason)
	return SyncRejected, domain.SessionExpiredError(ticket.RID)
}

// buildQuery builds the partner's preferred sync message and signs it when
// the partner requires signed requests.
func (s *SessionSyncService) buildQuery(partner domain.PartnerData, ticket *domain.Ticket) (*etree.Element, error) {
	var el *etree.Element
	if partner.SessionSyncMessage == domain.SyncMessageXACML {
		el = s.buildXACMLRequest(ticket)
	} else {
		el = s.buildAuthzQuery(partner, ticket)
	}
	if !partner.SignRequests {
		return el, nil
	}
	return s.signer.SignElement(el, ports.SignOptions{AddCertificate: true})
}

// buildAuthzQuery builds a SAML 2.0 AuthzDecisionQuery asking whether the
// subject may still access the local resource.
func (s *SessionSyncService) buildAuthzQuery(partner domain.PartnerData, ticket *domain.Ticket) *etree.Element {
	el := etree.NewElement("samlp:AuthzDecisionQuery")
	el.CreateAttr("xmlns:samlp", samlProtocolNS)
	el.CreateAttr("xmlns:saml", samlAssertNS)
	el.CreateAttr("ID", newMessageID())
	el.CreateAttr("Version", "2.0")
	el.CreateAttr("IssueInstant", s.clock.Now().UTC().Format("2006-01-02T15:04:05Z"))
	el.CreateAttr("Resource", s.cfg.Resource)

	issuerValue := s.cfg.LocalEntityID
	if partner.LocalIssuer != "" {
		issuerValue = partner.LocalIssuer
	}
	issuer := el.CreateElement("saml:Issuer")
	issuer.SetText(issuerValue)

	subject := el.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.SetText(ticket.NameID)

	action := el.CreateElement("saml:Action")
	action.CreateAttr("Namespace", "urn:oasis:names:tc:SAML:1.0:action:ghpp")
	action.SetText("GET")
	return el
}

// buildXACMLRequest builds a XACML 1.0 context Request for partners that
// speak XACML instead of SAML queries.
func (s *SessionSyncService) buildXACMLRequest(ticket *domain.Ticket) *etree.Element {
	el := etree.NewElement("Request")
	el.CreateAttr("xmlns", xacmlContextNS)

	subject := el.CreateElement("Subject")
	subjAttr := subject.CreateElement("Attribute")
	subjAttr.CreateAttr("AttributeId", "urn:oasis:names:tc:xacml:1.0:subject:subject-id")
	subjAttr.CreateAttr("DataType", "http://www.w3.org/2001/XMLSchema#string")
	subjAttr.CreateElement("AttributeValue").SetText(ticket.NameID)

	resource := el.CreateElement("Resource")
	resAttr := resource.CreateElement("Attribute")
	resAttr.CreateAttr("AttributeId", "urn:oasis:names:tc:xacml:1.0:resource:resource-id")
	resAttr.CreateAttr("DataType", "http://www.w3.org/2001/XMLSchema#anyURI")
	resAttr.CreateElement("AttributeValue").SetText(s.cfg.Resource)

	action := el.CreateElement("Action")
	actAttr := action.CreateElement("Attribute")
	actAttr.CreateAttr("AttributeId", "urn:oasis:names:tc:xacml:1.0:action:action-id")
	actAttr.CreateAttr("DataType", "http://www.w3.org/2001/XMLSchema#string")
	actAttr.CreateElement("AttributeValue").SetText("read")
	return el
}

// readDecision extracts the permit/deny decision from a sync reply. Both
// encodings are accepted regardless of what was sent: a reply carrying an
// AuthzDecisionStatement is read as SAML, anything else as XACML. The
// second return value reports a reply that matches neither shape.
func readDecision(reply *etree.Element) (permitted bool, malformed bool) {
	if reply == nil {
		return false, true
	}
	if stmt := findDescendant(reply, "AuthzDecisionStatement"); stmt != nil {
		return stmt.SelectAttrValue("Decision", "") == decisionPermit, false
	}
	if decision := findDescendant(reply, "Decision"); decision != nil {
		return decision.Text() == decisionPermit, false
	}
	return false, true
}

// findDescendant walks the tree depth-first for the first element with the
// given local tag.
func findDescendant(el *etree.Element, tag string) *etree.Element {
	if el.Tag == tag {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findDescendant(child, tag); found != nil {
			return found
		}
	}
	return nil
}
