//go:build unit

package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/crewjam/saml"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

const (
	soapBinding     = "urn:oasis:names:tc:SAML:2.0:bindings:SOAP"
	redirectBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
)

func logoutFixture(soap *fakeSOAP, metadata *fakeMetadata, verifier *fakeVerifier) (*LogoutService, *fakeTicketStore) {
	tickets := newFakeTicketStore()
	svc := NewLogoutService(LogoutConfig{
		LocalEntityID: "https://server.test/saml",
		Partners: map[string]domain.PartnerData{
			partnerID: {EntityID: partnerID, SignRequests: true, LogoutBinding: soapBinding},
		},
	}, tickets, metadata, &fakeSigner{}, verifier, soap,
		&fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}, nil, nil)
	return svc, tickets
}

func TestInitiateLogout_UnknownTicket(t *testing.T) {
	svc, _ := logoutFixture(&fakeSOAP{}, newFakeMetadata(), &fakeVerifier{valid: true})

	err := svc.InitiateLogout(context.Background(), "nope", "")
	if domain.CodeOf(err) != domain.ErrCodeUnknownTicket {
		t.Errorf("error code = %q, want unknown_ticket", domain.CodeOf(err))
	}
}

func TestInitiateLogout_LocalTicket(t *testing.T) {
	soap := &fakeSOAP{}
	svc, tickets := logoutFixture(soap, newFakeMetadata(), &fakeVerifier{valid: true})

	ticket := &domain.Ticket{UID: "jdoe"}
	id, _ := tickets.Create(context.Background(), ticket)

	if err := svc.InitiateLogout(context.Background(), id, ""); err != nil {
		t.Fatalf("InitiateLogout: %v", err)
	}
	if _, ok := tickets.tickets[id]; ok {
		t.Error("logout must remove the local ticket")
	}
	if len(soap.calls) != 0 {
		t.Error("a local ticket has no partner to notify")
	}
}

func TestInitiateLogout_NotifiesPartner(t *testing.T) {
	metadata := newFakeMetadata()
	metadata.locations[mdKey(partnerID, ports.ElementSingleLogoutService, soapBinding)] = "https://partner.test/slo"
	soap := &fakeSOAP{reply: successLogoutResponse()}
	svc, tickets := logoutFixture(soap, metadata, &fakeVerifier{valid: true})

	ticket := &domain.Ticket{UID: "jdoe", NameID: "fed-subject", FederationURL: partnerID}
	id, _ := tickets.Create(context.Background(), ticket)

	if err := svc.InitiateLogout(context.Background(), id, "urn:oasis:names:tc:SAML:2.0:logout:user"); err != nil {
		t.Fatalf("InitiateLogout: %v", err)
	}
	if len(soap.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(soap.calls))
	}
	call := soap.calls[0]
	if call.url != "https://partner.test/slo" {
		t.Errorf("SLO URL = %q", call.url)
	}
	if call.body.Tag != "LogoutRequest" {
		t.Errorf("message tag = %q", call.body.Tag)
	}
	if got := call.body.SelectAttrValue("Reason", ""); !strings.Contains(got, "logout:user") {
		t.Errorf("Reason = %q", got)
	}
	if call.body.FindElement("Signature") == nil {
		t.Error("partner requires signed requests")
	}
}

func TestInitiateLogout_PartnerFailureStillCompletesLocally(t *testing.T) {
	metadata := newFakeMetadata()
	metadata.locations[mdKey(partnerID, ports.ElementSingleLogoutService, soapBinding)] = "https://partner.test/slo"
	soap := &fakeSOAP{err: fmt.Errorf("connection refused")}
	svc, tickets := logoutFixture(soap, metadata, &fakeVerifier{valid: true})

	ticket := &domain.Ticket{UID: "jdoe", FederationURL: partnerID}
	id, _ := tickets.Create(context.Background(), ticket)

	if err := svc.InitiateLogout(context.Background(), id, ""); err != nil {
		t.Errorf("partner failure must not fail the local logout: %v", err)
	}
	if _, ok := tickets.tickets[id]; ok {
		t.Error("the local ticket must be gone despite the partner failure")
	}
}

func inboundLogoutRequest(nameID string) *saml.LogoutRequest {
	return &saml.LogoutRequest{
		ID:      "id-inbound-1",
		Version: "2.0",
		Issuer:  &saml.Issuer{Value: partnerID},
		NameID:  &saml.NameID{Value: nameID},
	}
}

func TestHandleLogoutRequest_RemovesTicketAndFansOut(t *testing.T) {
	metadata := newFakeMetadata()
	metadata.locations[mdKey("https://sp-a.test", ports.ElementSingleLogoutService, soapBinding)] = "https://sp-a.test/slo"
	soap := &fakeSOAP{reply: successLogoutResponse()}
	svc, tickets := logoutFixture(soap, metadata, &fakeVerifier{valid: true})

	sso := domain.NewUserSsoSession("jdoe")
	sso.AddServiceProvider("https://sp-a.test", time.Now())
	ticket := &domain.Ticket{UID: "jdoe", NameID: "fed-subject", SsoSession: sso}
	id, _ := tickets.Create(context.Background(), ticket)

	result := svc.HandleLogoutRequest(context.Background(),
		inboundLogoutRequest("fed-subject"), nil, "https://partner.test/return", false)

	if result.ResultCode != domain.ResultCodeSuccess {
		t.Errorf("ResultCode = %q", result.ResultCode)
	}
	if _, ok := tickets.tickets[id]; ok {
		t.Error("inbound logout must remove the ticket")
	}
	if len(soap.calls) != 1 {
		t.Fatalf("fan-out calls = %d, want 1", len(soap.calls))
	}
	if soap.calls[0].body.Tag != "LogoutResponse" {
		t.Errorf("fan-out message = %q", soap.calls[0].body.Tag)
	}
	if soap.calls[0].body.FindElement("Signature") == nil {
		t.Error("fan-out responses are always signed")
	}
	if !strings.HasPrefix(result.RedirectURL, "https://partner.test/return") {
		t.Errorf("RedirectURL = %q", result.RedirectURL)
	}
	if !strings.Contains(result.RedirectURL, "result_code="+domain.ResultCodeSuccess) {
		t.Errorf("aggregate result code missing from %q", result.RedirectURL)
	}
}

// Issuance must leave the ticket with the requesting service provider
// tracked, so a later inbound logout reaches it without any test-side setup.
func TestIssuedTicketDrivesLogoutFanOut(t *testing.T) {
	metadata := newFakeMetadata()
	metadata.locations[mdKey("https://sp-a.test", ports.ElementSingleLogoutService, soapBinding)] = "https://sp-a.test/slo"
	soap := &fakeSOAP{reply: successLogoutResponse()}
	svc, tickets := logoutFixture(soap, metadata, &fakeVerifier{valid: true})

	sessions := newFakeSessionStore()
	session := baseSession("rid1")
	session.SPAssertURL = "https://sp-a.test"
	sessions.Put(session)
	issuer := testIssuer(IssuerConfig{}, tickets, sessions)

	result, err := issuer.IssueTicketAndRedirect(context.Background(), IssueRequest{RID: "rid1"})
	if err != nil {
		t.Fatalf("IssueTicketAndRedirect: %v", err)
	}
	ticket := tickets.tickets[result.TicketID]
	if ticket.SsoSession == nil || len(ticket.SsoSession.ServiceProviders) != 1 {
		t.Fatal("issuance must track the requesting service provider")
	}

	res := svc.HandleLogoutRequest(context.Background(),
		inboundLogoutRequest(ticket.NameID), nil, "", false)

	if res.ResultCode != domain.ResultCodeSuccess {
		t.Errorf("ResultCode = %q", res.ResultCode)
	}
	if len(soap.calls) != 1 {
		t.Fatalf("fan-out calls = %d, want 1", len(soap.calls))
	}
	if soap.calls[0].url != "https://sp-a.test/slo" {
		t.Errorf("fan-out URL = %q", soap.calls[0].url)
	}
	if soap.calls[0].body.Tag != "LogoutResponse" {
		t.Errorf("fan-out message = %q", soap.calls[0].body.Tag)
	}
}

func TestInitiateLogout_PartnerIssuerOverride(t *testing.T) {
	metadata := newFakeMetadata()
	metadata.locations[mdKey(partnerID, ports.ElementSingleLogoutService, soapBinding)] = "https://partner.test/slo"
	soap := &fakeSOAP{reply: successLogoutResponse()}
	tickets := newFakeTicketStore()
	svc := NewLogoutService(LogoutConfig{
		LocalEntityID: "https://server.test/saml",
		Partners: map[string]domain.PartnerData{
			partnerID: {EntityID: partnerID, LocalIssuer: "https://alias.test/saml"},
		},
	}, tickets, metadata, &fakeSigner{}, &fakeVerifier{valid: true}, soap,
		&fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}, nil, nil)

	ticket := &domain.Ticket{UID: "jdoe", NameID: "fed-subject", FederationURL: partnerID}
	id, _ := tickets.Create(context.Background(), ticket)

	if err := svc.InitiateLogout(context.Background(), id, ""); err != nil {
		t.Fatalf("InitiateLogout: %v", err)
	}
	if len(soap.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(soap.calls))
	}
	issuerEl := soap.calls[0].body.FindElement("Issuer")
	if issuerEl == nil || issuerEl.Text() != "https://alias.test/saml" {
		t.Errorf("partner issuer override not presented, Issuer = %v", issuerEl)
	}
}

func TestHandleLogoutRequest_RedirectBindingPartner(t *testing.T) {
	metadata := newFakeMetadata()
	metadata.locations[mdKey(partnerID, ports.ElementSingleLogoutService, redirectBinding)] = "https://partner.test/slo/redirect"
	soap := &fakeSOAP{}
	tickets := newFakeTicketStore()
	svc := NewLogoutService(LogoutConfig{
		LocalEntityID: "https://server.test/saml",
		Partners: map[string]domain.PartnerData{
			partnerID: {EntityID: partnerID, LogoutBinding: redirectBinding},
		},
	}, tickets, metadata, &fakeSigner{}, &fakeVerifier{valid: true}, soap, nil, nil, nil)

	sso := domain.NewUserSsoSession("jdoe")
	sso.AddServiceProvider(partnerID, time.Now())
	tickets.Create(context.Background(), &domain.Ticket{UID: "jdoe", NameID: "fed-subject", SsoSession: sso})

	result := svc.HandleLogoutRequest(context.Background(),
		inboundLogoutRequest("fed-subject"), nil, "", false)

	if len(result.FanOutRedirects) != 1 {
		t.Fatalf("FanOutRedirects = %d, want 1", len(result.FanOutRedirects))
	}
	u := result.FanOutRedirects[0]
	if !strings.HasPrefix(u, "https://partner.test/slo/redirect?") {
		t.Errorf("redirect = %q", u)
	}
	for _, param := range []string{"SAMLResponse=", "SigAlg=", "Signature="} {
		if !strings.Contains(u, param) {
			t.Errorf("redirect %q misses %s", u, param)
		}
	}
	if len(soap.calls) != 0 {
		t.Error("a redirect-binding partner must not be called over SOAP")
	}
}

func TestHandleLogoutRequest_UnknownSubjectIsClean(t *testing.T) {
	soap := &fakeSOAP{}
	svc, _ := logoutFixture(soap, newFakeMetadata(), &fakeVerifier{valid: true})

	result := svc.HandleLogoutRequest(context.Background(),
		inboundLogoutRequest("never-seen"), nil, "https://partner.test/return", false)

	if result.ResultCode != domain.ResultCodeSuccess {
		t.Errorf("ResultCode = %q, an unknown subject is not an error", result.ResultCode)
	}
	if len(soap.calls) != 0 {
		t.Error("nothing to fan out for an unknown subject")
	}
}

func TestHandleLogoutRequest_ExpiredWindow(t *testing.T) {
	svc, tickets := logoutFixture(&fakeSOAP{}, newFakeMetadata(), &fakeVerifier{valid: true})

	id, _ := tickets.Create(context.Background(), &domain.Ticket{UID: "jdoe", NameID: "fed-subject"})

	req := inboundLogoutRequest("fed-subject")
	past := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	req.NotOnOrAfter = &past

	result := svc.HandleLogoutRequest(context.Background(), req, nil, "", false)
	if result.ResultCode != domain.ResultCodeBadRequest {
		t.Errorf("ResultCode = %q, want bad request for an expired message", result.ResultCode)
	}
	if _, ok := tickets.tickets[id]; !ok {
		t.Error("an expired logout request must not remove the ticket")
	}
}

func TestHandleLogoutRequest_InvalidXMLSignature(t *testing.T) {
	metadata := newFakeMetadata()
	svc, tickets := logoutFixture(&fakeSOAP{}, metadata, &fakeVerifier{valid: false})

	id, _ := tickets.Create(context.Background(), &domain.Ticket{UID: "jdoe", NameID: "fed-subject"})

	req := inboundLogoutRequest("fed-subject")
	result := svc.HandleLogoutRequest(context.Background(), req, req.Element(), "", true)
	if result.ResultCode != domain.ResultCodeInvalidSignature {
		t.Errorf("ResultCode = %q, want invalid signature", result.ResultCode)
	}
	if _, ok := tickets.tickets[id]; !ok {
		t.Error("a forged logout request must not remove the ticket")
	}
}

func TestBuildLogoutResponse_Signed(t *testing.T) {
	svc, _ := logoutFixture(&fakeSOAP{}, newFakeMetadata(), &fakeVerifier{valid: true})

	el, err := svc.BuildLogoutResponse("id-req-1", saml.StatusSuccess)
	if err != nil {
		t.Fatalf("BuildLogoutResponse: %v", err)
	}
	if el.Tag != "LogoutResponse" {
		t.Errorf("tag = %q", el.Tag)
	}
	if got := el.SelectAttrValue("InResponseTo", ""); got != "id-req-1" {
		t.Errorf("InResponseTo = %q", got)
	}
	if el.FindElement("Signature") == nil {
		t.Error("logout responses are always signed")
	}
}
