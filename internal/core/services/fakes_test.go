//go:build unit

package services

import (
	"context"
	"crypto"
	"crypto/x509"
	"net/http"
	"time"

	"github.com/beevik/etree"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

// Shared test doubles for the service tests. Behavior is the minimum the
// services observe through the ports.

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeTicketStore struct {
	tickets map[string]*domain.Ticket
	nextID  string
	full    bool

	quietUpdates int
	removed      []string
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{tickets: map[string]*domain.Ticket{}, nextID: "ticket-1"}
}

func (s *fakeTicketStore) Create(_ context.Context, t *domain.Ticket) (string, error) {
	if s.full {
		return "", ports.ErrStoreFull
	}
	id := s.nextID
	stored := t.Clone()
	stored.ID = id
	if stored.NameID == "" {
		stored.NameID = id
	}
	stored.Timestamp = time.Now()
	s.tickets[id] = stored
	t.ID = stored.ID
	t.NameID = stored.NameID
	t.Timestamp = stored.Timestamp
	return id, nil
}

func (s *fakeTicketStore) Get(_ context.Context, id string) (*domain.Ticket, error) {
	t, ok := s.tickets[id]
	if !ok {
		return nil, ports.ErrTicketNotFound
	}
	return t.Clone(), nil
}

func (s *fakeTicketStore) Update(_ context.Context, id string, t *domain.Ticket) bool {
	if _, ok := s.tickets[id]; !ok {
		return false
	}
	stored := t.Clone()
	stored.ID = id
	s.tickets[id] = stored
	return true
}

func (s *fakeTicketStore) UpdateQuietly(_ context.Context, id string, t *domain.Ticket) bool {
	if _, ok := s.tickets[id]; !ok {
		return false
	}
	s.quietUpdates++
	stored := t.Clone()
	stored.ID = id
	s.tickets[id] = stored
	return true
}

func (s *fakeTicketStore) Remove(_ context.Context, id string) error {
	if _, ok := s.tickets[id]; !ok {
		return ports.ErrTicketNotFound
	}
	delete(s.tickets, id)
	s.removed = append(s.removed, id)
	return nil
}

func (s *fakeTicketStore) GetByNameID(_ context.Context, nameID string) (*domain.Ticket, error) {
	for _, t := range s.tickets {
		if t.NameID == nameID {
			return t.Clone(), nil
		}
	}
	return nil, ports.ErrTicketNotFound
}

func (s *fakeTicketStore) RemoveByNameID(_ context.Context, nameID string) bool {
	var ids []string
	for id, t := range s.tickets {
		if t.NameID == nameID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(s.tickets, id)
		s.removed = append(s.removed, id)
	}
	return len(ids) > 0
}

func (s *fakeTicketStore) Count(context.Context) int { return len(s.tickets) }

type fakeSessionStore struct {
	sessions map[string]*domain.AuthSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*domain.AuthSession{}}
}

func (s *fakeSessionStore) Put(session *domain.AuthSession) error {
	s.sessions[session.RID] = session.Clone()
	return nil
}

func (s *fakeSessionStore) Get(rid string) (*domain.AuthSession, error) {
	session, ok := s.sessions[rid]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *fakeSessionStore) Delete(rid string) { delete(s.sessions, rid) }

// fakeMetadata answers endpoint lookups from a static table keyed by
// entity + element + binding.
type fakeMetadata struct {
	locations         map[string]string
	responseLocations map[string]string
	certs             map[string]*x509.Certificate
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		locations:         map[string]string{},
		responseLocations: map[string]string{},
		certs:             map[string]*x509.Certificate{},
	}
}

func mdKey(entityID, element, binding string) string {
	return entityID + "|" + element + "|" + binding
}

func (m *fakeMetadata) Resolve(context.Context, string) error { return nil }

func (m *fakeMetadata) Location(_ context.Context, entityID, element, binding string) string {
	return m.locations[mdKey(entityID, element, binding)]
}

func (m *fakeMetadata) ResponseLocation(_ context.Context, entityID, element, binding string) string {
	return m.responseLocations[mdKey(entityID, element, binding)]
}

func (m *fakeMetadata) SigningCertificate(_ context.Context, entityID string) *x509.Certificate {
	return m.certs[entityID]
}

func (m *fakeMetadata) List() []string      { return nil }
func (m *fakeMetadata) Remove(string) bool  { return false }

// fakeSigner marks elements signed and signs queries with a constant.
type fakeSigner struct {
	signedElements int
	failSign       bool
}

func (s *fakeSigner) SignElement(el *etree.Element, _ ports.SignOptions) (*etree.Element, error) {
	if s.failSign {
		return nil, domain.InternalError("signing disabled", nil)
	}
	s.signedElements++
	el.CreateElement("Signature")
	return el, nil
}

func (s *fakeSigner) SignQuery(string) (string, string, error) {
	return "c2ln", "http://www.w3.org/2000/09/xmldsig#rsa-sha1", nil
}

type fakeVerifier struct{ valid bool }

func (v *fakeVerifier) VerifyElement(*etree.Element, *x509.Certificate) bool { return v.valid }
func (v *fakeVerifier) VerifyQueryString(crypto.PublicKey, *http.Request) bool {
	return v.valid
}

// fakeSOAP records outbound calls and replays canned replies.
type fakeSOAP struct {
	calls   []soapCall
	reply   *etree.Element
	err     error
	replyFn func(url string, body *etree.Element) (*etree.Element, error)
}

type soapCall struct {
	url  string
	body *etree.Element
}

func (s *fakeSOAP) Call(_ context.Context, url string, body *etree.Element) (*etree.Element, error) {
	s.calls = append(s.calls, soapCall{url: url, body: body.Copy()})
	if s.replyFn != nil {
		return s.replyFn(url, body)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

// successLogoutResponse builds the partner reply InitiateLogout expects.
func successLogoutResponse() *etree.Element {
	el := etree.NewElement("LogoutResponse")
	status := el.CreateElement("Status")
	code := status.CreateElement("StatusCode")
	code.CreateAttr("Value", "urn:oasis:names:tc:SAML:2.0:status:Success")
	return el
}

func permitAuthzResponse(decision string) *etree.Element {
	el := etree.NewElement("Response")
	assertion := el.CreateElement("Assertion")
	stmt := assertion.CreateElement("AuthzDecisionStatement")
	stmt.CreateAttr("Decision", decision)
	return el
}

func xacmlResponse(decision string) *etree.Element {
	el := etree.NewElement("Response")
	result := el.CreateElement("Result")
	result.CreateElement("Decision").SetText(decision)
	return el
}
