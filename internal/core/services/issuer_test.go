//go:build unit

package services

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/renait/aselect-sub006/internal/core/domain"
)

func testIssuer(cfg IssuerConfig, tickets *fakeTicketStore, sessions *fakeSessionStore) *Issuer {
	if cfg.ServerID == "" {
		cfg.ServerID = "server1.test"
	}
	return NewIssuer(cfg, tickets, sessions, newFakeMetadata(), nil, nil, nil)
}

func baseSession(rid string) *domain.AuthSession {
	return &domain.AuthSession{
		RID:           rid,
		AppID:         "app1",
		AppURL:        "https://app.test/return",
		UID:           "jdoe",
		Organization:  "org-a",
		AuthSP:        "ldap",
		AuthSPLevel:   2,
		RequiredLevel: 2,
		Language:      "nl",
	}
}

func TestIssueTicket_MissingSession(t *testing.T) {
	issuer := testIssuer(IssuerConfig{}, newFakeTicketStore(), newFakeSessionStore())

	_, err := issuer.IssueTicketAndRedirect(context.Background(), IssueRequest{RID: "unknown"})
	if domain.CodeOf(err) != domain.ErrCodeSessionExpired {
		t.Errorf("error code = %q, want session_expired", domain.CodeOf(err))
	}
}

func TestIssueTicket_RedirectAndCookie(t *testing.T) {
	tickets := newFakeTicketStore()
	sessions := newFakeSessionStore()
	sessions.Put(baseSession("rid1"))

	issuer := testIssuer(IssuerConfig{
		SSOEnabled:   true,
		CookieDomain: ".test",
		AuthSPLevels: map[string]int{"ldap": 3},
	}, tickets, sessions)

	result, err := issuer.IssueTicketAndRedirect(context.Background(), IssueRequest{RID: "rid1"})
	if err != nil {
		t.Fatalf("IssueTicketAndRedirect: %v", err)
	}
	if result.Status != StatusRedirect {
		t.Fatalf("Status = %v, want StatusRedirect", result.Status)
	}

	u, err := url.Parse(result.RedirectURL)
	if err != nil {
		t.Fatalf("redirect URL: %v", err)
	}
	q := u.Query()
	if q.Get(CredentialsCookieName) != result.TicketID {
		t.Error("redirect must carry the ticket id as aselect_credentials")
	}
	if q.Get("rid") != "rid1" || q.Get("a-select-server") != "server1.test" {
		t.Errorf("redirect params = %v", q)
	}
	if q.Get("language") != "nl" {
		t.Errorf("language = %q, want nl", q.Get("language"))
	}

	if len(result.Cookies) == 0 || result.Cookies[0].Name != CredentialsCookieName {
		t.Fatal("SSO issuance must set the credentials cookie")
	}
	if !result.Cookies[0].HTTPOnly {
		t.Error("credentials cookie must be HttpOnly")
	}

	// The configured AuthSP level (3) outranks the session-reported one (2).
	stored := tickets.tickets[result.TicketID]
	if stored.AuthSPLevel != 3 || stored.SelLevel != 3 {
		t.Errorf("levels = (%d, %d), want (3, 3)", stored.AuthSPLevel, stored.SelLevel)
	}

	if _, err := sessions.Get("rid1"); err == nil {
		t.Error("terminal issuance must delete the pre-auth session")
	}
}

func TestIssueTicket_ForcedAuthSkipsCookieAndMerge(t *testing.T) {
	tickets := newFakeTicketStore()
	oldID, _ := tickets.Create(context.Background(), &domain.Ticket{UID: "jdoe", SelLevel: 9, AuthSPLevel: 9})

	sessions := newFakeSessionStore()
	session := baseSession("rid1")
	session.ForcedAuthenticate = true
	sessions.Put(session)

	issuer := testIssuer(IssuerConfig{SSOEnabled: true}, tickets, sessions)
	tickets.nextID = "ticket-2"

	result, err := issuer.IssueTicketAndRedirect(context.Background(),
		IssueRequest{RID: "rid1", OldTicketID: oldID})
	if err != nil {
		t.Fatalf("IssueTicketAndRedirect: %v", err)
	}
	if result.TicketID == oldID {
		t.Error("forced authentication must not merge into the old ticket")
	}
	if len(result.Cookies) != 0 {
		t.Error("forced authentication must not set an SSO cookie")
	}
}

func TestIssueTicket_SpecialsStripped(t *testing.T) {
	tickets := newFakeTicketStore()
	sessions := newFakeSessionStore()
	session := baseSession("rid1")
	session.AppURL = "https://app.test/return?aselect_specials=abc&keep=1"
	sessions.Put(session)

	issuer := testIssuer(IssuerConfig{}, tickets, sessions)
	result, err := issuer.IssueTicketAndRedirect(context.Background(), IssueRequest{RID: "rid1"})
	if err != nil {
		t.Fatalf("IssueTicketAndRedirect: %v", err)
	}
	if strings.Contains(result.RedirectURL, "aselect_specials") {
		t.Errorf("aselect_specials leaked into %q", result.RedirectURL)
	}
	if !strings.Contains(result.RedirectURL, "keep=1") {
		t.Error("unrelated app parameters must survive")
	}
}

func TestIssueTicket_OrgChoicePausesBeforeOBO(t *testing.T) {
	tickets := newFakeTicketStore()
	sessions := newFakeSessionStore()
	session := baseSession("rid1")
	session.Organization = ""
	session.Organizations = []string{"org-a", "org-b"}
	sessions.Put(session)

	issuer := testIssuer(IssuerConfig{
		OBO: map[string]OBOConfig{"app1": {Enabled: true, FirstStep: 1}},
	}, tickets, sessions)

	result, err := issuer.IssueTicketAndRedirect(context.Background(), IssueRequest{RID: "rid1"})
	if err != nil {
		t.Fatalf("IssueTicketAndRedirect: %v", err)
	}
	if result.Status != StatusOrgChoice {
		t.Fatalf("Status = %v, want StatusOrgChoice before the on-behalf-of step", result.Status)
	}
	if len(result.Organizations) != 2 {
		t.Errorf("Organizations = %v", result.Organizations)
	}
	if _, err := sessions.Get("rid1"); err != nil {
		t.Error("the session must survive an organization-choice pause")
	}

	// Resuming with the choice now pauses for on-behalf-of.
	result, err = issuer.IssueTicketAndRedirect(context.Background(),
		IssueRequest{RID: "rid1", ChosenOrganization: "org-b"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Status != StatusOBOForm {
		t.Fatalf("Status = %v, want StatusOBOForm", result.Status)
	}
	if !result.OutputClosed {
		t.Error("the on-behalf-of pause must mark the output closed")
	}

	// Completing the on-behalf-of step finishes issuance.
	result, err = issuer.IssueTicketAndRedirect(context.Background(),
		IssueRequest{RID: "rid1", OBOCompleted: true})
	if err != nil {
		t.Fatalf("final issuance: %v", err)
	}
	if result.Status != StatusRedirect {
		t.Fatalf("Status = %v, want StatusRedirect", result.Status)
	}
	if tickets.tickets[result.TicketID].Organization != "org-b" {
		t.Errorf("Organization = %q, want org-b", tickets.tickets[result.TicketID].Organization)
	}
}

func TestIssueTicket_MergeKeepsIDAndNeverDowngrades(t *testing.T) {
	tickets := newFakeTicketStore()
	oldID, _ := tickets.Create(context.Background(), &domain.Ticket{
		UID: "jdoe", AuthSPLevel: 8, SelLevel: 8, NameID: "fed-subject",
	})

	sessions := newFakeSessionStore()
	sessions.Put(baseSession("rid1"))

	issuer := testIssuer(IssuerConfig{AuthSPLevels: map[string]int{"ldap": 2}}, tickets, sessions)

	result, err := issuer.IssueTicketAndRedirect(context.Background(),
		IssueRequest{RID: "rid1", OldTicketID: oldID})
	if err != nil {
		t.Fatalf("IssueTicketAndRedirect: %v", err)
	}
	if result.TicketID != oldID {
		t.Errorf("merge must keep the old ticket id, got %q", result.TicketID)
	}
	merged := tickets.tickets[oldID]
	if merged.AuthSPLevel != 8 || merged.SelLevel != 8 {
		t.Errorf("levels = (%d, %d), a merge must never downgrade", merged.AuthSPLevel, merged.SelLevel)
	}
	if merged.NameID != "fed-subject" {
		t.Errorf("NameID = %q, the federation subject belongs to the session lifetime", merged.NameID)
	}
	if merged.UID != "jdoe" || merged.AppID != "app1" {
		t.Error("merge must carry the fresh context fields")
	}
}

func TestIssueTicket_StoreFull(t *testing.T) {
	tickets := newFakeTicketStore()
	tickets.full = true
	sessions := newFakeSessionStore()
	sessions.Put(baseSession("rid1"))

	issuer := testIssuer(IssuerConfig{}, tickets, sessions)
	_, err := issuer.IssueTicketAndRedirect(context.Background(), IssueRequest{RID: "rid1"})
	if domain.CodeOf(err) != domain.ErrCodeServerBusy {
		t.Errorf("error code = %q, want server_busy", domain.CodeOf(err))
	}
}

func TestIssueErrorTicket_AlwaysRedirects(t *testing.T) {
	tickets := newFakeTicketStore()
	sessions := newFakeSessionStore()
	session := baseSession("rid1")
	session.Organizations = []string{"org-a", "org-b"}
	session.Organization = ""
	sessions.Put(session)

	issuer := testIssuer(IssuerConfig{}, tickets, sessions)
	result, err := issuer.IssueErrorTicketAndRedirect(context.Background(), "rid1", domain.ResultCodeInvalidSignature)
	if err != nil {
		t.Fatalf("IssueErrorTicketAndRedirect: %v", err)
	}
	if result.Status != StatusRedirect {
		t.Fatal("error issuance must never pause")
	}
	stored := tickets.tickets[result.TicketID]
	if stored.ResultCode != domain.ResultCodeInvalidSignature {
		t.Errorf("ResultCode = %q", stored.ResultCode)
	}
	if stored.UID != "" {
		t.Error("an error ticket must stay minimal")
	}
}

func TestIssueTicket_SelLevelOverrideFloor(t *testing.T) {
	tickets := newFakeTicketStore()
	sessions := newFakeSessionStore()
	sessions.Put(baseSession("rid1"))

	issuer := testIssuer(IssuerConfig{AuthSPLevels: map[string]int{"ldap": 4}}, tickets, sessions)
	result, err := issuer.IssueTicketAndRedirect(context.Background(),
		IssueRequest{RID: "rid1", SelLevelOverride: 2})
	if err != nil {
		t.Fatalf("IssueTicketAndRedirect: %v", err)
	}
	stored := tickets.tickets[result.TicketID]
	if stored.SelLevel != 4 {
		t.Errorf("SelLevel = %d, an override below the reached level must be floored to %d", stored.SelLevel, 4)
	}
}
