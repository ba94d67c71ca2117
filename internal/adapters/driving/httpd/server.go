// Package httpd is the HTTP driving adapter: it exposes the credential,
// logout, session sync and operational endpoints and translates between
// HTTP and the core services.
package httpd

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/crewjam/saml"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/adapters/driven/soapclient"
	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
	"github.com/renait/aselect-sub006/internal/core/services"
)

// Server wires the core services to HTTP routes.
type Server struct {
	serverID string
	issuer   *services.Issuer
	logout   *services.LogoutService
	sync     *services.SessionSyncService
	tickets  ports.TicketStore
	sessions ports.SessionStore
	metadata ports.MetadataResolver
	verifier ports.XMLVerifier
	logger   *zap.Logger
}

// NewServer creates the HTTP adapter.
func NewServer(serverID string, issuer *services.Issuer, logout *services.LogoutService, sync *services.SessionSyncService, tickets ports.TicketStore, sessions ports.SessionStore, metadata ports.MetadataResolver, verifier ports.XMLVerifier, logger *zap.Logger) *Server {
	return &Server{
		serverID: serverID,
		issuer:   issuer,
		logout:   logout,
		sync:     sync,
		tickets:  tickets,
		sessions: sessions,
		metadata: metadata,
		verifier: verifier,
		logger:   logger,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/server", func(r chi.Router) {
		r.Post("/session", s.handleStartSession)
		r.Get("/credentials", s.handleIssue)
		r.Post("/credentials", s.handleIssue)
		r.Post("/cross", s.handleCrossIssue)
		r.Post("/error", s.handleErrorIssue)
		r.Post("/verify", s.handleVerify)
		r.Post("/logout", s.handleLogout)
		r.Get("/slo", s.handleRedirectLogout)
		r.Post("/slo", s.handleSOAPLogout)
	})

	r.Route("/admin/metadata", func(r chi.Router) {
		r.Get("/", s.handleMetadataList)
		r.Delete("/{entityID}", s.handleMetadataRemove)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleStartSession opens a pre-auth session for an application and
// returns the request id the application forwards to its users.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, domain.BadRequestError("malformed form"))
		return
	}
	appID := r.PostFormValue("app_id")
	appURL := r.PostFormValue("app_url")
	if appID == "" || appURL == "" {
		s.writeError(w, domain.BadRequestError("app_id and app_url are required"))
		return
	}
	if _, err := url.Parse(appURL); err != nil {
		s.writeError(w, domain.BadRequestError("app_url is not a valid URL"))
		return
	}

	level, _ := strconv.Atoi(r.PostFormValue("required_level"))
	session := &domain.AuthSession{
		RID:                strings.ReplaceAll(uuid.NewString(), "-", ""),
		AppID:              appID,
		AppURL:             appURL,
		UID:                r.PostFormValue("uid"),
		AuthSP:             r.PostFormValue("authsp"),
		RequiredLevel:      level,
		ForcedAuthenticate: r.PostFormValue("forced_logon") == "true",
		ClientIP:           clientIP(r),
		Language:           r.PostFormValue("language"),
		SPAssertURL:        r.PostFormValue("sp_assert_url"),
		SPReqBinding:       r.PostFormValue("sp_req_binding"),
	}
	if orgs := r.PostFormValue("organizations"); orgs != "" {
		session.Organizations = strings.Split(orgs, ",")
	}
	if len(session.Organizations) == 1 {
		session.Organization = session.Organizations[0]
	}
	if err := s.sessions.Put(session); err != nil {
		s.writeError(w, domain.InternalError("session store failed", err))
		return
	}

	s.writeResult(w, url.Values{
		"result_code":     {domain.ResultCodeSuccess},
		"rid":             {session.RID},
		"a-select-server": {s.serverID},
	})
}

// handleIssue completes an authentication: it turns the pending session
// into a ticket and redirects the browser back to the application. The
// flow may pause for an organization choice or an on-behalf-of form.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, domain.BadRequestError("malformed form"))
		return
	}

	req := services.IssueRequest{
		RID:                r.FormValue("rid"),
		ChosenOrganization: r.FormValue("organization"),
		OBOCompleted:       r.FormValue("obo_completed") == "true",
	}
	if v := r.FormValue("sel_level"); v != "" {
		req.SelLevelOverride, _ = strconv.Atoi(v)
	}
	if cookie, err := r.Cookie(services.CredentialsCookieName); err == nil {
		req.OldTicketID = cookie.Value
	}

	result, err := s.issuer.IssueTicketAndRedirect(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeIssueResult(w, r, result)
}

// handleCrossIssue completes a cross-domain authentication from a remote
// server's signed credential.
func (s *Server) handleCrossIssue(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, domain.BadRequestError("malformed form"))
		return
	}
	result, err := s.issuer.IssueCrossTicketAndRedirect(r.Context(), services.CrossIssueRequest{
		RID:                r.PostFormValue("rid"),
		RemoteServerID:     r.PostFormValue("remote_server"),
		RemoteOrganization: r.PostFormValue("remote_organization"),
		Credential:         r.PostFormValue("credentials"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeIssueResult(w, r, result)
}

// handleErrorIssue records a failed authentication as an error ticket so
// the application learns the result code through the normal redirect.
func (s *Server) handleErrorIssue(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, domain.BadRequestError("malformed form"))
		return
	}
	code := r.PostFormValue("result_code")
	if code == "" || code == domain.ResultCodeSuccess {
		s.writeError(w, domain.BadRequestError("a failure result_code is required"))
		return
	}
	result, err := s.issuer.IssueErrorTicketAndRedirect(r.Context(), r.PostFormValue("rid"), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeIssueResult(w, r, result)
}

func (s *Server) writeIssueResult(w http.ResponseWriter, r *http.Request, result *services.IssueResult) {
	switch result.Status {
	case services.StatusOrgChoice:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<form method=\"post\" action=\"credentials\"><input type=\"hidden\" name=\"rid\" value=%q>", result.RID)
		for _, org := range result.Organizations {
			fmt.Fprintf(w, "<button name=\"organization\" value=%q>%s</button>", org, org)
		}
		fmt.Fprint(w, "</form>")
	case services.StatusOBOForm:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<form method=\"post\" action=\"credentials\"><input type=\"hidden\" name=\"rid\" value=%q><input type=\"hidden\" name=\"obo_completed\" value=\"true\"><input type=\"hidden\" name=\"obo_step\" value=\"%d\"><button>Continue</button></form>", result.RID, result.OBOStep)
	default:
		for _, c := range result.Cookies {
			http.SetCookie(w, &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     orRoot(c.Path),
				HttpOnly: c.HTTPOnly,
			})
		}
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
	}
}

// handleVerify is the application-facing credential check. A federated
// ticket is synced with its partner first; a denied sync invalidates the
// credential.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, domain.BadRequestError("malformed form"))
		return
	}
	ticketID := r.PostFormValue(services.CredentialsCookieName)
	if ticketID == "" {
		s.writeError(w, domain.BadRequestError("aselect_credentials is required"))
		return
	}

	ticket, err := s.tickets.Get(r.Context(), ticketID)
	if err != nil {
		s.writeError(w, domain.UnknownTicketError())
		return
	}

	// Error tickets are consumed on first verification.
	if ticket.ResultCode != "" && ticket.ResultCode != domain.ResultCodeSuccess {
		s.tickets.Remove(r.Context(), ticketID)
		s.writeResult(w, url.Values{"result_code": {ticket.ResultCode}})
		return
	}

	if _, err := s.sync.Sync(r.Context(), ticket); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeResult(w, url.Values{
		"result_code":     {domain.ResultCodeSuccess},
		"uid":             {ticket.UID},
		"organization":    {ticket.Organization},
		"authsp":          {ticket.AuthSP},
		"authsp_level":    {strconv.Itoa(ticket.AuthSPLevel)},
		"sel_level":       {strconv.Itoa(ticket.SelLevel)},
		"app_id":          {ticket.AppID},
		"a-select-server": {s.serverID},
	})
}

// handleLogout ends the local session and notifies the federation partner.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, domain.BadRequestError("malformed form"))
		return
	}
	ticketID := r.PostFormValue(services.CredentialsCookieName)
	if ticketID == "" {
		if cookie, err := r.Cookie(services.CredentialsCookieName); err == nil {
			ticketID = cookie.Value
		}
	}
	if ticketID == "" {
		s.writeError(w, domain.BadRequestError("no credential to log out"))
		return
	}

	if err := s.logout.InitiateLogout(r.Context(), ticketID, "urn:oasis:names:tc:SAML:2.0:logout:user"); err != nil {
		s.writeError(w, err)
		return
	}

	expireCookie(w, services.CredentialsCookieName)
	expireCookie(w, services.SSONameCookieName)

	if target := r.PostFormValue("return_url"); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	s.writeResult(w, url.Values{"result_code": {domain.ResultCodeSuccess}})
}

// handleRedirectLogout receives an IdP-initiated LogoutRequest over the
// HTTP-Redirect binding. The signature lives in the query string, so it is
// verified here before the message reaches the service.
func (s *Server) handleRedirectLogout(w http.ResponseWriter, r *http.Request) {
	encoded := r.URL.Query().Get("SAMLRequest")
	if encoded == "" {
		s.writeError(w, domain.BadRequestError("SAMLRequest is required"))
		return
	}
	req, err := decodeRedirectRequest(encoded)
	if err != nil {
		s.writeError(w, domain.BadRequestError("undecodable SAMLRequest"))
		return
	}

	issuer := ""
	if req.Issuer != nil {
		issuer = req.Issuer.Value
	}
	cert := s.metadata.SigningCertificate(r.Context(), issuer)
	if cert == nil || !s.verifier.VerifyQueryString(cert.PublicKey, r) {
		s.writeError(w, domain.SignatureError("logout request signature verification failed", nil))
		return
	}

	result := s.logout.HandleLogoutRequest(r.Context(), req, nil, r.URL.Query().Get("RelayState"), false)
	if len(result.FanOutRedirects) > 0 {
		// Front-channel fan-out: the partners are notified through hidden
		// frames, then the browser follows the final redirect.
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		for _, u := range result.FanOutRedirects {
			fmt.Fprintf(w, "<iframe src=%q style=\"display:none\"></iframe>", u)
		}
		if result.RedirectURL != "" {
			fmt.Fprintf(w, "<meta http-equiv=\"refresh\" content=\"2;url=%s\">", result.RedirectURL)
		}
		return
	}
	if result.RedirectURL != "" {
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
		return
	}
	s.writeResult(w, url.Values{"result_code": {result.ResultCode}})
}

// handleSOAPLogout receives an IdP-initiated LogoutRequest over the SOAP
// binding and answers with a signed LogoutResponse in the same connection.
func (s *Server) handleSOAPLogout(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	el, err := soapclient.ExtractBody(data)
	if err != nil || el.Tag != "LogoutRequest" {
		http.Error(w, "not a logout request", http.StatusBadRequest)
		return
	}
	req, err := elementToLogoutRequest(el)
	if err != nil {
		http.Error(w, "malformed logout request", http.StatusBadRequest)
		return
	}

	result := s.logout.HandleLogoutRequest(r.Context(), req, el, "", true)

	statusCode := saml.StatusSuccess
	if result.ResultCode != domain.ResultCodeSuccess {
		statusCode = "urn:oasis:names:tc:SAML:2.0:status:Responder"
	}
	response, err := s.logout.BuildLogoutResponse(req.ID, statusCode)
	if err != nil {
		http.Error(w, "response build failed", http.StatusInternalServerError)
		return
	}
	writeSOAP(w, response)
}

func (s *Server) handleMetadataList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.metadata.List())
}

func (s *Server) handleMetadataRemove(w http.ResponseWriter, r *http.Request) {
	entityID, err := url.PathUnescape(chi.URLParam(r, "entityID"))
	if err != nil {
		http.Error(w, "bad entity id", http.StatusBadRequest)
		return
	}
	if !s.metadata.Remove(entityID) {
		http.Error(w, "not cached", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeResult writes an A-Select style form-encoded result body.
func (s *Server) writeResult(w http.ResponseWriter, values url.Values) {
	w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
	fmt.Fprint(w, values.Encode())
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	if s.logger != nil {
		s.logger.Info("request failed",
			zap.String("code", code.String()),
			zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
	w.WriteHeader(code.HTTPStatus())
	fmt.Fprint(w, url.Values{"result_code": {code.ResultCode()}}.Encode())
}

// decodeRedirectRequest base64+inflate decodes a redirect-binding
// LogoutRequest.
func decodeRedirectRequest(encoded string) (*saml.LogoutRequest, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return nil, err
	}
	req := &saml.LogoutRequest{}
	if err := xml.Unmarshal(data, req); err != nil {
		return nil, err
	}
	return req, nil
}

// elementToLogoutRequest converts a parsed XML element back to the typed
// message.
func elementToLogoutRequest(el *etree.Element) (*saml.LogoutRequest, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	req := &saml.LogoutRequest{}
	if err := xml.Unmarshal(data, req); err != nil {
		return nil, err
	}
	return req, nil
}

func writeSOAP(w http.ResponseWriter, body *etree.Element) {
	envelope := etree.NewDocument()
	envelope.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := envelope.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", "http://schemas.xmlsoap.org/soap/envelope/")
	env.CreateElement("soapenv:Header")
	env.CreateElement("soapenv:Body").AddChild(body.Copy())

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	envelope.WriteTo(w)
}

func expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func orRoot(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
