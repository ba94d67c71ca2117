// Command testpartner runs a standalone federation partner stub for manual
// testing. It serves SAML metadata and answers LogoutRequests and session
// sync queries over SOAP.
// Usage: go run ./cmd/testpartner
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/beevik/etree"
)

const soapNS = "http://schemas.xmlsoap.org/soap/envelope/"

func main() {
	port := flag.Int("port", 8444, "Port to listen on")
	entityID := flag.String("entity-id", "https://testpartner.local/saml", "Entity ID to present")
	deny := flag.Bool("deny", false, "Answer session sync queries with Deny")
	flag.Parse()

	_, cert, err := generateSelfSignedCert()
	if err != nil {
		log.Fatalf("Failed to generate certificate: %v", err)
	}

	base := fmt.Sprintf("http://localhost:%d", *port)

	mux := http.NewServeMux()
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/samlmetadata+xml")
		fmt.Fprint(w, buildMetadata(*entityID, base, cert))
	})
	mux.HandleFunc("/soap", func(w http.ResponseWriter, r *http.Request) {
		handleSOAP(w, r, *deny)
	})

	log.Printf("Test partner %s listening on %s", *entityID, base)
	log.Printf("Metadata: %s/metadata", base)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", *port), mux))
}

// handleSOAP answers LogoutRequests with a Success LogoutResponse and
// session sync queries with a Permit (or Deny) decision.
func handleSOAP(w http.ResponseWriter, r *http.Request, deny bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		http.Error(w, "not xml", http.StatusBadRequest)
		return
	}
	body := findTag(doc.Root(), "Body")
	if body == nil || len(body.ChildElements()) == 0 {
		http.Error(w, "empty soap body", http.StatusBadRequest)
		return
	}
	msg := body.ChildElements()[0]

	var reply *etree.Element
	switch msg.Tag {
	case "LogoutRequest":
		log.Printf("LogoutRequest %s", msg.SelectAttrValue("ID", "?"))
		reply = buildLogoutResponse(msg.SelectAttrValue("ID", ""))
	case "AuthzDecisionQuery":
		log.Printf("AuthzDecisionQuery %s", msg.SelectAttrValue("ID", "?"))
		reply = buildAuthzResponse(deny)
	case "Request":
		log.Printf("XACML Request")
		reply = buildXACMLResponse(deny)
	default:
		http.Error(w, "unsupported message "+msg.Tag, http.StatusBadRequest)
		return
	}

	envelope := etree.NewDocument()
	envelope.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := envelope.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", soapNS)
	env.CreateElement("soapenv:Header")
	env.CreateElement("soapenv:Body").AddChild(reply)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	envelope.WriteTo(w)
}

func buildLogoutResponse(inResponseTo string) *etree.Element {
	el := etree.NewElement("samlp:LogoutResponse")
	el.CreateAttr("xmlns:samlp", "urn:oasis:names:tc:SAML:2.0:protocol")
	el.CreateAttr("ID", fmt.Sprintf("id-%d", time.Now().UnixNano()))
	el.CreateAttr("Version", "2.0")
	el.CreateAttr("IssueInstant", time.Now().UTC().Format(time.RFC3339))
	el.CreateAttr("InResponseTo", inResponseTo)
	status := el.CreateElement("samlp:Status")
	code := status.CreateElement("samlp:StatusCode")
	code.CreateAttr("Value", "urn:oasis:names:tc:SAML:2.0:status:Success")
	return el
}

func buildAuthzResponse(deny bool) *etree.Element {
	decision := "Permit"
	if deny {
		decision = "Deny"
	}
	el := etree.NewElement("samlp:Response")
	el.CreateAttr("xmlns:samlp", "urn:oasis:names:tc:SAML:2.0:protocol")
	el.CreateAttr("xmlns:saml", "urn:oasis:names:tc:SAML:2.0:assertion")
	assertion := el.CreateElement("saml:Assertion")
	stmt := assertion.CreateElement("saml:AuthzDecisionStatement")
	stmt.CreateAttr("Decision", decision)
	return el
}

func buildXACMLResponse(deny bool) *etree.Element {
	decision := "Permit"
	if deny {
		decision = "Deny"
	}
	el := etree.NewElement("Response")
	el.CreateAttr("xmlns", "urn:oasis:names:tc:xacml:1.0:context")
	result := el.CreateElement("Result")
	result.CreateElement("Decision").SetText(decision)
	return el
}

// buildMetadata renders a minimal IDPSSODescriptor with a SOAP logout
// endpoint and the signing certificate.
func buildMetadata(entityID, base string, cert *x509.Certificate) string {
	certB64 := base64.StdEncoding.EncodeToString(cert.Raw)
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<EntityDescriptor xmlns="urn:oasis:names:tc:SAML:2.0:metadata" entityID="%s">
  <IDPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <KeyDescriptor use="signing">
      <KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#">
        <X509Data><X509Certificate>%s</X509Certificate></X509Data>
      </KeyInfo>
    </KeyDescriptor>
    <SingleLogoutService Binding="urn:oasis:names:tc:SAML:2.0:bindings:SOAP" Location="%s/soap"/>
    <SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="%s/sso"/>
  </IDPSSODescriptor>
</EntityDescriptor>`, entityID, certB64, base, base)
}

func findTag(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	if el.Tag == tag {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findTag(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func generateSelfSignedCert() (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "testpartner"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}
