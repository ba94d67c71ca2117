package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

const dsigNamespace = "http://www.w3.org/2000/09/xmldsig#"

// Service signs and verifies SAML XML objects with the server's key pair.
type Service struct {
	signer  crypto.Signer
	cert    *x509.Certificate
	keyName string
	logger  *zap.Logger
}

// NewService creates a signature service. keyName is the name embedded in
// KeyInfo when SignOptions.AddKeyName is set; empty falls back to the
// certificate subject.
func NewService(signer crypto.Signer, cert *x509.Certificate, keyName string, logger *zap.Logger) *Service {
	return &Service{signer: signer, cert: cert, keyName: keyName, logger: logger}
}

// SignElement envelopes an XML signature into el. A no-op when el already
// carries a signature.
func (s *Service) SignElement(el *etree.Element, opts ports.SignOptions) (*etree.Element, error) {
	if hasSignature(el) {
		return el, nil
	}

	method, err := s.signatureMethod(opts.Algorithm)
	if err != nil {
		return nil, domain.InternalError("unsupported signing configuration", err)
	}

	ctx, err := dsig.NewSigningContext(s.signer, [][]byte{s.cert.Raw})
	if err != nil {
		return nil, domain.InternalError("signing context", err)
	}
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	if err := ctx.SetSignatureMethod(method); err != nil {
		return nil, domain.InternalError("signature method", err)
	}

	signed, err := ctx.SignEnveloped(el)
	if err != nil {
		return nil, domain.InternalError("xml signing failed", err)
	}

	s.adjustKeyInfo(signed, opts)
	return signed, nil
}

// signatureMethod selects the signature algorithm by key type, per the
// requested digest.
func (s *Service) signatureMethod(algorithm string) (string, error) {
	switch s.signer.Public().(type) {
	case *rsa.PublicKey:
		if algorithm == ports.AlgorithmSHA256 {
			return dsig.RSASHA256SignatureMethod, nil
		}
		return dsig.RSASHA1SignatureMethod, nil
	case *ecdsa.PublicKey:
		return dsig.ECDSASHA1SignatureMethod, nil
	default:
		return "", fmt.Errorf("no signature method for key type %T", s.signer.Public())
	}
}

// adjustKeyInfo rewrites the generated KeyInfo to the requested shape:
// goxmldsig always embeds the certificate, while callers may want a key
// name, both, or neither.
func (s *Service) adjustKeyInfo(signed *etree.Element, opts ports.SignOptions) {
	sig := findChild(signed, dsigNamespace, "Signature")
	if sig == nil {
		return
	}
	keyInfo := findChild(sig, dsigNamespace, "KeyInfo")
	if keyInfo == nil {
		return
	}

	if !opts.AddCertificate {
		if x509Data := findChild(keyInfo, dsigNamespace, "X509Data"); x509Data != nil {
			keyInfo.RemoveChild(x509Data)
		}
	}
	if opts.AddKeyName {
		name := s.keyName
		if name == "" {
			name = s.cert.Subject.CommonName
		}
		keyName := keyInfo.CreateElement("ds:KeyName")
		keyName.SetText(name)
	}
	if !opts.AddCertificate && !opts.AddKeyName {
		sig.RemoveChild(keyInfo)
	}
}

// VerifyElement checks the signature on el against the given certificate.
// Both the structural profile check and the cryptographic check must pass.
func (s *Service) VerifyElement(el *etree.Element, cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	if !hasSignature(el) {
		if s.logger != nil {
			s.logger.Warn("signature verification on unsigned object",
				zap.String("element", el.Tag))
		}
		return false
	}

	ctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	if _, err := ctx.Validate(el); err != nil {
		if s.logger != nil {
			s.logger.Warn("signature verification failed",
				zap.String("element", el.Tag),
				zap.Error(err))
		}
		return false
	}
	return true
}

// hasSignature reports whether el carries an enveloped dsig Signature child.
func hasSignature(el *etree.Element) bool {
	return findChild(el, dsigNamespace, "Signature") != nil
}

// findChild locates a direct child by namespace and local name.
func findChild(el *etree.Element, namespace, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag && child.NamespaceURI() == namespace {
			return child
		}
	}
	return nil
}

// Ensure Service implements the signing and verification ports
var (
	_ ports.XMLSigner   = (*Service)(nil)
	_ ports.XMLVerifier = (*Service)(nil)
)
