package ports

import (
	"crypto"
	"crypto/x509"
	"net/http"

	"github.com/beevik/etree"
)

// Signature digest algorithms accepted by SignOptions.Algorithm.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
)

// SignOptions control XML signature generation.
type SignOptions struct {
	// Algorithm is the digest algorithm, AlgorithmSHA1 (default) or
	// AlgorithmSHA256. The signature method follows the key type: RSA keys
	// produce RSA-SHA1/SHA256, EC keys ECDSA-SHA1.
	Algorithm string

	// AddKeyName embeds the signing key's name in the KeyInfo.
	AddKeyName bool

	// AddCertificate embeds the signing X.509 certificate in the KeyInfo.
	AddCertificate bool
}

// XMLSigner signs SAML XML objects and raw query strings with the server's
// signing key. This is a port interface - implementations are adapters.
type XMLSigner interface {
	// SignElement envelopes an XML signature into el and returns the signed
	// element. Idempotent: an element already carrying a Signature child is
	// returned unchanged.
	SignElement(el *etree.Element, opts SignOptions) (*etree.Element, error)

	// SignQuery signs the raw query string and returns the Base64 signature
	// value and the signature algorithm identifier, for the HTTP-Redirect
	// binding.
	SignQuery(query string) (signature string, sigAlg string, err error)
}

// XMLVerifier verifies XML signatures on SAML objects.
type XMLVerifier interface {
	// VerifyElement reports whether el carries a signature that passes both
	// the structural profile check and the cryptographic check against the
	// given certificate. An absent signature is a failed verification.
	VerifyElement(el *etree.Element, cert *x509.Certificate) bool

	// VerifyQueryString reconstructs the signed byte string from the
	// request's query parameters (all parameters except Signature and
	// consent, in original order, joined by "&") and verifies the
	// Base64-decoded Signature parameter against key. The algorithm is
	// SHA1withRSA or SHA1withDSA depending on the key type.
	VerifyQueryString(key crypto.PublicKey, r *http.Request) bool
}
