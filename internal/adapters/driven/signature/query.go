package signature

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // partner servers still present DSA keys
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/zap"
)

// Query parameters excluded from the reconstructed signed string. Partners
// append consent after signing, so it can never be part of the signature.
const (
	paramSignature = "Signature"
	paramConsent   = "consent"
)

// SignQuery signs the raw query string for the HTTP-Redirect binding and
// returns the Base64 signature and the signature algorithm identifier.
func (s *Service) SignQuery(query string) (string, string, error) {
	digest := sha1.Sum([]byte(query))

	switch key := s.signer.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
		if err != nil {
			return "", "", fmt.Errorf("sign query: %w", err)
		}
		return base64.StdEncoding.EncodeToString(sig), dsig.RSASHA1SignatureMethod, nil
	case *ecdsa.PrivateKey:
		sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
		if err != nil {
			return "", "", fmt.Errorf("sign query: %w", err)
		}
		return base64.StdEncoding.EncodeToString(sig), dsig.ECDSASHA1SignatureMethod, nil
	default:
		return "", "", fmt.Errorf("no query signature for key type %T", s.signer)
	}
}

// dsaSignature is the ASN.1 structure of a SHA1withDSA signature value.
type dsaSignature struct {
	R, S *big.Int
}

// VerifyQueryString verifies the Signature query parameter of a signed
// redirect-binding request. The signed byte string is every query parameter
// except Signature and consent, in original order, joined by "&".
func (s *Service) VerifyQueryString(key crypto.PublicKey, r *http.Request) bool {
	signedData, sigValue, ok := splitSignedQuery(r.URL.RawQuery)
	if !ok {
		if s.logger != nil {
			s.logger.Warn("signed query without Signature parameter")
		}
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(sigValue)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("undecodable query signature", zap.Error(err))
		}
		return false
	}

	digest := sha1.Sum([]byte(signedData))

	switch pub := key.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig) == nil
	case *dsa.PublicKey:
		var parsed dsaSignature
		if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
			return false
		}
		return dsa.Verify(pub, digest[:], parsed.R, parsed.S)
	default:
		if s.logger != nil {
			s.logger.Warn("unsupported query verification key",
				zap.String("type", fmt.Sprintf("%T", key)))
		}
		return false
	}
}

// splitSignedQuery reconstructs the signed byte string from the raw query,
// preserving the original parameter order, and extracts the decoded
// Signature value.
func splitSignedQuery(rawQuery string) (signedData, signature string, ok bool) {
	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			name = pair[:i]
		}
		decoded, err := url.QueryUnescape(name)
		if err != nil {
			decoded = name
		}
		switch decoded {
		case paramSignature:
			if i := strings.IndexByte(pair, '='); i >= 0 {
				value, err := url.QueryUnescape(pair[i+1:])
				if err != nil {
					return "", "", false
				}
				signature = value
			}
		case paramConsent:
			// excluded from the signed string
		default:
			kept = append(kept, pair)
		}
	}
	if signature == "" {
		return "", "", false
	}
	return strings.Join(kept, "&"), signature, true
}
