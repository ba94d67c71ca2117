package ports

import (
	"context"

	"github.com/beevik/etree"
)

// SOAPClient is the port interface for back-channel SOAP 1.1 exchanges with
// federation partners. A single failed attempt is a protocol failure; there
// are no retries.
type SOAPClient interface {
	// Call wraps body in a SOAP envelope, POSTs it to url as
	// "text/xml; charset=utf-8" and returns the first element of the
	// response envelope's Body.
	Call(ctx context.Context, url string, body *etree.Element) (*etree.Element, error)
}
