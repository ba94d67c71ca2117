package soapclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/core/ports"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	contentType    = "text/xml; charset=utf-8"
)

// Client performs SOAP 1.1 exchanges over HTTP POST. There are no retries:
// a single failed attempt is reported as a protocol failure and the caller
// degrades locally.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a SOAP client with the given call timeout.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Call wraps body in a SOAP envelope, POSTs it and returns the first element
// of the response body.
func (c *Client) Call(ctx context.Context, url string, body *etree.Element) (*etree.Element, error) {
	envelope := etree.NewDocument()
	envelope.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := envelope.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", soapEnvelopeNS)
	env.CreateElement("soapenv:Header")
	env.CreateElement("soapenv:Body").AddChild(body.Copy())

	payload, err := envelope.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize soap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create soap request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soap call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("soap call: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read soap response: %w", err)
	}

	reply, err := ExtractBody(data)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("malformed soap response",
				zap.String("url", url),
				zap.Error(err))
		}
		return nil, err
	}
	return reply, nil
}

// ExtractBody parses a SOAP envelope and returns the first element inside
// its Body.
func ExtractBody(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse soap envelope: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, fmt.Errorf("response is not a soap envelope")
	}
	var soapBody *etree.Element
	for _, child := range root.ChildElements() {
		if child.Tag == "Body" {
			soapBody = child
			break
		}
	}
	if soapBody == nil {
		return nil, fmt.Errorf("soap envelope without body")
	}
	children := soapBody.ChildElements()
	if len(children) == 0 {
		return nil, fmt.Errorf("empty soap body")
	}
	return children[0], nil
}

// Ensure Client implements ports.SOAPClient
var _ ports.SOAPClient = (*Client)(nil)
