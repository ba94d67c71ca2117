package services

import (
	"time"

	"github.com/crewjam/saml"

	"github.com/renait/aselect-sub006/internal/core/domain"
)

// WindowedMessage is implemented by the per-message adapters below so the
// validity logic never needs to know which concrete SAML type it is
// checking. Each SAML message carries its bounds in a different place; the
// adapter knows where.
type WindowedMessage interface {
	// Window extracts the message's validity bounds. Absent bounds are nil.
	Window() domain.Window

	// SetWindow writes the bounds back into the message, creating the
	// containing element (e.g. Conditions) if needed.
	SetWindow(domain.Window)
}

// CheckValidity reports whether ref falls inside the message's validity
// window. Messages without bounds are unconstrained and always valid.
func CheckValidity(msg WindowedMessage, ref time.Time) bool {
	return msg.Window().Check(ref)
}

// ApplySlack widens the message's window to
// [ref-maxNotBefore, ref+maxNotOnOrAfter].
func ApplySlack(msg WindowedMessage, ref time.Time, maxNotBefore, maxNotOnOrAfter time.Duration) {
	msg.SetWindow(domain.Slack(ref, maxNotBefore, maxNotOnOrAfter))
}

// optTime maps the zero time to an absent bound.
func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// AssertionWindow adapts a saml.Assertion, whose bounds live in Conditions.
type AssertionWindow struct {
	Assertion *saml.Assertion
}

func (a AssertionWindow) Window() domain.Window {
	if a.Assertion.Conditions == nil {
		return domain.Window{}
	}
	return domain.Window{
		NotBefore:    optTime(a.Assertion.Conditions.NotBefore),
		NotOnOrAfter: optTime(a.Assertion.Conditions.NotOnOrAfter),
	}
}

func (a AssertionWindow) SetWindow(w domain.Window) {
	if a.Assertion.Conditions == nil {
		a.Assertion.Conditions = &saml.Conditions{}
	}
	a.Assertion.Conditions.NotBefore = deref(w.NotBefore)
	a.Assertion.Conditions.NotOnOrAfter = deref(w.NotOnOrAfter)
}

// AuthnRequestWindow adapts a saml.AuthnRequest, bounds in Conditions.
type AuthnRequestWindow struct {
	Request *saml.AuthnRequest
}

func (a AuthnRequestWindow) Window() domain.Window {
	if a.Request.Conditions == nil {
		return domain.Window{}
	}
	return domain.Window{
		NotBefore:    optTime(a.Request.Conditions.NotBefore),
		NotOnOrAfter: optTime(a.Request.Conditions.NotOnOrAfter),
	}
}

func (a AuthnRequestWindow) SetWindow(w domain.Window) {
	if a.Request.Conditions == nil {
		a.Request.Conditions = &saml.Conditions{}
	}
	a.Request.Conditions.NotBefore = deref(w.NotBefore)
	a.Request.Conditions.NotOnOrAfter = deref(w.NotOnOrAfter)
}

// LogoutRequestWindow adapts a saml.LogoutRequest, which carries only a
// NotOnOrAfter attribute.
type LogoutRequestWindow struct {
	Request *saml.LogoutRequest
}

func (l LogoutRequestWindow) Window() domain.Window {
	return domain.Window{NotOnOrAfter: l.Request.NotOnOrAfter}
}

func (l LogoutRequestWindow) SetWindow(w domain.Window) {
	l.Request.NotOnOrAfter = w.NotOnOrAfter
}

// SubjectConfirmationWindow adapts saml.SubjectConfirmationData, which
// carries only NotOnOrAfter.
type SubjectConfirmationWindow struct {
	Data *saml.SubjectConfirmationData
}

func (s SubjectConfirmationWindow) Window() domain.Window {
	return domain.Window{NotOnOrAfter: optTime(s.Data.NotOnOrAfter)}
}

func (s SubjectConfirmationWindow) SetWindow(w domain.Window) {
	s.Data.NotOnOrAfter = deref(w.NotOnOrAfter)
}
