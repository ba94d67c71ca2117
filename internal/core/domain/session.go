package domain

// AuthSession is the ephemeral state of an authentication attempt, keyed by
// request id. It is created when the attempt starts, merged into the ticket
// at issuance, and deleted once the ticket is issued or the attempt expires.
type AuthSession struct {
	// RID is the request/session correlation id.
	RID string

	// AppID and AppURL identify the requesting application.
	AppID  string
	AppURL string

	// UID and Organization are filled in once the first factor completes.
	UID          string
	Organization string

	// AuthSP and AuthSPLevel carry the first-factor result.
	AuthSP      string
	AuthSPLevel int

	// RequiredLevel is the level the application demands.
	RequiredLevel int

	// ForcedAuthenticate disables single sign-on for this attempt: no cookie
	// is set and no existing ticket is merged.
	ForcedAuthenticate bool

	// ClientIP is the address the attempt originates from.
	ClientIP string

	// Language is the user's interface language, if negotiated.
	Language string

	// Organizations holds the candidate organizations derived from the
	// user's attributes. More than one pauses issuance for a choice form.
	Organizations []string

	// OBOStep tracks the on-behalf-of form progression. Meaningful only for
	// applications with on-behalf-of enabled.
	OBOStep int

	// SPAssertURL and SPReqBinding are service-provider fields carried
	// opaquely into the ticket.
	SPAssertURL  string
	SPReqBinding string

	// Ext holds attributes with no typed field.
	Ext map[string]string
}

// Clone returns a deep copy of the session.
func (s *AuthSession) Clone() *AuthSession {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Organizations != nil {
		cp.Organizations = append([]string(nil), s.Organizations...)
	}
	if s.Ext != nil {
		cp.Ext = make(map[string]string, len(s.Ext))
		for k, v := range s.Ext {
			cp.Ext[k] = v
		}
	}
	return &cp
}
