package domain

import "time"

// ServiceProvider records one federation partner a subject is signed into:
// the partner URL and the last time its session was synchronized. It holds
// no reference back to the session that owns it.
type ServiceProvider struct {
	URL             string
	LastSessionSync time.Time
}

// UserSsoSession tracks the set of federation partners a given authenticated
// subject is currently signed into. It is exclusively owned by one ticket
// and exists purely to drive single-logout fan-out. The provider collection
// is unordered.
type UserSsoSession struct {
	UID              string
	ServiceProviders []ServiceProvider
}

// NewUserSsoSession creates an SSO session for the given subject.
func NewUserSsoSession(uid string) *UserSsoSession {
	return &UserSsoSession{UID: uid}
}

// AddServiceProvider records a partner, updating the sync timestamp if the
// partner URL is already present.
func (s *UserSsoSession) AddServiceProvider(url string, now time.Time) {
	for i := range s.ServiceProviders {
		if s.ServiceProviders[i].URL == url {
			s.ServiceProviders[i].LastSessionSync = now
			return
		}
	}
	s.ServiceProviders = append(s.ServiceProviders, ServiceProvider{URL: url, LastSessionSync: now})
}

// RemoveServiceProvider removes the partner with the given URL. Returns true
// if it was present.
func (s *UserSsoSession) RemoveServiceProvider(url string) bool {
	for i := range s.ServiceProviders {
		if s.ServiceProviders[i].URL == url {
			s.ServiceProviders = append(s.ServiceProviders[:i], s.ServiceProviders[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *UserSsoSession) Clone() *UserSsoSession {
	if s == nil {
		return nil
	}
	cp := &UserSsoSession{UID: s.UID}
	if s.ServiceProviders != nil {
		cp.ServiceProviders = append([]ServiceProvider(nil), s.ServiceProviders...)
	}
	return cp
}
