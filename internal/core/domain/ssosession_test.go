//go:build unit

package domain

import (
	"testing"
	"time"
)

func TestUserSsoSession_AddServiceProvider_Dedupes(t *testing.T) {
	s := NewUserSsoSession("user")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	s.AddServiceProvider("https://sp-a", t0)
	s.AddServiceProvider("https://sp-b", t0)
	s.AddServiceProvider("https://sp-a", t1)

	if len(s.ServiceProviders) != 2 {
		t.Fatalf("provider count = %d, want 2", len(s.ServiceProviders))
	}
	for _, sp := range s.ServiceProviders {
		if sp.URL == "https://sp-a" && !sp.LastSessionSync.Equal(t1) {
			t.Errorf("re-adding a provider must update its sync time, got %v", sp.LastSessionSync)
		}
	}
}

func TestUserSsoSession_RemoveServiceProvider(t *testing.T) {
	s := NewUserSsoSession("user")
	s.AddServiceProvider("https://sp-a", time.Now())

	if !s.RemoveServiceProvider("https://sp-a") {
		t.Error("removing a present provider should return true")
	}
	if s.RemoveServiceProvider("https://sp-a") {
		t.Error("removing an absent provider should return false")
	}
	if len(s.ServiceProviders) != 0 {
		t.Errorf("provider count = %d, want 0", len(s.ServiceProviders))
	}
}
