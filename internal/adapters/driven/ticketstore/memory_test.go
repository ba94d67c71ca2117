//go:build unit

package ticketstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/renait/aselect-sub006/internal/core/domain"
	"github.com/renait/aselect-sub006/internal/core/ports"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemoryStore_Create_IDFormat(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ticket := &domain.Ticket{UID: "jdoe", AuthSPLevel: 2}

	id, err := store.Create(context.Background(), ticket)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(id) != 256 {
		t.Errorf("id length = %d, want 256 hex chars", len(id))
	}
	if !regexp.MustCompile(`^[0-9a-f]+$`).MatchString(id) {
		t.Errorf("id %q is not lowercase hex", id)
	}
	if ticket.ID != id {
		t.Error("Create must propagate the assigned id to the caller's ticket")
	}
	if ticket.NameID != id {
		t.Errorf("NameID = %q, want the ticket id as default", ticket.NameID)
	}
	if ticket.Timestamp.IsZero() {
		t.Error("Create must stamp the ticket")
	}
}

func TestMemoryStore_Create_KeepsAssignedNameID(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ticket := &domain.Ticket{UID: "jdoe", NameID: "federation-subject"}

	if _, err := store.Create(context.Background(), ticket); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ticket.NameID != "federation-subject" {
		t.Errorf("NameID = %q, a federation-assigned subject must survive", ticket.NameID)
	}
}

func TestMemoryStore_Create_UniqueIDs(t *testing.T) {
	store := NewMemoryStore(0, 0)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := store.Create(context.Background(), &domain.Ticket{UID: "u"})
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id after %d creates", i)
		}
		seen[id] = true
	}
	if got := store.Count(context.Background()); got != 100 {
		t.Errorf("Count = %d, want 100", got)
	}
}

func TestMemoryStore_Create_StoreFull(t *testing.T) {
	store := NewMemoryStore(2, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Create(ctx, &domain.Ticket{UID: "u"}); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}
	if _, err := store.Create(ctx, &domain.Ticket{UID: "u"}); err != ports.ErrStoreFull {
		t.Errorf("err = %v, want ErrStoreFull", err)
	}
}

func TestMemoryStore_GetReturnsClone(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	id, _ := store.Create(ctx, &domain.Ticket{UID: "u", Ext: map[string]string{"k": "v"}})

	first, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.UID = "tampered"
	first.Ext["k"] = "tampered"

	second, _ := store.Get(ctx, id)
	if second.UID != "u" || second.Ext["k"] != "v" {
		t.Error("mutating a Get result must not affect the stored ticket")
	}
}

func TestMemoryStore_Get_Unknown(t *testing.T) {
	store := NewMemoryStore(0, 0)
	if _, err := store.Get(context.Background(), "nope"); err != ports.ErrTicketNotFound {
		t.Errorf("err = %v, want ErrTicketNotFound", err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(0, 0, WithClock(clock))
	ctx := context.Background()

	ticket := &domain.Ticket{UID: "u", SelLevel: 2}
	id, _ := store.Create(ctx, ticket)
	created := ticket.Timestamp

	clock.now = clock.now.Add(time.Minute)
	ticket.SelLevel = 5
	if !store.Update(ctx, id, ticket) {
		t.Fatal("Update of a live ticket should succeed")
	}

	got, _ := store.Get(ctx, id)
	if got.SelLevel != 5 {
		t.Errorf("SelLevel = %d, want 5", got.SelLevel)
	}
	if got.ID != id {
		t.Error("Update must keep the ticket id")
	}
	if !got.Timestamp.After(created) {
		t.Error("Update must bump the timestamp")
	}
}

func TestMemoryStore_UpdateQuietly_KeepsTimestamp(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(0, 0, WithClock(clock))
	ctx := context.Background()

	ticket := &domain.Ticket{UID: "u"}
	id, _ := store.Create(ctx, ticket)
	created := ticket.Timestamp

	clock.now = clock.now.Add(time.Hour)
	ticket.SessionSyncTime = clock.now
	if !store.UpdateQuietly(ctx, id, ticket) {
		t.Fatal("UpdateQuietly should succeed")
	}

	got, _ := store.Get(ctx, id)
	if !got.Timestamp.Equal(created) {
		t.Errorf("Timestamp = %v, want unchanged %v", got.Timestamp, created)
	}
	if !got.SessionSyncTime.Equal(clock.now) {
		t.Error("UpdateQuietly must still persist the new content")
	}
}

func TestMemoryStore_Update_AbsentReturnsFalse(t *testing.T) {
	store := NewMemoryStore(0, 0)
	if store.Update(context.Background(), "absent", &domain.Ticket{UID: "u"}) {
		t.Error("Update of an absent ticket must return false, not create it")
	}
	if got := store.Count(context.Background()); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
}

func TestMemoryStore_RemoveByNameID_OnceTrueThenFalse(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	ticket := &domain.Ticket{UID: "u", NameID: "subject-1"}
	store.Create(ctx, ticket)

	if !store.RemoveByNameID(ctx, "subject-1") {
		t.Error("first removal should report true")
	}
	if store.RemoveByNameID(ctx, "subject-1") {
		t.Error("second removal should report false")
	}
	if got := store.Count(ctx); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
}

func TestMemoryStore_GetByNameID(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	store.Create(ctx, &domain.Ticket{UID: "u", NameID: "subject-1"})

	got, err := store.GetByNameID(ctx, "subject-1")
	if err != nil {
		t.Fatalf("GetByNameID: %v", err)
	}
	if got.UID != "u" {
		t.Errorf("UID = %q, want %q", got.UID, "u")
	}
	if _, err := store.GetByNameID(ctx, "other"); err != ports.ErrTicketNotFound {
		t.Errorf("err = %v, want ErrTicketNotFound", err)
	}
}

func TestMemoryStore_SharedNameID_RemovesAllTickets(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	idA, _ := store.Create(ctx, &domain.Ticket{UID: "u", NameID: "fed-subject"})
	idB, _ := store.Create(ctx, &domain.Ticket{UID: "u", NameID: "fed-subject"})

	if !store.RemoveByNameID(ctx, "fed-subject") {
		t.Fatal("removal should report true")
	}
	if _, err := store.Get(ctx, idA); err != ports.ErrTicketNotFound {
		t.Error("first ticket survived logout of its subject")
	}
	if _, err := store.Get(ctx, idB); err != ports.ErrTicketNotFound {
		t.Error("second ticket survived logout of its subject")
	}
	if store.RemoveByNameID(ctx, "fed-subject") {
		t.Error("second removal should report false")
	}
}

func TestMemoryStore_SharedNameID_IndexSurvivesPartialRemove(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	idA, _ := store.Create(ctx, &domain.Ticket{UID: "u", NameID: "fed-subject"})
	idB, _ := store.Create(ctx, &domain.Ticket{UID: "u", NameID: "fed-subject"})

	if err := store.Remove(ctx, idB); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// The other ticket must stay reachable through the index.
	got, err := store.GetByNameID(ctx, "fed-subject")
	if err != nil {
		t.Fatalf("GetByNameID after partial remove: %v", err)
	}
	if got.ID != idA {
		t.Errorf("GetByNameID returned %s, want the surviving ticket", abbrev(got.ID))
	}
}

func TestMemoryStore_SharedNameID_GetReturnsNewest(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(0, 0, WithClock(clock))
	ctx := context.Background()

	store.Create(ctx, &domain.Ticket{UID: "u", AuthSPLevel: 1, NameID: "fed-subject"})
	clock.now = clock.now.Add(time.Minute)
	store.Create(ctx, &domain.Ticket{UID: "u", AuthSPLevel: 2, NameID: "fed-subject"})

	got, err := store.GetByNameID(ctx, "fed-subject")
	if err != nil {
		t.Fatalf("GetByNameID: %v", err)
	}
	if got.AuthSPLevel != 2 {
		t.Errorf("AuthSPLevel = %d, want the most recently written ticket", got.AuthSPLevel)
	}
}

func TestMemoryStore_NameIDIndexFollowsUpdate(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	ticket := &domain.Ticket{UID: "u", NameID: "old-subject"}
	id, _ := store.Create(ctx, ticket)

	ticket.NameID = "new-subject"
	store.Update(ctx, id, ticket)

	if _, err := store.GetByNameID(ctx, "old-subject"); err == nil {
		t.Error("stale index entry survived a NameID change")
	}
	if _, err := store.GetByNameID(ctx, "new-subject"); err != nil {
		t.Errorf("GetByNameID(new): %v", err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(0, time.Hour, WithClock(clock))
	ctx := context.Background()

	id, _ := store.Create(ctx, &domain.Ticket{UID: "u"})

	clock.now = clock.now.Add(59 * time.Minute)
	if _, err := store.Get(ctx, id); err != nil {
		t.Fatalf("ticket expired early: %v", err)
	}

	clock.now = clock.now.Add(time.Minute)
	if _, err := store.Get(ctx, id); err != ports.ErrTicketNotFound {
		t.Errorf("err = %v, want ErrTicketNotFound at exactly ttl", err)
	}
	if got := store.Count(ctx); got != 0 {
		t.Errorf("Count = %d, want 0 after expiry sweep", got)
	}
}

func TestMemoryStore_ExpirySweepFreesCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(1, time.Minute, WithClock(clock))
	ctx := context.Background()

	if _, err := store.Create(ctx, &domain.Ticket{UID: "a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.now = clock.now.Add(2 * time.Minute)

	// The stale ticket must not hold the single slot.
	if _, err := store.Create(ctx, &domain.Ticket{UID: "b"}); err != nil {
		t.Errorf("Create after expiry: %v", err)
	}
}
