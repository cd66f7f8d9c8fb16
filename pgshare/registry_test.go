package pgshare

import (
	"testing"

	"github.com/google/uuid"
)

func newTestSession(connID ConnID) *Session {
	s := &Session{ConnID: connID, state: StateActive, pending: make(map[RequestID]*pendingSlot)}
	s.InitShutdownHelper(NewLogger("test", LogLevelError), s)
	return s
}

func TestRegistryTryRegisterRejectsDuplicateLiveSession(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	sess1 := newTestSession(id)

	if err := r.TryRegister(id, sess1); err != nil {
		t.Fatalf("first TryRegister returned error: %s", err)
	}

	sess2 := newTestSession(id)
	if err := r.TryRegister(id, sess2); err != ErrConnIDInUse {
		t.Errorf("expected ErrConnIDInUse, got %v", err)
	}
}

func TestRegistryTryRegisterAllowsReplacingClosedSession(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	sess1 := newTestSession(id)
	sess1.mu.Lock()
	sess1.state = StateClosed
	sess1.mu.Unlock()

	if err := r.TryRegister(id, sess1); err != nil {
		t.Fatalf("TryRegister of closed placeholder returned error: %s", err)
	}

	sess2 := newTestSession(id)
	if err := r.TryRegister(id, sess2); err != nil {
		t.Errorf("expected TryRegister to succeed over a closed session, got %v", err)
	}

	got, ok := r.Lookup(id)
	if !ok || got != sess2 {
		t.Errorf("Lookup did not return the replacement session")
	}
}

func TestRegistryUnregisterIgnoresSupersededSession(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	stale := newTestSession(id)
	stale.mu.Lock()
	stale.state = StateClosed
	stale.mu.Unlock()

	if err := r.TryRegister(id, stale); err != nil {
		t.Fatalf("TryRegister returned error: %s", err)
	}

	fresh := newTestSession(id)
	if err := r.TryRegister(id, fresh); err != nil {
		t.Fatalf("TryRegister of fresh session returned error: %s", err)
	}

	// A late Unregister call from the stale session must not evict fresh.
	r.Unregister(id, stale)

	got, ok := r.Lookup(id)
	if !ok || got != fresh {
		t.Errorf("stale Unregister evicted the live session")
	}
}

func TestRegistrySessionsSnapshot(t *testing.T) {
	r := NewRegistry()
	ids := []ConnID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := r.TryRegister(id, newTestSession(id)); err != nil {
			t.Fatalf("TryRegister returned error: %s", err)
		}
	}

	got := r.Sessions()
	if len(got) != len(ids) {
		t.Errorf("expected %d sessions, got %d", len(ids), len(got))
	}
}
