package connection

import (
	"sync/atomic"
	"testing"
	"time"
)

type mockConn struct {
	closed atomic.Int32
}

func (m *mockConn) Close() error {
	m.closed.Add(1)
	return nil
}

func TestManager_Register(t *testing.T) {
	m := NewManager(10)
	conn := &mockConn{}

	err := m.Register("sess1", "10.0.0.1", "Mozilla/5.0", conn)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if m.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", m.Count())
	}

	session, exists := m.Get("sess1")
	if !exists {
		t.Fatal("Session not found")
	}

	if session.RemoteIP != "10.0.0.1" {
		t.Errorf("Expected remote IP 10.0.0.1, got %s", session.RemoteIP)
	}
}

func TestManager_RegisterDuplicate(t *testing.T) {
	m := NewManager(10)
	conn := &mockConn{}

	m.Register("sess1", "10.0.0.1", "", conn)
	if err := m.Register("sess1", "10.0.0.2", "", conn); err == nil {
		t.Error("Expected error for duplicate session ID")
	}
}

func TestManager_RegisterMaxSessions(t *testing.T) {
	m := NewManager(2)
	conn := &mockConn{}

	m.Register("sess1", "10.0.0.1", "", conn)
	m.Register("sess2", "10.0.0.2", "", conn)

	// Third session should fail
	err := m.Register("sess3", "10.0.0.3", "", conn)
	if err != ErrMaxConnectionsReached {
		t.Errorf("Expected ErrMaxConnectionsReached, got %v", err)
	}
}

func TestManager_Unregister(t *testing.T) {
	m := NewManager(10)
	conn := &mockConn{}

	m.Register("sess1", "10.0.0.1", "", conn)
	m.Register("sess2", "10.0.0.1", "", conn)

	err := m.Unregister("sess1")
	if err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	if m.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", m.Count())
	}

	// Address should still have one session
	ids := m.GetByRemoteIP("10.0.0.1")
	if len(ids) != 1 {
		t.Errorf("Expected 1 session for address, got %d", len(ids))
	}

	if err := m.Unregister("sess1"); err == nil {
		t.Error("Expected error unregistering unknown session")
	}
}

func TestManager_UpdateActivity(t *testing.T) {
	m := NewManager(10)
	conn := &mockConn{}

	m.Register("sess1", "10.0.0.1", "", conn)

	session, _ := m.Get("sess1")
	firstHeard := session.GetLastHeardFrom()

	time.Sleep(10 * time.Millisecond)

	err := m.UpdateActivity("sess1")
	if err != nil {
		t.Fatalf("UpdateActivity failed: %v", err)
	}

	if !session.GetLastHeardFrom().After(firstHeard) {
		t.Error("LastHeardFrom was not updated")
	}
}

func TestManager_ReapInactive(t *testing.T) {
	m := NewManager(10)
	idle := &mockConn{}
	active := &mockConn{}

	m.Register("sess1", "10.0.0.1", "", idle)
	m.Register("sess2", "10.0.0.2", "", active)

	// Make sess1 inactive by manually setting its timestamp
	session1, _ := m.Get("sess1")
	session1.mu.Lock()
	session1.LastHeardFrom = time.Now().Add(-5 * time.Minute)
	session1.mu.Unlock()

	inactive := m.GetInactiveSessions(2 * time.Minute)
	if len(inactive) != 1 || inactive[0] != "sess1" {
		t.Fatalf("Expected [sess1] inactive, got %v", inactive)
	}

	if n := m.ReapInactive(2 * time.Minute); n != 1 {
		t.Errorf("Expected 1 reaped session, got %d", n)
	}
	if idle.closed.Load() != 1 {
		t.Error("Idle session was not closed")
	}
	if active.closed.Load() != 0 {
		t.Error("Active session was closed")
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(100)
	conn := &mockConn{}

	m.Register("sess1", "10.0.0.1", "", conn)
	m.Register("sess2", "10.0.0.1", "", conn)
	m.Register("sess3", "10.0.0.2", "", conn)

	stats := m.Stats()
	if stats.TotalSessions != 3 {
		t.Errorf("Expected 3 sessions, got %d", stats.TotalSessions)
	}
	if stats.UniqueAddresses != 2 {
		t.Errorf("Expected 2 unique addresses, got %d", stats.UniqueAddresses)
	}
	if stats.MaxSessions != 100 {
		t.Errorf("Expected max 100, got %d", stats.MaxSessions)
	}

	m.CloseAll()
	if conn.closed.Load() != 3 {
		t.Errorf("Expected 3 closes, got %d", conn.closed.Load())
	}
}
