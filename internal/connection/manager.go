package connection

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/smukkama/sensor-dashboard/internal/logging"
	"github.com/smukkama/sensor-dashboard/internal/metrics"
)

// SessionInfo holds information about a connected viewer
type SessionInfo struct {
	SessionID     string
	RemoteIP      string
	UserAgent     string
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	Conn          io.Closer
	mu            sync.RWMutex
}

// UpdateLastHeardFrom updates the last activity timestamp
func (s *SessionInfo) UpdateLastHeardFrom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastHeardFrom = time.Now()
}

// GetLastHeardFrom returns the last activity timestamp
func (s *SessionInfo) GetLastHeardFrom() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastHeardFrom
}

// Manager tracks active viewer sessions
type Manager struct {
	sessions   map[string]*SessionInfo // key: session_id
	byRemoteIP map[string][]string     // key: remote ip, value: []session_id
	mu         sync.RWMutex
	maxConns   int
}

// NewManager creates a new session manager
func NewManager(maxSessions int) *Manager {
	return &Manager{
		sessions:   make(map[string]*SessionInfo),
		byRemoteIP: make(map[string][]string),
		maxConns:   maxSessions,
	}
}

// Register adds a new viewer session
func (m *Manager) Register(sessionID, remoteIP, userAgent string, conn io.Closer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxConns {
		return ErrMaxConnectionsReached
	}

	if _, exists := m.sessions[sessionID]; exists {
		return fmt.Errorf("session ID %s already registered", sessionID)
	}

	now := time.Now()
	m.sessions[sessionID] = &SessionInfo{
		SessionID:     sessionID,
		RemoteIP:      remoteIP,
		UserAgent:     userAgent,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
	}
	m.byRemoteIP[remoteIP] = append(m.byRemoteIP[remoteIP], sessionID)
	metrics.ViewerSessions.Set(float64(len(m.sessions)))

	return nil
}

// Unregister removes a viewer session
func (m *Manager) Unregister(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session ID %s not found", sessionID)
	}

	ip := session.RemoteIP
	if ids, ok := m.byRemoteIP[ip]; ok {
		for i, id := range ids {
			if id == sessionID {
				m.byRemoteIP[ip] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(m.byRemoteIP[ip]) == 0 {
			delete(m.byRemoteIP, ip)
		}
	}

	delete(m.sessions, sessionID)
	metrics.ViewerSessions.Set(float64(len(m.sessions)))

	return nil
}

// Get retrieves session information by ID
func (m *Manager) Get(sessionID string) (*SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	return session, exists
}

// GetByRemoteIP retrieves all session IDs opened from an address
func (m *Manager) GetByRemoteIP(remoteIP string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byRemoteIP[remoteIP]
	result := make([]string, len(ids))
	copy(result, ids)
	return result
}

// UpdateActivity updates the last heard from timestamp for a session
func (m *Manager) UpdateActivity(sessionID string) error {
	m.mu.RLock()
	session, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("session ID %s not found", sessionID)
	}

	session.UpdateLastHeardFrom()
	return nil
}

// GetInactiveSessions returns session IDs that haven't been heard from in the given duration
func (m *Manager) GetInactiveSessions(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string

	for id, session := range m.sessions {
		if now.Sub(session.GetLastHeardFrom()) > timeout {
			inactive = append(inactive, id)
		}
	}

	return inactive
}

// ReapInactive closes sessions idle for longer than timeout and returns
// how many were closed. The session's own cleanup is expected to call
// Unregister once its connection drops.
func (m *Manager) ReapInactive(timeout time.Duration) int {
	reaped := 0
	for _, id := range m.GetInactiveSessions(timeout) {
		session, ok := m.Get(id)
		if !ok {
			continue
		}
		if session.Conn != nil {
			if err := session.Conn.Close(); err != nil {
				logging.Debug().Err(err).Str("session_id", id).Msg("Error closing inactive session")
			}
		}
		logging.Info().Str("session_id", id).Str("remote_ip", session.RemoteIP).Msg("Closed inactive viewer session")
		reaped++
	}
	return reaped
}

// CloseAll closes every session connection
func (m *Manager) CloseAll() {
	for _, id := range m.GetAllSessions() {
		if session, ok := m.Get(id); ok && session.Conn != nil {
			_ = session.Conn.Close()
		}
	}
}

// Count returns the total number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns all session IDs
func (m *Manager) GetAllSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns statistics about the session manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalSessions:   len(m.sessions),
		UniqueAddresses: len(m.byRemoteIP),
		MaxSessions:     m.maxConns,
	}
}

// ManagerStats contains statistics about the session manager
type ManagerStats struct {
	TotalSessions   int `json:"total_sessions"`
	UniqueAddresses int `json:"unique_addresses"`
	MaxSessions     int `json:"max_sessions"`
}

var (
	ErrMaxConnectionsReached = &ConnectionError{"maximum viewer sessions reached"}
)

// ConnectionError represents a connection error
type ConnectionError struct {
	msg string
}

func (e *ConnectionError) Error() string {
	return e.msg
}
