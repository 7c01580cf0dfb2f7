package domain

import "time"

// DefaultProtocolVersion is recorded when a client initializes without naming one.
const DefaultProtocolVersion = "1.0.0"

// ClientInfo identifies the client that initialized a session.
type ClientInfo struct {
	Name    string
	Version string
}

// Session is the server-side record of a client's initialization handshake.
type Session struct {
	ID                 string
	Initialized        bool
	ProtocolVersion    string
	ClientCapabilities map[string]interface{}
	ClientInfo         *ClientInfo
	CreatedAt          time.Time
	LastSeen           time.Time
}

// NewSession returns an uninitialized session.
func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, CreatedAt: now, LastSeen: now}
}

// Initialize records the handshake. It is idempotent: a second call simply
// overwrites the recorded metadata and the session stays initialized.
func (s *Session) Initialize(protocolVersion string, capabilities map[string]interface{}, info *ClientInfo, now time.Time) {
	if protocolVersion == "" {
		protocolVersion = DefaultProtocolVersion
	}
	s.Initialized = true
	s.ProtocolVersion = protocolVersion
	s.ClientCapabilities = capabilities
	s.ClientInfo = info
	s.LastSeen = now
}
