package entities

import "time"

// ServiceNotificationsUserID is the Telegram account that delivers login codes
const ServiceNotificationsUserID = 777000

// ClientOptions describes one messaging client to open
type ClientOptions struct {
	Phone       string
	SessionPath string
	Identity    ClientIdentity
	// Proxy is nil for a direct connection
	Proxy *ProxyEndpoint
}

// ServiceMessage is a message from the service notifications peer
type ServiceMessage struct {
	ID   int
	Text string
	Date time.Time
}

// MessageMark is the newest service message a migration has already seen.
// Message IDs grow monotonically within one dialog, so anything at or below
// the mark is stale.
type MessageMark struct {
	ID   int
	Date time.Time
}

// Covers reports whether msg is at or below the mark
func (m MessageMark) Covers(msg ServiceMessage) bool {
	return msg.ID <= m.ID
}

// Advance moves the mark forward to msg when it is newer
func (m *MessageMark) Advance(msg ServiceMessage) {
	if msg.ID > m.ID {
		m.ID = msg.ID
		m.Date = msg.Date
	}
}
