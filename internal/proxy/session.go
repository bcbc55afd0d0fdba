package proxy

import (
	"net"
	"time"
)

// Session pairs one client connection with at most one backend
// connection plus the state needed to survive backend outages. All
// fields are owned by the dispatcher goroutine.
type Session struct {
	id      uint64
	client  net.Conn
	backend net.Conn // nil while the backend side is down

	// Captured on a confirmed login, replayed on reconnect. Held in
	// memory only; gone when the session or the process ends.
	user     string
	password string

	remoteHost string
	createdAt  time.Time

	// disconnectAt is set the instant the backend socket drops
	// unexpectedly. Zero means no drop is outstanding.
	disconnectAt time.Time

	// reconnectPending gags backend output until the reconnect
	// sentinel is seen.
	reconnectPending bool

	// wasOffline suppresses one spurious client-side EOF per
	// reconnect cycle.
	wasOffline bool

	pending pendingQueue
}

// Authenticated reports whether a login has been captured.
func (s *Session) Authenticated() bool {
	return s.user != ""
}

// State names the session's position in its lifecycle.
func (s *Session) State() string {
	switch {
	case !s.disconnectAt.IsZero():
		return "probing"
	case s.reconnectPending && s.backend == nil:
		return "backend-lost"
	case s.reconnectPending:
		return "reconnecting"
	default:
		return "proxying"
	}
}
