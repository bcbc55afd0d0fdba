package proxy

import (
	"net"
	"time"

	"github.com/mudkeep/mudkeep/internal/config"
)

// eventKind classifies what a socket reader observed.
type eventKind int

const (
	evAccept eventKind = iota // new client connection
	evLine                    // one complete framed line
	evEOF                     // read error or peer close
)

// event is the unit of work delivered to the dispatcher goroutine.
// Routing happens there, by looking the socket up in the registry: a
// destroyed socket simply no longer resolves and its late events are
// dropped.
type event struct {
	kind eventKind
	conn net.Conn
	line string
}

// ctrlKind classifies out-of-band requests into the dispatcher.
type ctrlKind int

const (
	ctrlReload ctrlKind = iota
	ctrlSnapshot
	ctrlStop
)

type ctrlMsg struct {
	kind     ctrlKind
	cfg      *config.Config
	snapshot chan Snapshot
	stopped  chan struct{}
}

// SessionInfo is the externally visible view of one session.
type SessionInfo struct {
	ID               uint64    `json:"id"`
	User             string    `json:"user,omitempty"`
	RemoteHost       string    `json:"remote_host"`
	State            string    `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	BackendAttached  bool      `json:"backend_attached"`
	ReconnectPending bool      `json:"reconnect_pending"`
	PendingCommands  int       `json:"pending_commands"`
}

// Snapshot is a point-in-time view of the whole proxy, produced by the
// dispatcher so it is internally consistent.
type Snapshot struct {
	Online    bool          `json:"online"`
	Uptime    time.Duration `json:"uptime"`
	Sessions  []SessionInfo `json:"sessions"`
	Integrity []string      `json:"integrity_errors,omitempty"`
}
