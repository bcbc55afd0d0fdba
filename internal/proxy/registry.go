package proxy

import (
	"fmt"
	"net"
	"sort"
	"time"
)

// Registry tracks every live session under a stable integer id and
// keeps the dual index from client and backend sockets back to their
// session. It is owned by the dispatcher goroutine and needs no
// locking.
type Registry struct {
	nextID    uint64
	byID      map[uint64]*Session
	byClient  map[net.Conn]*Session
	byBackend map[net.Conn]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[uint64]*Session),
		byClient:  make(map[net.Conn]*Session),
		byBackend: make(map[net.Conn]*Session),
	}
}

// Create registers a new session for an accepted client connection.
func (r *Registry) Create(client net.Conn, now time.Time) *Session {
	r.nextID++
	sess := &Session{
		id:        r.nextID,
		client:    client,
		createdAt: now,
	}
	r.byID[sess.id] = sess
	r.byClient[client] = sess
	return sess
}

// AttachBackend binds a freshly opened backend connection to a session.
func (r *Registry) AttachBackend(sess *Session, backend net.Conn) {
	sess.backend = backend
	r.byBackend[backend] = sess
}

// DetachBackend unbinds the session's backend connection and returns
// it so the caller can close it. Returns nil when none was attached.
func (r *Registry) DetachBackend(sess *Session) net.Conn {
	conn := sess.backend
	if conn != nil {
		delete(r.byBackend, conn)
		sess.backend = nil
	}
	return conn
}

// FindByClient resolves a client socket to its session.
func (r *Registry) FindByClient(conn net.Conn) *Session {
	return r.byClient[conn]
}

// FindByBackend resolves a backend socket to its session.
func (r *Registry) FindByBackend(conn net.Conn) *Session {
	return r.byBackend[conn]
}

// Remove drops the session from every index. Closing the sockets is
// the caller's responsibility.
func (r *Registry) Remove(sess *Session) {
	delete(r.byID, sess.id)
	delete(r.byClient, sess.client)
	if sess.backend != nil {
		delete(r.byBackend, sess.backend)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}

// All returns the live sessions in ascending id order.
func (r *Registry) All() []*Session {
	ids := make([]uint64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, r.byID[id])
	}
	return sessions
}

// CheckIntegrity verifies the dual-index invariant and reports any
// violations as human-readable strings.
func (r *Registry) CheckIntegrity() []string {
	var problems []string

	for conn, sess := range r.byBackend {
		if sess.backend != conn {
			problems = append(problems, fmt.Sprintf("orphan backend index entry for session #%d", sess.id))
		}
		if r.byID[sess.id] != sess {
			problems = append(problems, fmt.Sprintf("backend index points at unregistered session #%d", sess.id))
		}
	}
	for _, sess := range r.byID {
		if r.byClient[sess.client] != sess {
			problems = append(problems, fmt.Sprintf("missing client index entry for session #%d", sess.id))
		}
		if sess.backend != nil && r.byBackend[sess.backend] != sess {
			problems = append(problems, fmt.Sprintf("missing backend index entry for session #%d", sess.id))
		}
	}
	return problems
}
