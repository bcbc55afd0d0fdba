package proxy

import (
	"net"
	"time"

	"github.com/mudkeep/mudkeep/internal/events"
	"github.com/mudkeep/mudkeep/internal/logger"
	"github.com/mudkeep/mudkeep/internal/metrics"
)

// In-band sentinels. The backend is oblivious to the proxy, so
// liveness signalling rides inside the text stream itself: "think"
// makes the server echo its argument back on the same socket.
const (
	// pingProbeFormat is sent on the heartbeat socket after a
	// single backend socket drops. Any heartbeat response confirms
	// the backend is alive and the drop was intentional.
	pingProbeFormat = "think ### PING: %d###"

	// reconnectCompleteCmd is sent on a reopened backend socket
	// right after the credential replay; its echo marks the end of
	// the gagged replay output.
	reconnectCompleteCmd = "think " + reconnectSentinel
	reconnectSentinel    = "### RECONNECT COMPLETE ###"
)

// heartbeat is the dedicated, permanently-logged-in backend connection
// used as a liveness oracle. Its presence defines online(). Owned by
// the dispatcher goroutine.
type heartbeat struct {
	conn          net.Conn
	nextAttempt   time.Time
	everConnected bool
}

func (h *heartbeat) owns(conn net.Conn) bool {
	return h.conn != nil && h.conn == conn
}

// online reports backend reachability as far as the proxy knows. While
// false, no backend sockets are opened for client sessions.
func (s *Server) online() bool {
	return s.hb.conn != nil
}

// maybeOpenHeartbeat attempts to establish the heartbeat, at most once
// per heartbeat interval. On success every session is flagged
// was-offline and sent through the reconnect path.
func (s *Server) maybeOpenHeartbeat() {
	if s.hb.conn != nil {
		return
	}
	now := s.now()
	if now.Before(s.hb.nextAttempt) {
		return
	}
	s.hb.nextAttempt = now.Add(s.cfg.Heartbeat.Interval)

	conn, err := s.dial("tcp", s.cfg.Backend.Address, s.cfg.Backend.ConnectTimeout)
	if err != nil {
		if !s.hb.everConnected {
			logger.Warn("backend not reachable yet", "address", s.cfg.Backend.Address, "error", err)
		} else {
			logger.Debug("heartbeat reconnect attempt failed", "error", err)
		}
		return
	}

	s.hb.conn = conn
	s.hb.everConnected = true
	metrics.SetBackendOnline(true)
	s.watch(conn)
	s.writeLine(conn, "connect "+s.cfg.Heartbeat.User+" "+s.cfg.Heartbeat.Password)
	logger.Info("heartbeat established", "address", s.cfg.Backend.Address)

	for _, sess := range s.registry.All() {
		sess.wasOffline = true
		s.reconnectSession(sess)
	}
}

// reconnectSession reopens the backend side of a suspended session.
func (s *Server) reconnectSession(sess *Session) {
	if sess.backend != nil {
		return
	}
	s.connectBackend(sess, true)
}

// retrySuspended redials the backend side of sessions the reopen pass
// missed, typically because their dial failed right after the
// heartbeat came back. Sessions with an outstanding drop are waiting
// on the probe and are left alone.
func (s *Server) retrySuspended() {
	if !s.online() {
		return
	}
	for _, sess := range s.registry.All() {
		if sess.backend != nil || !sess.disconnectAt.IsZero() {
			continue
		}
		s.connectBackend(sess, sess.reconnectPending)
	}
}

// handleHeartbeatLine treats any heartbeat traffic as proof the
// backend is alive. Every session with an outstanding drop was
// therefore disconnected on purpose by the backend, and its client is
// closed. The probe echo is not correlated to a specific session by
// design: the heartbeat user produces no other output.
func (s *Server) handleHeartbeatLine(line string) {
	for _, sess := range s.registry.All() {
		if !sess.disconnectAt.IsZero() {
			logger.Info("backend disconnect confirmed intentional", "session", sess.id, "user", sess.user)
			s.destroySession(sess, "booted")
		}
	}
}

// failoverTeardown is the global reaction to losing the backend: drop
// the heartbeat, strip every session of its backend socket, gag it
// until reconnect, and tell the user. Outstanding drop timestamps are
// cleared so one outage produces exactly one teardown and one offline
// notice per client.
func (s *Server) failoverTeardown() {
	metrics.FailoversTotal.Inc()
	if s.hb.conn != nil {
		s.hb.conn.Close()
		s.hb.conn = nil
	}
	metrics.SetBackendOnline(false)

	for _, sess := range s.registry.All() {
		if conn := s.registry.DetachBackend(sess); conn != nil {
			conn.Close()
		}
		sess.reconnectPending = true
		sess.disconnectAt = time.Time{}
		s.writeLine(sess.client, s.cfg.Notices.Offline)
	}

	logger.Warn("failover teardown complete", "sessions", s.registry.Len())
	s.publish(events.Event{Type: events.TypeFailover})
}
