package proxy

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mudkeep/mudkeep/internal/config"
	"github.com/mudkeep/mudkeep/internal/events"
	"github.com/mudkeep/mudkeep/internal/logger"
	"github.com/mudkeep/mudkeep/internal/metrics"
)

// connectRE matches a client login attempt. Tokens may not contain
// ';', ',', '%' or whitespace; the match is case-insensitive.
var connectRE = regexp.MustCompile(`(?i)^\s*connect\s+([^;,%\s]+)\s+([^;,%\s]+)\s*$`)

// introspectCmd is the one client command the proxy answers itself.
const introspectCmd = "#?"

// Server is the session-survival engine. One dispatcher goroutine owns
// all mutable state (registry, pending queues, heartbeat); per-socket
// reader goroutines only frame bytes into lines and hand them over, so
// every state transition is serialized exactly as if the whole proxy
// ran on a single select loop.
type Server struct {
	cfg      *config.Config
	registry *Registry
	hb       heartbeat

	listener net.Listener
	events   chan event
	ctrl     chan ctrlMsg
	done     chan struct{}
	wg       sync.WaitGroup

	publisher events.Publisher
	startedAt time.Time

	// Injection points for tests. Default to net.DialTimeout and
	// time.Now.
	dial func(network, address string, timeout time.Duration) (net.Conn, error)
	now  func() time.Time
}

// NewServer creates a proxy server. The publisher may be nil.
func NewServer(cfg *config.Config, pub events.Publisher) *Server {
	return &Server{
		cfg:       cfg,
		registry:  NewRegistry(),
		events:    make(chan event, 256),
		ctrl:      make(chan ctrlMsg),
		done:      make(chan struct{}),
		publisher: pub,
		dial:      net.DialTimeout,
		now:       time.Now,
	}
}

// Start binds the listener and runs the dispatcher until Stop is
// called. A bind failure is returned immediately; it is the only
// unrecoverable startup error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr(), err)
	}
	s.listener = ln
	s.startedAt = s.now()

	logger.Info("proxy listening", "address", s.cfg.ListenAddr(), "backend", s.cfg.Backend.Address)

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.run()
	return nil
}

// Stop shuts the dispatcher down: the listener closes, every session
// is destroyed, the heartbeat drops. Blocks until the loop has exited.
func (s *Server) Stop() {
	stopped := make(chan struct{})
	select {
	case s.ctrl <- ctrlMsg{kind: ctrlStop, stopped: stopped}:
		<-stopped
	case <-s.done:
	}
}

// Reload swaps the configuration. A changed backend address triggers a
// failover teardown so sessions re-home to the new address.
func (s *Server) Reload(cfg *config.Config) {
	select {
	case s.ctrl <- ctrlMsg{kind: ctrlReload, cfg: cfg}:
	case <-s.done:
	}
}

// Snapshot returns a consistent view of the proxy state, produced by
// the dispatcher between events.
func (s *Server) Snapshot(timeout time.Duration) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.ctrl <- ctrlMsg{kind: ctrlSnapshot, snapshot: reply}:
	case <-time.After(timeout):
		return Snapshot{}, fmt.Errorf("snapshot request timed out")
	case <-s.done:
		return Snapshot{}, fmt.Errorf("proxy is stopped")
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-time.After(timeout):
		return Snapshot{}, fmt.Errorf("snapshot request timed out")
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			logger.Error("accept error", "error", err)
			continue
		}
		select {
		case s.events <- event{kind: evAccept, conn: conn}:
		case <-s.done:
			conn.Close()
			return
		}
	}
}

// watch spawns the reader goroutine for one socket. It frames the byte
// stream into lines and forwards them as events; a read error or EOF
// produces a final evEOF and ends the goroutine. Leftover unterminated
// bytes are discarded with the socket.
func (s *Server) watch(conn net.Conn) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		framer := &LineFramer{}
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				for _, line := range framer.Feed(buf[:n]) {
					select {
					case s.events <- event{kind: evLine, conn: conn, line: line}:
					case <-s.done:
						return
					}
				}
			}
			if err != nil {
				select {
				case s.events <- event{kind: evEOF, conn: conn}:
				case <-s.done:
				}
				return
			}
		}
	}()
}

// run is the dispatcher loop. One iteration: maybe open the heartbeat,
// sweep stale state, then handle whatever the sockets produced. Any
// panic while handling a single event is logged and the loop goes on;
// no session is dropped because of a fault in another session's path.
func (s *Server) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.maybeOpenHeartbeat()

	for {
		select {
		case ev := <-s.events:
			s.safely(func() { s.dispatch(ev) })
		case <-ticker.C:
			s.safely(func() {
				s.maybeOpenHeartbeat()
				s.retrySuspended()
				s.cleanupStale()
			})
		case m := <-s.ctrl:
			switch m.kind {
			case ctrlReload:
				s.safely(func() { s.applyConfig(m.cfg) })
			case ctrlSnapshot:
				m.snapshot <- s.buildSnapshot()
			case ctrlStop:
				s.shutdown()
				close(m.stopped)
				return
			}
		}
	}
}

// safely is the per-iteration fault boundary.
func (s *Server) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in dispatcher, continuing", "panic", r)
		}
	}()
	fn()
}

// dispatch routes one socket event by which index owns the socket.
// Events from sockets no longer tracked anywhere are dropped; that is
// how late reads on a closed descriptor are made harmless.
func (s *Server) dispatch(ev event) {
	switch ev.kind {
	case evAccept:
		s.handleAccept(ev.conn)

	case evLine:
		if s.hb.owns(ev.conn) {
			s.handleHeartbeatLine(ev.line)
			return
		}
		if sess := s.registry.FindByClient(ev.conn); sess != nil {
			s.handleClientLine(sess, ev.line)
			return
		}
		if sess := s.registry.FindByBackend(ev.conn); sess != nil {
			s.handleBackendLine(sess, ev.line)
			return
		}
		logger.Debug("line from untracked socket dropped")

	case evEOF:
		if s.hb.owns(ev.conn) {
			logger.Warn("heartbeat lost, starting failover")
			s.failoverTeardown()
			s.maybeOpenHeartbeat()
			return
		}
		if sess := s.registry.FindByClient(ev.conn); sess != nil {
			s.handleClientEOF(sess)
			return
		}
		if sess := s.registry.FindByBackend(ev.conn); sess != nil {
			s.handleBackendEOF(sess)
			return
		}
	}
}

func (s *Server) handleAccept(conn net.Conn) {
	now := s.now()
	sess := s.registry.Create(conn, now)
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		sess.remoteHost = host
	} else {
		sess.remoteHost = conn.RemoteAddr().String()
	}

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Set(float64(s.registry.Len()))
	logger.Info("client connected", "session", sess.id, "remote", sess.remoteHost)

	s.watch(conn)
	s.connectBackend(sess, false)
	s.publish(events.Event{
		Type:       events.TypeSessionOpened,
		SessionID:  sess.id,
		RemoteHost: sess.remoteHost,
	})
}

// connectBackend opens the backend side of a session. With wasOffline
// set this is a reconnect: stored credentials are replayed followed by
// the reconnect sentinel, and a session that never authenticated has
// nothing to replay and is dropped.
func (s *Server) connectBackend(sess *Session, wasOffline bool) {
	if wasOffline && !sess.Authenticated() {
		s.destroySession(sess, "no_credentials")
		return
	}
	if !s.online() {
		return
	}

	conn, err := s.dial("tcp", s.cfg.Backend.Address, s.cfg.Backend.ConnectTimeout)
	if err != nil {
		logger.Warn("backend connect failed", "session", sess.id, "error", err)
		return
	}

	if cmd := s.cfg.Backend.RemoteHostnameCmd; cmd != "" {
		s.writeLine(conn, cmd+" "+sess.remoteHost)
	}

	s.registry.AttachBackend(sess, conn)
	s.watch(conn)

	if wasOffline {
		sess.disconnectAt = time.Time{}
		if sess.Authenticated() {
			s.writeLine(conn, "connect "+sess.user+" "+sess.password)
			s.writeLine(conn, reconnectCompleteCmd)
			logger.Info("replayed login", "session", sess.id, "user", sess.user)
		}
	}
}

func (s *Server) handleClientLine(sess *Session, line string) {
	if strings.TrimSpace(line) == introspectCmd {
		s.writeIntrospection(sess)
		return
	}

	if m := connectRE.FindStringSubmatch(line); m != nil {
		sess.pending.push(pendingCommand{
			kind:      pendingConnect,
			user:      m[1],
			password:  m[2],
			createdAt: s.now(),
		})
	}

	if sess.backend != nil {
		s.writeLine(sess.backend, line)
		metrics.RecordForwarded("client_to_backend")
	}
}

func (s *Server) handleBackendLine(sess *Session, line string) {
	if sess.reconnectPending {
		if strings.Contains(line, reconnectSentinel) {
			sess.reconnectPending = false
			s.writeLine(sess.client, s.cfg.Notices.Online)
			metrics.ReconnectsTotal.Inc()
			logger.Info("session restored", "session", sess.id, "user", sess.user)
			s.publish(events.Event{
				Type:      events.TypeReconnected,
				SessionID: sess.id,
				User:      sess.user,
			})
		} else {
			metrics.LinesGagged.Inc()
		}
		return
	}

	s.correlateAuth(sess, line)
	s.writeLine(sess.client, line)
	metrics.RecordForwarded("backend_to_client")
}

// correlateAuth matches backend output against the oldest in-flight
// connect command. The first success line stores the credentials, the
// first failure line discards them, and an unanswered head ages out.
func (s *Server) correlateAuth(sess *Session, line string) {
	head, ok := sess.pending.peek()
	if !ok || head.kind != pendingConnect {
		return
	}

	switch {
	case s.cfg.Login.ConnectSuccessRE.MatchString(line):
		cmd, _ := sess.pending.pop()
		sess.user = cmd.user
		sess.password = cmd.password
		metrics.LoginsCaptured.Inc()
		logger.Info("login captured", "session", sess.id, "user", sess.user, "remote", sess.remoteHost)
		s.publish(events.Event{
			Type:       events.TypeLoginCaptured,
			SessionID:  sess.id,
			User:       sess.user,
			RemoteHost: sess.remoteHost,
		})
	case s.cfg.Login.ConnectFailRE.MatchString(line):
		sess.pending.pop()
	case s.now().Sub(head.createdAt) > s.cfg.Login.AuthTimeout:
		sess.pending.pop()
	}
}

// handleClientEOF tears the session down, except that one EOF per
// reconnect cycle is swallowed: the failover teardown can make the
// client side report a spurious close, and acting on it would kill the
// session we are trying to save.
func (s *Server) handleClientEOF(sess *Session) {
	if sess.wasOffline {
		sess.wasOffline = false
		logger.Debug("suppressed client EOF after failover", "session", sess.id)
		// The reader goroutine has exited; re-arm it. A genuinely
		// closed socket reports EOF again at once, and the cleared
		// flag lets that one through.
		s.watch(sess.client)
		return
	}
	s.destroySession(sess, "client_eof")
}

// handleBackendEOF records the drop. With the heartbeat up it sends a
// probe: if the backend answers anything, the drop was a deliberate
// boot and the client gets closed too; if nothing comes back within
// the probe timeout the whole backend is presumed gone.
func (s *Server) handleBackendEOF(sess *Session) {
	if conn := s.registry.DetachBackend(sess); conn != nil {
		conn.Close()
	}
	sess.disconnectAt = s.now()
	sess.reconnectPending = true

	if s.online() {
		s.writeLine(s.hb.conn, fmt.Sprintf(pingProbeFormat, sess.id))
		logger.Info("backend socket dropped, probing", "session", sess.id, "user", sess.user)
	} else {
		logger.Info("backend socket dropped while offline", "session", sess.id, "user", sess.user)
	}
}

// cleanupStale runs once per tick: expire never-authenticated
// sessions, age out unanswered connect commands, and escalate probe
// timeouts to a failover teardown.
func (s *Server) cleanupStale() {
	now := s.now()

	for _, sess := range s.registry.All() {
		if !sess.Authenticated() && now.Sub(sess.createdAt) > s.cfg.Proxy.UnauthExpiry {
			s.destroySession(sess, "stale")
			continue
		}
		if age, ok := sess.pending.headAge(now); ok && age > s.cfg.Login.AuthTimeout {
			sess.pending.pop()
		}
	}

	for _, sess := range s.registry.All() {
		if !sess.disconnectAt.IsZero() && now.Sub(sess.disconnectAt) > s.cfg.Heartbeat.ProbeTimeout {
			logger.Warn("probe unanswered, treating backend as down", "session", sess.id)
			s.failoverTeardown()
			break
		}
	}
}

func (s *Server) applyConfig(cfg *config.Config) {
	old := s.cfg
	s.cfg = cfg
	logger.Info("configuration reloaded")

	if old.Backend.Address != cfg.Backend.Address {
		logger.Warn("backend address changed, failing over",
			"old", old.Backend.Address, "new", cfg.Backend.Address)
		s.hb.nextAttempt = time.Time{}
		s.failoverTeardown()
		s.maybeOpenHeartbeat()
	}
}

func (s *Server) buildSnapshot() Snapshot {
	sessions := make([]SessionInfo, 0, s.registry.Len())
	for _, sess := range s.registry.All() {
		sessions = append(sessions, SessionInfo{
			ID:               sess.id,
			User:             sess.user,
			RemoteHost:       sess.remoteHost,
			State:            sess.State(),
			CreatedAt:        sess.createdAt,
			BackendAttached:  sess.backend != nil,
			ReconnectPending: sess.reconnectPending,
			PendingCommands:  sess.pending.len(),
		})
	}
	return Snapshot{
		Online:    s.online(),
		Uptime:    s.now().Sub(s.startedAt),
		Sessions:  sessions,
		Integrity: s.registry.CheckIntegrity(),
	}
}

func (s *Server) shutdown() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	for _, sess := range s.registry.All() {
		s.destroySession(sess, "shutdown")
	}
	if s.hb.conn != nil {
		s.hb.conn.Close()
		s.hb.conn = nil
	}
	metrics.SetBackendOnline(false)
	// Every tracked socket is closed now, so the reader goroutines all
	// unblock and exit.
	s.wg.Wait()
	logger.Info("proxy stopped")
}

// destroySession removes the session from the registry and closes both
// of its sockets. Index removal happens before close so late readiness
// on the descriptors resolves to nothing.
func (s *Server) destroySession(sess *Session, reason string) {
	s.registry.Remove(sess)
	if sess.backend != nil {
		sess.backend.Close()
	}
	sess.client.Close()

	metrics.SessionsActive.Set(float64(s.registry.Len()))
	metrics.RecordSessionClosed(reason)
	logger.Info("session closed", "session", sess.id, "user", sess.user, "reason", reason)
	s.publish(events.Event{
		Type:       events.TypeSessionClosed,
		SessionID:  sess.id,
		User:       sess.user,
		RemoteHost: sess.remoteHost,
		Reason:     reason,
	})
}

// writeLine appends the line terminator and writes. Write errors are
// dropped on purpose: peer loss is detected on the read path of the
// owning session, never here.
func (s *Server) writeLine(conn net.Conn, line string) {
	if conn == nil {
		return
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		logger.Debug("write dropped", "error", err)
	}
}

func (s *Server) publish(ev events.Event) {
	if s.publisher == nil {
		return
	}
	ev.Timestamp = s.now()
	s.publisher.Publish(ev)
}
