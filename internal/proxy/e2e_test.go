package proxy

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mudkeep/mudkeep/internal/config"
)

// fakeGame is a minimal text server: it answers login lines the way a
// MUSH does and echoes think commands back, which is all the proxy
// needs from the real thing.
type fakeGame struct {
	t    *testing.T
	addr string

	mu    sync.Mutex
	ln    net.Listener
	conns []net.Conn
}

func newFakeGame(t *testing.T) *fakeGame {
	t.Helper()
	g := &fakeGame{t: t, addr: "127.0.0.1:0"}
	g.start()
	return g
}

// start binds the listener. After the first start the address is fixed,
// so stop/start models a server restart on the same port.
func (g *fakeGame) start() {
	ln, err := net.Listen("tcp", g.addr)
	require.NoError(g.t, err)
	g.addr = ln.Addr().String()
	g.mu.Lock()
	g.ln = ln
	g.mu.Unlock()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			g.mu.Lock()
			g.conns = append(g.conns, conn)
			g.mu.Unlock()
			go g.serve(conn)
		}
	}()
}

func (g *fakeGame) serve(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "think "):
			fmt.Fprintf(conn, "%s\n", strings.TrimPrefix(line, "think "))
		case strings.HasPrefix(line, "connect "):
			fmt.Fprintf(conn, "Last connect was from 127.0.0.1\n")
		}
	}
}

// stop closes the listener and every open connection.
func (g *fakeGame) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln != nil {
		g.ln.Close()
		g.ln = nil
	}
	for _, conn := range g.conns {
		conn.Close()
	}
	g.conns = nil
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func readUntil(t *testing.T, r *bufio.Reader, conn net.Conn, substr string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(15*time.Second)))
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err, "waiting for %q", substr)
		if strings.Contains(line, substr) {
			return
		}
	}
}

func sessionCount(s *Server) int {
	snap, err := s.Snapshot(time.Second)
	if err != nil {
		return -1
	}
	return len(snap.Sessions)
}

func TestSessionSurvivesBackendRestartOverTCP(t *testing.T) {
	game := newFakeGame(t)
	defer game.stop()

	cfg := &config.Config{
		Proxy:     config.ProxyConfig{Host: "127.0.0.1", Port: freePort(t)},
		Backend:   config.BackendConfig{Address: game.addr},
		Heartbeat: config.HeartbeatConfig{User: "keep", Password: "pw", Interval: 100 * time.Millisecond},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	srv := NewServer(cfg, nil)
	go func() { _ = srv.Start() }()
	defer srv.Stop()

	require.Eventually(t, func() bool {
		snap, err := srv.Snapshot(time.Second)
		return err == nil && snap.Online
	}, 5*time.Second, 50*time.Millisecond, "heartbeat never came up")

	var client net.Conn
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", cfg.ListenAddr())
		if err != nil {
			return false
		}
		client = conn
		return true
	}, 5*time.Second, 50*time.Millisecond, "proxy listener never came up")
	defer client.Close()
	reader := bufio.NewReader(client)

	_, err := client.Write([]byte("connect alice secret\n"))
	require.NoError(t, err)
	readUntil(t, reader, client, "Last connect was from")

	require.Eventually(t, func() bool {
		snap, err := srv.Snapshot(time.Second)
		return err == nil && len(snap.Sessions) == 1 && snap.Sessions[0].User == "alice"
	}, 5*time.Second, 50*time.Millisecond, "login was not captured")

	// Backend restart: the client socket stays open throughout.
	game.stop()
	require.Eventually(t, func() bool {
		snap, err := srv.Snapshot(time.Second)
		return err == nil && !snap.Online
	}, 5*time.Second, 50*time.Millisecond, "outage not detected")
	game.start()

	readUntil(t, reader, client, cfg.Notices.Online)

	// The restored session relays again.
	_, err = client.Write([]byte("think hello again\n"))
	require.NoError(t, err)
	readUntil(t, reader, client, "hello again")

	// A real client disconnect after the reconnect cycle must still
	// tear the session down.
	client.Close()
	require.Eventually(t, func() bool {
		return sessionCount(srv) == 0
	}, 5*time.Second, 50*time.Millisecond, "session outlived its client")
}
