package proxy

import (
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

type mockAddr struct {
	addr string
}

func (a mockAddr) Network() string { return "tcp" }
func (a mockAddr) String() string  { return a.addr }

// mockConn records writes and blocks reads until closed, so reader
// goroutines spawned by the server park harmlessly while tests drive
// the handlers directly.
type mockConn struct {
	mu       sync.Mutex
	writeBuf bytes.Buffer
	closed   chan struct{}
	once     sync.Once
	remote   string
}

func newMockConn(remote string) *mockConn {
	return &mockConn{
		closed: make(chan struct{}),
		remote: remote,
	}
}

func (c *mockConn) Read(b []byte) (int, error) {
	<-c.closed
	return 0, io.EOF
}

func (c *mockConn) Write(b []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeBuf.Write(b)
}

func (c *mockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *mockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Written returns everything written to the conn so far.
func (c *mockConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeBuf.String()
}

// Lines returns the written data split into lines.
func (c *mockConn) Lines() []string {
	data := c.Written()
	if data == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(data, "\n"), "\n")
}

func (c *mockConn) LocalAddr() net.Addr                { return mockAddr{"127.0.0.1:4000"} }
func (c *mockConn) RemoteAddr() net.Addr               { return mockAddr{c.remote} }
func (c *mockConn) SetDeadline(t time.Time) error      { return nil }
func (c *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *mockConn) SetWriteDeadline(t time.Time) error { return nil }
