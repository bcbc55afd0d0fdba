package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  address: "127.0.0.1:4096"
heartbeat:
  user: "keep"
  password: "pw"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Proxy.Port)
	assert.Equal(t, 300*time.Second, cfg.Proxy.UnauthExpiry)
	assert.Equal(t, "@REMOTEHOSTNAME", cfg.Backend.RemoteHostnameCmd)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.ProbeTimeout)
	assert.Equal(t, 4*time.Second, cfg.Login.AuthTimeout)
	assert.NotNil(t, cfg.Login.ConnectSuccessRE)
	assert.NotNil(t, cfg.Login.ConnectFailRE)
	assert.NotEmpty(t, cfg.Notices.Offline)
	assert.NotEmpty(t, cfg.Notices.Online)
	assert.Equal(t, ":4000", cfg.ListenAddr())
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
proxy:
  host: "10.0.0.1"
  port: 5000
  unauth_expiry: 60s
backend:
  address: "game.example.com:4201"
  remotehostname_cmd: "@HOSTNAME"
heartbeat:
  user: "keep"
  password: "pw"
  interval: 5s
login:
  auth_timeout: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:5000", cfg.ListenAddr())
	assert.Equal(t, 60*time.Second, cfg.Proxy.UnauthExpiry)
	assert.Equal(t, "game.example.com:4201", cfg.Backend.Address)
	assert.Equal(t, "@HOSTNAME", cfg.Backend.RemoteHostnameCmd)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 2*time.Second, cfg.Login.AuthTimeout)
}

func TestLoad_DefaultPatternsMatch(t *testing.T) {
	path := writeConfig(t, `
backend:
  address: "127.0.0.1:4096"
heartbeat:
  user: "keep"
  password: "pw"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Login.ConnectSuccessRE.MatchString("Last connect was from 1.2.3.4"))
	assert.True(t, cfg.Login.ConnectFailRE.MatchString("Either that player does not exist, or has a different password."))
	assert.False(t, cfg.Login.ConnectSuccessRE.MatchString("You say, \"hello\""))
}

func TestLoad_MissingBackendAddress(t *testing.T) {
	path := writeConfig(t, `
heartbeat:
  user: "keep"
  password: "pw"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingHeartbeatCredentials(t *testing.T) {
	path := writeConfig(t, `
backend:
  address: "127.0.0.1:4096"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidPattern(t *testing.T) {
	path := writeConfig(t, `
backend:
  address: "127.0.0.1:4096"
heartbeat:
  user: "keep"
  password: "pw"
login:
  connect_success: "Last connect (unclosed"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_BadAddressFormat(t *testing.T) {
	path := writeConfig(t, `
backend:
  address: "no-port-here"
heartbeat:
  user: "keep"
  password: "pw"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_FileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
