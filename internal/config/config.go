package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Proxy      ProxyConfig      `yaml:"proxy"`
	Backend    BackendConfig    `yaml:"backend"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Login      LoginConfig      `yaml:"login"`
	Notices    NoticesConfig    `yaml:"notices"`
	Redis      RedisConfig      `yaml:"redis"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProxyConfig configures the client-facing listener.
type ProxyConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	UnauthExpiry time.Duration `yaml:"unauth_expiry"` // unauthenticated sessions are dropped after this
}

// BackendConfig configures the upstream text server.
type BackendConfig struct {
	Address string `yaml:"address"` // host:port of the MUSH/MUD server
	// RemoteHostnameCmd, when non-empty, is sent as "<cmd> <client-ip>"
	// on every freshly opened backend socket before any user traffic.
	RemoteHostnameCmd string        `yaml:"remotehostname_cmd"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
}

// HeartbeatConfig configures the liveness-probe connection.
type HeartbeatConfig struct {
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Interval     time.Duration `yaml:"interval"`      // min delay between open attempts
	ProbeTimeout time.Duration `yaml:"probe_timeout"` // probe unanswered for this long => failover
}

// LoginConfig configures how backend login responses are recognized.
type LoginConfig struct {
	ConnectSuccess string        `yaml:"connect_success"` // regex over backend lines
	ConnectFail    string        `yaml:"connect_fail"`    // regex over backend lines
	AuthTimeout    time.Duration `yaml:"auth_timeout"`    // pending connect dropped after this

	// Compiled at Load time; not part of the YAML surface.
	ConnectSuccessRE *regexp.Regexp `yaml:"-"`
	ConnectFailRE    *regexp.Regexp `yaml:"-"`
}

// NoticesConfig holds the text written to clients around an outage.
type NoticesConfig struct {
	Offline string `yaml:"offline"`
	Online  string `yaml:"online"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	Channel  string `yaml:"channel"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type MonitoringConfig struct {
	MetricsPath string `yaml:"metrics_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from a YAML file
func Load(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills in the documented default for every unset tunable.
func (c *Config) ApplyDefaults() {
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 4000
	}
	if c.Proxy.UnauthExpiry == 0 {
		c.Proxy.UnauthExpiry = 300 * time.Second
	}
	if c.Backend.RemoteHostnameCmd == "" {
		c.Backend.RemoteHostnameCmd = "@REMOTEHOSTNAME"
	}
	if c.Backend.ConnectTimeout == 0 {
		c.Backend.ConnectTimeout = time.Second
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = 10 * time.Second
	}
	if c.Heartbeat.ProbeTimeout == 0 {
		c.Heartbeat.ProbeTimeout = 10 * time.Second
	}
	if c.Login.ConnectSuccess == "" {
		c.Login.ConnectSuccess = "Last connect was from.*"
	}
	if c.Login.ConnectFail == "" {
		c.Login.ConnectFail = "Either that player .*not exist.*"
	}
	if c.Login.AuthTimeout == 0 {
		c.Login.AuthTimeout = 4 * time.Second
	}
	if c.Notices.Offline == "" {
		c.Notices.Offline = "### The game server appears to be down. Stay put, your session will resume when it returns. ###"
	}
	if c.Notices.Online == "" {
		c.Notices.Online = "### The game server is back. Your session has been restored. ###"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "mudkeep:events"
	}
	if c.Monitoring.MetricsPath == "" {
		c.Monitoring.MetricsPath = "/metrics"
	}
}

// Validate validates the configuration and compiles the login patterns.
func (c *Config) Validate() error {
	if c.Backend.Address == "" {
		return fmt.Errorf("backend address is required")
	}
	if _, _, err := net.SplitHostPort(c.Backend.Address); err != nil {
		return fmt.Errorf("backend address must be host:port: %w", err)
	}
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy port must be in 1..65535")
	}
	if c.Heartbeat.User == "" || c.Heartbeat.Password == "" {
		return fmt.Errorf("heartbeat credentials are required")
	}

	var err error
	if c.Login.ConnectSuccessRE, err = regexp.Compile(c.Login.ConnectSuccess); err != nil {
		return fmt.Errorf("invalid connect_success pattern: %w", err)
	}
	if c.Login.ConnectFailRE, err = regexp.Compile(c.Login.ConnectFail); err != nil {
		return fmt.Errorf("invalid connect_fail pattern: %w", err)
	}
	return nil
}

// ListenAddr returns the client-facing listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Proxy.Host, c.Proxy.Port)
}
