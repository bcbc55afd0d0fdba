package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mudkeep/mudkeep/internal/config"
	"github.com/mudkeep/mudkeep/internal/logger"
)

// Event is one session-lifecycle notification published for ops
// tooling. Passwords are never part of an event.
type Event struct {
	Type       string    `json:"type"`
	SessionID  uint64    `json:"session_id,omitempty"`
	User       string    `json:"user,omitempty"`
	RemoteHost string    `json:"remote_host,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event types emitted by the proxy.
const (
	TypeSessionOpened = "session_opened"
	TypeLoginCaptured = "login_captured"
	TypeFailover      = "failover"
	TypeReconnected   = "reconnected"
	TypeSessionClosed = "session_closed"
)

// Publisher delivers events somewhere. Publish must never block the
// caller; implementations drop on backpressure.
type Publisher interface {
	Publish(ev Event)
	Close() error
}

// RedisPublisher publishes events as JSON on a Redis channel. Delivery
// is best-effort: a buffered queue is drained by one worker goroutine
// and full-queue events are dropped with a warning.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	queue   chan Event
	done    chan struct{}
}

// NewRedisPublisher connects to Redis and starts the delivery worker.
func NewRedisPublisher(cfg *config.RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	p := &RedisPublisher{
		client:  client,
		channel: cfg.Channel,
		queue:   make(chan Event, 128),
		done:    make(chan struct{}),
	}
	go p.deliverLoop()

	return p, nil
}

func (p *RedisPublisher) deliverLoop() {
	for {
		select {
		case ev := <-p.queue:
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("failed to marshal event", "type", ev.Type, "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
				logger.Warn("failed to publish event", "type", ev.Type, "error", err)
			}
			cancel()
		case <-p.done:
			return
		}
	}
}

// Publish enqueues an event for delivery without blocking.
func (p *RedisPublisher) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case p.queue <- ev:
	default:
		logger.Warn("event queue full, dropping event", "type", ev.Type)
	}
}

// Close stops the worker and closes the Redis client.
func (p *RedisPublisher) Close() error {
	close(p.done)
	return p.client.Close()
}
