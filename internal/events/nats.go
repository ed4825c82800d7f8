// Package events publishes chat turn events to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamChat holds every chat event.
const StreamChat = "CHAT"

// SubjectTurnPrefix prefixes per-source turn subjects, e.g. chat.turn.sql.
const SubjectTurnPrefix = "chat.turn."

// Config holds NATS connection configuration.
type Config struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	StreamMaxAge   time.Duration
}

// DefaultConfig returns a configuration for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "finance-chat",
		MaxReconnects:  -1, // Infinite reconnects
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
		StreamMaxAge:   7 * 24 * time.Hour,
	}
}

// NATSPublisher wraps the NATS connection and JetStream context.
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewNATSPublisher connects to NATS and ensures the chat stream exists.
func NewNATSPublisher(ctx context.Context, cfg Config, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &NATSPublisher{
		config: cfg,
		logger: logger.With("component", "nats"),
	}

	if err := p.connect(); err != nil {
		return nil, err
	}
	if err := p.ensureStream(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *NATSPublisher) connect() error {
	opts := []nats.Option{
		nats.Name(p.config.Name),
		nats.MaxReconnects(p.config.MaxReconnects),
		nats.ReconnectWait(p.config.ReconnectWait),
		nats.Timeout(p.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			p.logger.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			p.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(p.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.js = js
	p.mu.Unlock()

	p.logger.Info("connected to NATS", "url", p.config.URL)
	return nil
}

func (p *NATSPublisher) ensureStream(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:        StreamChat,
		Description: "Answered chat turns",
		Subjects:    []string{"chat.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      p.config.StreamMaxAge,
		MaxMsgs:     -1,
		MaxBytes:    -1,
		Replicas:    1,
		Discard:     nats.DiscardOld,
	}

	_, err := p.js.StreamInfo(cfg.Name, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := p.js.AddStream(cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		p.logger.Info("created stream", "stream", cfg.Name)
	case err != nil:
		return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
	default:
		if _, err := p.js.UpdateStream(cfg, nats.Context(ctx)); err != nil {
			p.logger.Warn("failed to update stream", "stream", cfg.Name, "error", err)
		}
	}
	return nil
}

// PublishTurn publishes ev on its source subject.
func (p *NATSPublisher) PublishTurn(ctx context.Context, ev TurnEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.RLock()
	js := p.js
	p.mu.RUnlock()
	if js == nil {
		return errors.New("nats publisher is closed")
	}

	subject := ev.Subject()
	if _, err := js.Publish(subject, data, nats.Context(ctx), nats.MsgId(ev.EventID)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("published event", "subject", subject, "size", len(data))
	return nil
}

// IsConnected reports whether the connection is up.
func (p *NATSPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
	}
	p.conn = nil
	p.js = nil
	if err != nil {
		return fmt.Errorf("failed to drain connection: %w", err)
	}
	return nil
}
