package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig holds the connection settings of the forwarder
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns a config pointing at a local server
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "sessions.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Conn is the part of *nats.Conn the forwarder needs
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSForwarder republishes every in-process event as JSON on
// "<prefix>.<event type>".
type NATSForwarder struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

// DialNATS connects to the server and returns a forwarder bound to it
func DialNATS(cfg NATSConfig, logger *zap.Logger) (*NATSForwarder, error) {
	opts := []nats.Option{
		nats.Name("match-server"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return NewNATSForwarder(nc, cfg.SubjectPrefix, logger), nil
}

// NewNATSForwarder wraps an existing connection
func NewNATSForwarder(conn Conn, prefix string, logger *zap.Logger) *NATSForwarder {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}

	return &NATSForwarder{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}
}

// Attach subscribes the forwarder to every event of the publisher
func (f *NATSForwarder) Attach(p *Publisher) {
	p.SubscribeAll(f.Forward)
}

// Forward publishes a single event
func (f *NATSForwarder) Forward(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("Error marshaling event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	subject := f.Subject(event.Type)
	if err := f.conn.Publish(subject, data); err != nil {
		f.logger.Warn("failed to forward event",
			zap.String("subject", subject),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

// Subject returns the subject an event type is published on
func (f *NATSForwarder) Subject(eventType EventType) string {
	return f.prefix + "." + string(eventType)
}

// Close drains pending messages and closes the connection
func (f *NATSForwarder) Close() error {
	return f.conn.Drain()
}
