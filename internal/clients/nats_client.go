package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"anypay-backend/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSClient thin NATS publisher for deposit lifecycle events. Event
// publishing is strictly best-effort: reconciliation and registration never
// fail because NATS is down, so every publish error is logged and swallowed
// by callers.
type NATSClient struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSClient connects to NATS with reconnection handling
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	timeout := 5 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("⚠️ [NATS] Disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ [NATS] Reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	log.Printf("✅ [NATS] Connected to %s", cfg.URL)

	return &NATSClient{
		conn:          conn,
		subjectPrefix: cfg.SubjectPrefix,
	}, nil
}

// Publish publishes a JSON event under the configured subject prefix
func (c *NATSClient) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	fullSubject := c.subjectPrefix + "." + subject
	if err := c.conn.Publish(fullSubject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", fullSubject, err)
	}
	return nil
}

// IsConnected reports connection status
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			log.Printf("⚠️ [NATS] Drain failed: %v", err)
		}
		c.conn.Close()
	}
}
