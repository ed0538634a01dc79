// Package messaging provides the NATS JetStream transport for the sync
// pipeline: a durable work queue for change-event references and a
// dead-letter stream for messages that exhaust redelivery.
package messaging

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/talentbridge-systems/crmsync/internal/logging"
)

// Config holds NATS client configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Logger receives connection lifecycle events. Defaults to the process
	// logger.
	Logger *logging.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "crmsync-client",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect establishes a NATS connection with the given configuration.
func Connect(cfg Config) (*nats.Conn, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(disconnectErrHandler(logger)),
		nats.ReconnectHandler(reconnectHandler(logger)),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func disconnectErrHandler(logger *logging.Logger) nats.ConnErrHandler {
	return func(_ *nats.Conn, err error) {
		if err != nil {
			logger.Warn("nats disconnected", logging.Error(err))
		}
	}
}

func reconnectHandler(logger *logging.Logger) nats.ConnHandler {
	return func(_ *nats.Conn) {
		logger.Info("nats reconnected")
	}
}
