package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamClient wraps a NATS connection with JetStream persistence.
type JetStreamClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	Name     string
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// ConsumerConfig defines a durable JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the durable consumer name.
	Name string

	// FilterSubject filters which messages this consumer receives.
	FilterSubject string

	// AckWait is time to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// MaxDeliver is maximum delivery attempts before the message is
	// dead-lettered by the worker.
	MaxDeliver int

	// MaxAckPending bounds in-flight unacknowledged messages, which is the
	// worker's message-level concurrency limit.
	MaxAckPending int
}

// Predefined stream configurations for the sync pipeline.
var (
	// EventsStream is the durable work queue of change-event references.
	// WorkQueuePolicy delivers each message to exactly one worker.
	EventsStream = StreamConfig{
		Name:      "CRM_EVENTS",
		Subjects:  []string{"crm.events.>"},
		MaxAge:    72 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxMsgs:   1000000,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}

	// DLQStream captures messages that exhausted redelivery or failed
	// permanently, for operator investigation.
	DLQStream = StreamConfig{
		Name:      "CRM_DLQ",
		Subjects:  []string{"crm.dlq.>"},
		MaxAge:    14 * 24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024, // 256MB
		MaxMsgs:   100000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)

// DefaultConsumerConfig returns sensible defaults for the worker consumer.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 64,
	}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{conn: conn, js: js}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer on a stream.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}

// PublishSync publishes a message and waits for the stream acknowledgment.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}

// Publish is PublishSync discarding the ack, for callers that only need
// fire-and-confirm semantics.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

// Consume starts delivering messages from a durable consumer to handler.
// The handler owns acknowledgment (Ack, NakWithDelay, Term) so the caller
// can map processing outcomes onto the redelivery policy. Returns a stop
// function.
func (c *JetStreamClient) Consume(ctx context.Context, streamName, consumerName string, handler func(msg jetstream.Msg)) (func(), error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}

	cons, err := consumer.Consume(handler)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return func() { cons.Stop() }, nil
}

// IsConnected returns true if connected to NATS.
func (c *JetStreamClient) IsConnected() bool {
	return c.conn.IsConnected()
}

// Close releases the underlying connection.
func (c *JetStreamClient) Close() {
	c.conn.Close()
}
