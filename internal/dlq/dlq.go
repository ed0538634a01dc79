// Package dlq writes queue messages that exhausted redelivery (or failed
// permanently) to a NATS JetStream dead-letter stream for operator
// investigation.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/talentbridge-systems/crmsync/internal/messaging"
	"github.com/talentbridge-systems/crmsync/internal/metrics"
	"github.com/talentbridge-systems/crmsync/internal/model"
)

// FailedMessage is the envelope stored on the dead-letter stream.
type FailedMessage struct {
	Timestamp   time.Time           `json:"timestamp"`
	Message     *model.QueueMessage `json:"message"`
	Error       string              `json:"error"`
	Reason      string              `json:"reason"`
	Deliveries  int                 `json:"deliveries"`
	LastAttempt time.Time           `json:"last_attempt"`
}

// Queue writes failed messages to NATS JetStream. Safe for use across
// multiple worker instances.
type Queue struct {
	js      *messaging.JetStreamClient
	stream  jetstream.Stream
	written uint64
}

// New creates the dead-letter queue, ensuring its stream exists.
func New(ctx context.Context, js *messaging.JetStreamClient) (*Queue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, messaging.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &Queue{js: js, stream: stream}, nil
}

// Write records a failed queue message under crm.dlq.<reason>.
func (q *Queue) Write(ctx context.Context, msg *model.QueueMessage, cause error, reason string, deliveries int) error {
	if q == nil {
		return nil
	}

	failed := FailedMessage{
		Timestamp:   time.Now().UTC(),
		Message:     msg,
		Error:       cause.Error(),
		Reason:      reason,
		Deliveries:  deliveries,
		LastAttempt: time.Now().UTC(),
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	subject := fmt.Sprintf("crm.dlq.%s", reason)
	if _, err := q.js.PublishSync(ctx, subject, data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	metrics.DLQWrites.WithLabelValues(reason).Inc()
	return nil
}

// List returns failed messages from the dead-letter stream.
func (q *Queue) List(ctx context.Context, limit int) ([]FailedMessage, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: "crm.dlq.>",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []FailedMessage
	for msg := range msgs.Messages() {
		var failed FailedMessage
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			continue
		}
		out = append(out, failed)
	}
	return out, nil
}

// Stats returns dead-letter stream metrics.
func (q *Queue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false}
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return map[string]interface{}{
			"enabled":       true,
			"written_local": atomic.LoadUint64(&q.written),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":        true,
		"written_local":  atomic.LoadUint64(&q.written),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}
}

// Purge removes all messages from the dead-letter stream.
func (q *Queue) Purge(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("dlq not enabled")
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	return nil
}
