package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/talentbridge-systems/crmsync/internal/dlq"
	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/messaging"
	"github.com/talentbridge-systems/crmsync/internal/model"
)

const (
	// nakBaseDelay is the redelivery delay after the first transient failure;
	// it doubles per attempt up to nakMaxDelay.
	nakBaseDelay = 5 * time.Second
	nakMaxDelay  = 2 * time.Minute
)

// Consumer pulls queue messages from the durable JetStream consumer and maps
// processing outcomes onto the acknowledgment protocol.
type Consumer struct {
	js        *messaging.JetStreamClient
	processor *Processor
	deadlq    *dlq.Queue
	cfg       messaging.ConsumerConfig
	logger    *logging.Logger
}

// NewConsumer creates a consumer bound to the events stream.
func NewConsumer(js *messaging.JetStreamClient, processor *Processor, deadlq *dlq.Queue, cfg messaging.ConsumerConfig, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{js: js, processor: processor, deadlq: deadlq, cfg: cfg, logger: logger}
}

// Start ensures the stream and durable consumer exist and begins delivery.
// Returns a stop function.
func (c *Consumer) Start(ctx context.Context) (func(), error) {
	if _, err := c.js.CreateOrUpdateStream(ctx, messaging.EventsStream); err != nil {
		return nil, err
	}
	if _, err := c.js.CreateOrUpdateConsumer(ctx, messaging.EventsStream.Name, c.cfg); err != nil {
		return nil, err
	}

	stop, err := c.js.Consume(ctx, messaging.EventsStream.Name, c.cfg.Name, func(m jetstream.Msg) {
		c.handle(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "worker consumer started",
		logging.Service("worker"),
	)
	return stop, nil
}

// handle processes one delivery. WorkQueue retention means every path must
// end in Ack, NakWithDelay, or Term, or the message redelivers on AckWait.
func (c *Consumer) handle(ctx context.Context, m jetstream.Msg) {
	var msg model.QueueMessage
	if err := json.Unmarshal(m.Data(), &msg); err != nil {
		// Undecodable messages can never be processed.
		c.logger.ErrorContext(ctx, "discarding undecodable queue message", logging.Error(err))
		_ = m.Term()
		return
	}

	deliveries := 1
	if meta, err := m.Metadata(); err == nil {
		deliveries = int(meta.NumDelivered)
	}
	msg.RedeliveryCount = deliveries - 1

	res := c.processor.Process(ctx, &msg)

	switch res.Outcome {
	case OutcomeSuccess, OutcomeConflict:
		if err := m.Ack(); err != nil {
			c.logger.WarnContext(ctx, "ack failed", logging.LogID(msg.LogID), logging.Error(err))
		}

	case OutcomePermanent:
		c.deadLetter(ctx, m, &msg, res.Err, "permanent_failure", deliveries)

	case OutcomeTransient:
		if deliveries >= c.cfg.MaxDeliver {
			c.processor.MarkFailed(ctx, msg.LogID, fmt.Errorf("redeliveries exhausted: %w", res.Err))
			c.deadLetter(ctx, m, &msg, res.Err, "redelivery_exhausted", deliveries)
			return
		}
		if err := m.NakWithDelay(nakDelay(deliveries)); err != nil {
			c.logger.WarnContext(ctx, "nak failed", logging.LogID(msg.LogID), logging.Error(err))
		}
	}
}

// deadLetter writes the message to the DLQ and acks. If the DLQ write itself
// fails the message is nak'd so the attempt repeats rather than vanishing.
func (c *Consumer) deadLetter(ctx context.Context, m jetstream.Msg, msg *model.QueueMessage, cause error, reason string, deliveries int) {
	if err := c.deadlq.Write(ctx, msg, cause, reason, deliveries); err != nil {
		c.logger.ErrorContext(ctx, "dead-letter write failed",
			logging.LogID(msg.LogID),
			logging.Error(err),
		)
		_ = m.NakWithDelay(nakBaseDelay)
		return
	}

	c.logger.WarnContext(ctx, "message dead-lettered",
		logging.LogID(msg.LogID),
		logging.EntityType(msg.EntityType),
		logging.EntityID(msg.EntityID),
		logging.Error(cause),
	)
	if err := m.Ack(); err != nil {
		c.logger.WarnContext(ctx, "ack after dead-letter failed", logging.LogID(msg.LogID), logging.Error(err))
	}
}

// nakDelay returns the exponential redelivery delay for the given attempt.
func nakDelay(deliveries int) time.Duration {
	d := nakBaseDelay
	for i := 1; i < deliveries; i++ {
		d *= 2
		if d >= nakMaxDelay {
			return nakMaxDelay
		}
	}
	return d
}
