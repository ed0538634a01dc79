// Package receiver implements the webhook endpoint: signature verification,
// dedupe, durable persistence of the raw event, and queue publish.
package receiver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
	"github.com/talentbridge-systems/crmsync/internal/dedupe"
	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/repository"
	"github.com/talentbridge-systems/crmsync/internal/schema"
)

var (
	// ErrBadSignature rejects a delivery whose X-Signature does not match
	// the HMAC of the raw body. Nothing is persisted or enqueued.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrInvalidEnvelope rejects a delivery whose body does not parse as
	// the vendor wrapper shape.
	ErrInvalidEnvelope = errors.New("invalid webhook envelope")
)

// Publisher publishes queue messages. The JetStream client satisfies it; a
// fake stands in for tests.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Summary reports how a webhook delivery was handled.
type Summary struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// Config holds receiver service settings.
type Config struct {
	// Secret is the shared HMAC secret for signature verification.
	Secret string

	// DedupeTTL is how long dedupe markers live. Defaults to 10 minutes.
	DedupeTTL time.Duration
}

// Service holds the receiver pipeline: verify, dedupe, persist, publish.
type Service struct {
	secret    []byte
	dedupeTTL time.Duration

	registry  *schema.Registry
	markers   dedupe.Store
	logs      repository.LogStore
	publisher Publisher

	storeBreaker *breaker.Breaker
	queueBreaker *breaker.Breaker

	logger *logging.Logger
}

// NewService wires the receiver. The store and queue breakers come from the
// shared registry so the admin surface can inspect and reset them.
func NewService(cfg Config, registry *schema.Registry, markers dedupe.Store, logs repository.LogStore, publisher Publisher, breakers *breaker.Registry, brCfg breaker.Config, logger *logging.Logger) *Service {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}

	storeCfg := brCfg
	storeCfg.Name = "store"
	queueCfg := brCfg
	queueCfg.Name = "queue"

	return &Service{
		secret:       []byte(cfg.Secret),
		dedupeTTL:    cfg.DedupeTTL,
		registry:     registry,
		markers:      markers,
		logs:         logs,
		publisher:    publisher,
		storeBreaker: breakers.Register(storeCfg),
		queueBreaker: breakers.Register(queueCfg),
		logger:       logger,
	}
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body against the
// shared secret using a constant-time comparison.
func (s *Service) VerifySignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Receive handles one webhook delivery. The signature gate runs before any
// parsing so forged events never reach the pipeline.
func (s *Service) Receive(ctx context.Context, signature string, body []byte) (*Summary, error) {
	if !s.VerifySignature(signature, body) {
		return nil, ErrBadSignature
	}

	events, err := parseEnvelope(body, s.registry)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for _, pe := range events {
		accepted, err := s.processEvent(ctx, pe)
		if err != nil {
			return nil, err
		}
		if accepted {
			summary.Accepted++
		} else {
			summary.Duplicates++
		}
	}
	return summary, nil
}

// processEvent runs dedupe, log persistence, and queue publish for one
// event. Log persistence happens strictly before publish: a crash between
// the two leaves a recoverable pending log entry, never an unprocessable
// queue message.
func (s *Service) processEvent(ctx context.Context, pe parsedEvent) (bool, error) {
	event := pe.event
	checksum := model.PayloadChecksum(event.Fields)
	key := model.DedupeKey(event.EntityType, event.Operation, event.EntityID, checksum)

	present, err := s.markers.Exists(ctx, key)
	if err != nil {
		// Dedupe is best-effort: a cache miss here at worst re-enqueues a
		// duplicate, which the worker's idempotent upsert absorbs.
		s.logger.WarnContext(ctx, "dedupe check unavailable", logging.Error(err))
	}
	if present {
		s.logger.InfoContext(ctx, "duplicate delivery suppressed",
			logging.EntityType(event.EntityType),
			logging.EntityID(event.EntityID),
			logging.Checksum(checksum),
		)
		return false, nil
	}

	entry := &model.LogEntry{
		LogID:           uuid.New().String(),
		EntityType:      event.EntityType,
		Operation:       event.Operation,
		EntityID:        event.EntityID,
		RawPayload:      pe.raw,
		PayloadChecksum: checksum,

		// Persisted so a swept or requeued entry keeps the vendor's
		// modification time for the conflict check.
		SourceSystemTimestamp: event.SourceSystemTimestamp,

		ReceivedAt: time.Now().UTC(),
		Status:     model.StatusPending,
	}

	err = s.storeBreaker.Execute(ctx, func(ctx context.Context) error {
		return s.logs.InsertLogEntry(ctx, entry)
	})
	if err != nil {
		// A log entry that does not exist must never be referenced from the
		// queue, so persistence failure aborts before publish.
		return false, err
	}

	if err := s.markers.Mark(ctx, key, s.dedupeTTL); err != nil {
		s.logger.WarnContext(ctx, "dedupe marker not set", logging.Error(err))
	}

	msg := &model.QueueMessage{
		LogID:                 entry.LogID,
		EntityType:            event.EntityType,
		EntityID:              event.EntityID,
		Operation:             event.Operation,
		SourceSystemTimestamp: event.SourceSystemTimestamp,
		PayloadChecksum:       checksum,
	}
	if err := s.publish(ctx, msg); err != nil {
		// The pending log entry is already durable; the sweep republishes it.
		s.logger.WarnContext(ctx, "queue publish failed, pending sweep will recover",
			logging.LogID(entry.LogID),
			logging.Error(err),
		)
	}

	s.logger.InfoContext(ctx, "change event accepted",
		logging.LogID(entry.LogID),
		logging.EntityType(event.EntityType),
		logging.EntityID(event.EntityID),
		logging.Operation(string(event.Operation)),
	)
	return true, nil
}

func (s *Service) publish(ctx context.Context, msg *model.QueueMessage) error {
	data, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	return s.queueBreaker.Execute(ctx, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, msg.Subject(), data)
	})
}
