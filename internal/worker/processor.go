// Package worker consumes queue messages and applies them to the versioned
// record store. Processing is at-least-once; every step is idempotent so
// redeliveries converge on the same final state.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
	"github.com/talentbridge-systems/crmsync/internal/dedupe"
	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/metrics"
	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/normalize"
	"github.com/talentbridge-systems/crmsync/internal/repository"
)

// Outcome classifies how a message was handled, which drives acknowledgment.
type Outcome int

const (
	// OutcomeSuccess means the record store was updated. Ack.
	OutcomeSuccess Outcome = iota

	// OutcomeConflict means the incoming event was stale and recorded as a
	// conflict without mutating the record. Ack: redelivery cannot help.
	OutcomeConflict

	// OutcomeTransient means a dependency failed and a later redelivery may
	// succeed. Nak with delay.
	OutcomeTransient

	// OutcomePermanent means the message can never be processed (missing log
	// entry, malformed payload, unknown entity type). Dead-letter and ack.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConflict:
		return "conflict"
	case OutcomeTransient:
		return "transient_failure"
	case OutcomePermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Result pairs an outcome with its cause for logging and dead-lettering.
type Result struct {
	Outcome Outcome
	Err     error
}

// OwnerPolicy supplies the owner identity used when the payload carries none.
type OwnerPolicy struct {
	DefaultEmail string
	DefaultName  string
}

// Processor applies one queue message to the record store.
type Processor struct {
	store      repository.Store
	normalizer *normalize.Normalizer
	markers    dedupe.Store
	owner      OwnerPolicy

	dbBreaker *breaker.Breaker

	logger *logging.Logger
}

// NewProcessor wires the worker pipeline. The database breaker comes from
// the shared registry so the admin surface can inspect and reset it.
func NewProcessor(store repository.Store, normalizer *normalize.Normalizer, markers dedupe.Store, owner OwnerPolicy, breakers *breaker.Registry, brCfg breaker.Config, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	brCfg.Name = "store"
	return &Processor{
		store:      store,
		normalizer: normalizer,
		markers:    markers,
		owner:      owner,
		dbBreaker:  breakers.Register(brCfg),
		logger:     logger,
	}
}

// Process runs the full per-message pipeline: mark processing, fetch the raw
// payload, normalize, apply with conflict detection, record the terminal
// status, and drop the dedupe marker on success.
func (p *Processor) Process(ctx context.Context, msg *model.QueueMessage) Result {
	start := time.Now()
	res := p.process(ctx, msg)
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	metrics.MessagesProcessed.WithLabelValues(msg.EntityType, res.Outcome.String()).Inc()

	if res.Err != nil {
		p.logger.WarnContext(ctx, "message processing did not succeed",
			logging.LogID(msg.LogID),
			logging.EntityType(msg.EntityType),
			logging.Operation(string(msg.Operation)),
			logging.Error(res.Err),
		)
	}
	return res
}

func (p *Processor) process(ctx context.Context, msg *model.QueueMessage) Result {
	entry, err := p.store.GetLogEntry(ctx, msg.LogID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("log entry %s does not exist: %w", msg.LogID, err)}
		}
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("fetch log entry: %w", err)}
	}

	// A redelivered message whose entry already reached a terminal state is
	// a duplicate of completed work. Checked before the processing
	// transition so redelivery never regresses a terminal status.
	switch entry.Status {
	case model.StatusSuccess:
		return Result{Outcome: OutcomeSuccess}
	case model.StatusConflict:
		return Result{Outcome: OutcomeConflict}
	}

	if err := p.store.SetLogStatus(ctx, msg.LogID, model.StatusProcessing, ""); err != nil {
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("mark processing: %w", err)}
	}

	var fields map[string]any
	if err := json.Unmarshal(entry.RawPayload, &fields); err != nil {
		return p.permanent(ctx, msg, fmt.Errorf("malformed stored payload: %w", err))
	}

	normalized, warnings := p.normalizer.Payload(msg.EntityType, fields)
	for _, w := range warnings {
		metrics.NormalizationWarnings.WithLabelValues(msg.EntityType, w.Field).Inc()
		p.logger.WarnContext(ctx, "field normalization warning",
			logging.LogID(msg.LogID),
			logging.EntityType(msg.EntityType),
			slog.String("field", w.Field),
			slog.String("reason", w.Reason),
		)
	}

	if msg.Operation == model.OperationDelete {
		// Deletes are soft: the tombstone merges into the payload so the
		// record keeps its history and sync_version keeps advancing.
		normalized["is_deleted"] = true
	}

	ownerEmail, ownerName := p.resolveOwner(normalized)

	in := repository.ApplyInput{
		EntityID:   msg.EntityID,
		Operation:  msg.Operation,
		OwnerEmail: ownerEmail,
		OwnerName:  ownerName,
		Payload:    normalized,
		Timestamp:  msg.SourceSystemTimestamp.UTC(),
	}

	var applied *repository.ApplyResult
	err = p.dbBreaker.Execute(ctx, func(ctx context.Context) error {
		var applyErr error
		applied, applyErr = p.store.Apply(ctx, msg.EntityType, in)
		return applyErr
	})
	if err != nil {
		if errors.Is(err, repository.ErrUnknownEntityType) {
			return p.permanent(ctx, msg, fmt.Errorf("entity type %q not in schema: %w", msg.EntityType, err))
		}
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("apply event: %w", err)}
	}

	if !applied.Applied {
		metrics.ConflictsDetected.WithLabelValues(msg.EntityType).Inc()
		if err := p.store.SetLogStatus(ctx, msg.LogID, model.StatusConflict, staleMessage(applied)); err != nil {
			return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("mark conflict: %w", err)}
		}
		p.logger.InfoContext(ctx, "stale event recorded as conflict",
			logging.LogID(msg.LogID),
			logging.EntityType(msg.EntityType),
			logging.EntityID(msg.EntityID),
		)
		return Result{Outcome: OutcomeConflict}
	}

	if err := p.store.SetLogStatus(ctx, msg.LogID, model.StatusSuccess, ""); err != nil {
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("mark success: %w", err)}
	}

	key := model.DedupeKey(msg.EntityType, msg.Operation, msg.EntityID, msg.PayloadChecksum)
	if err := p.markers.Clear(ctx, key); err != nil {
		// Marker TTL covers the miss; the worst case is a suppressed
		// identical redelivery within the TTL window.
		p.logger.WarnContext(ctx, "dedupe marker not cleared", logging.Error(err))
	}

	p.logger.InfoContext(ctx, "change event applied",
		logging.LogID(msg.LogID),
		logging.EntityType(msg.EntityType),
		logging.EntityID(msg.EntityID),
		logging.Operation(string(msg.Operation)),
	)
	return Result{Outcome: OutcomeSuccess}
}

// MarkFailed records the terminal failed status for a message the consumer
// is about to dead-letter.
func (p *Processor) MarkFailed(ctx context.Context, logID string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.store.SetLogStatus(ctx, logID, model.StatusFailed, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed status not recorded",
			logging.LogID(logID),
			logging.Error(err),
		)
	}
}

func (p *Processor) permanent(ctx context.Context, msg *model.QueueMessage, cause error) Result {
	p.MarkFailed(ctx, msg.LogID, cause)
	return Result{Outcome: OutcomePermanent, Err: cause}
}

// resolveOwner extracts the owner identity from the payload, falling back to
// the configured default. Vendors send either flat owner_email/owner_name
// fields or a nested owner object.
func (p *Processor) resolveOwner(fields map[string]any) (email, name string) {
	email = stringField(fields, "owner_email")
	name = stringField(fields, "owner_name")

	if owner, ok := fields["owner"].(map[string]any); ok {
		if email == "" {
			email = stringField(owner, "email")
		}
		if name == "" {
			name = stringField(owner, "name")
		}
	}

	if email == "" {
		email = p.owner.DefaultEmail
	}
	if name == "" {
		name = p.owner.DefaultName
	}
	return email, name
}

func staleMessage(res *repository.ApplyResult) string {
	if res.Conflict == nil {
		return "stale update"
	}
	return fmt.Sprintf("stale update: incoming %s older than stored %s",
		res.Conflict.IncomingTimestamp.Format(time.RFC3339),
		res.Conflict.ExistingTimestamp.Format(time.RFC3339))
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
