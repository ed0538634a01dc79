// Package repository persists the webhook log, the versioned records, and
// the append-only conflict audit trail.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/talentbridge-systems/crmsync/internal/model"
)

var (
	// ErrNotFound is returned when a log entry or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownEntityType is returned when an entity type is not declared
	// in the schema registry (no record table exists for it).
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// LogStore persists webhook log entries. Entries are created by the receiver
// and mutated only by the worker; they are never deleted.
type LogStore interface {
	InsertLogEntry(ctx context.Context, entry *model.LogEntry) error
	GetLogEntry(ctx context.Context, logID string) (*model.LogEntry, error)

	// SetLogStatus transitions the processing status of an entry. errMsg is
	// stored for failed entries and ignored otherwise.
	SetLogStatus(ctx context.Context, logID string, status model.LogStatus, errMsg string) error

	// ListPendingBefore returns pending entries received before cutoff, for
	// the sweep that recovers orphaned entries whose queue publish was lost.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.LogEntry, error)
}

// ApplyInput carries one normalized change event into the record store.
type ApplyInput struct {
	EntityID   string
	Operation  model.Operation
	OwnerEmail string
	OwnerName  string
	Payload    map[string]any
	Timestamp  time.Time
}

// ApplyResult reports the outcome of a conflict-aware upsert.
type ApplyResult struct {
	// Applied is true when the record was inserted or updated. When false,
	// Conflict describes the stale update that was rejected.
	Applied  bool
	Record   *model.Record
	Conflict *model.Conflict
}

// RecordStore owns the versioned records and the conflict audit trail.
type RecordStore interface {
	// Apply performs the conflict-aware upsert for one event inside a
	// transaction, holding a row lock on the entity so two workers never
	// mutate the same entity concurrently. A stale event (incoming timestamp
	// older than the stored modified_at) writes a Conflict and leaves the
	// record untouched.
	Apply(ctx context.Context, entityType string, in ApplyInput) (*ApplyResult, error)

	// GetRecord fetches the current versioned record for an entity.
	GetRecord(ctx context.Context, entityType, entityID string) (*model.Record, error)

	// ListConflicts returns recent conflict records for an entity type.
	ListConflicts(ctx context.Context, entityType string, limit int) ([]model.Conflict, error)
}

// Store combines both persistence concerns; the Postgres and memory
// implementations satisfy it.
type Store interface {
	LogStore
	RecordStore
}
