package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/schema"
)

// InMemoryRepository implements Store for tests. A single mutex stands in
// for the row lock: the conflict protocol semantics match the Postgres
// implementation exactly.
type InMemoryRepository struct {
	mu        sync.Mutex
	registry  *schema.Registry
	logs      map[string]*model.LogEntry
	records   map[string]map[string]*model.Record // entity type -> entity id
	conflicts []model.Conflict
}

// NewInMemoryRepository creates an empty in-memory store.
func NewInMemoryRepository(registry *schema.Registry) *InMemoryRepository {
	return &InMemoryRepository{
		registry: registry,
		logs:     make(map[string]*model.LogEntry),
		records:  make(map[string]map[string]*model.Record),
	}
}

func (r *InMemoryRepository) InsertLogEntry(_ context.Context, entry *model.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *entry
	r.logs[entry.LogID] = &clone
	return nil
}

func (r *InMemoryRepository) GetLogEntry(_ context.Context, logID string) (*model.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.logs[logID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

func (r *InMemoryRepository) SetLogStatus(_ context.Context, logID string, status model.LogStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.logs[logID]
	if !ok {
		return ErrNotFound
	}
	entry.Status = status
	entry.ErrorMessage = errMsg
	switch status {
	case model.StatusSuccess, model.StatusFailed, model.StatusConflict:
		now := time.Now().UTC()
		entry.ProcessedAt = &now
	}
	return nil
}

func (r *InMemoryRepository) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]model.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []model.LogEntry
	for _, entry := range r.logs {
		if entry.Status == model.StatusPending && entry.ReceivedAt.Before(cutoff) {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryRepository) Apply(_ context.Context, entityType string, in ApplyInput) (*ApplyResult, error) {
	if r.registry != nil && !r.registry.Knows(entityType) {
		return nil, ErrUnknownEntityType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.records[entityType]
	if !ok {
		byID = make(map[string]*model.Record)
		r.records[entityType] = byID
	}

	existing := byID[in.EntityID]
	if existing != nil && existing.ModifiedAt.After(in.Timestamp) {
		conflict := r.recordConflict(entityType, in, existing)
		return &ApplyResult{Applied: false, Conflict: conflict}, nil
	}

	now := time.Now().UTC()
	if existing == nil {
		rec := &model.Record{
			EntityID:     in.EntityID,
			OwnerEmail:   in.OwnerEmail,
			OwnerName:    in.OwnerName,
			CreatedAt:    now,
			ModifiedAt:   in.Timestamp,
			LastSyncedAt: now,
			Payload:      clonePayload(in.Payload),
			SyncVersion:  1,
		}
		byID[in.EntityID] = rec
		clone := *rec
		return &ApplyResult{Applied: true, Record: &clone}, nil
	}

	merged := clonePayload(existing.Payload)
	for k, v := range in.Payload {
		merged[k] = v
	}
	existing.OwnerEmail = in.OwnerEmail
	existing.OwnerName = in.OwnerName
	existing.ModifiedAt = in.Timestamp
	existing.LastSyncedAt = now
	existing.Payload = merged
	existing.SyncVersion++

	clone := *existing
	return &ApplyResult{Applied: true, Record: &clone}, nil
}

// recordConflict must be called with r.mu held.
func (r *InMemoryRepository) recordConflict(entityType string, in ApplyInput, existing *model.Record) *model.Conflict {
	conflict := model.Conflict{
		ConflictID:         uuid.New().String(),
		EntityType:         entityType,
		EntityID:           in.EntityID,
		ConflictType:       model.ConflictStaleUpdate,
		IncomingTimestamp:  in.Timestamp,
		ExistingTimestamp:  existing.ModifiedAt,
		PreviousSnapshot:   clonePayload(existing.Payload),
		IncomingPayload:    clonePayload(in.Payload),
		ResolutionStrategy: model.ResolutionLastWriteWins,
		DetectedAt:         time.Now().UTC(),
	}
	r.conflicts = append(r.conflicts, conflict)
	return &conflict
}

func (r *InMemoryRepository) GetRecord(_ context.Context, entityType, entityID string) (*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[entityType][entityID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	clone.Payload = clonePayload(rec.Payload)
	return &clone, nil
}

func (r *InMemoryRepository) ListConflicts(_ context.Context, entityType string, limit int) ([]model.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []model.Conflict
	for i := len(r.conflicts) - 1; i >= 0 && len(out) < limit; i-- {
		if r.conflicts[i].EntityType == entityType {
			out = append(out, r.conflicts[i])
		}
	}
	return out, nil
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
