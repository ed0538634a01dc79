package model

import "time"

// Record is the versioned local copy of one CRM entity. Owned exclusively by
// the sync worker; SyncVersion increments on every successful upsert and is
// never decremented.
//
// Invariant: ModifiedAt is always >= the SourceSystemTimestamp of the last
// event that updated the record.
type Record struct {
	EntityID     string         `json:"entity_id"`
	OwnerEmail   string         `json:"owner_email"`
	OwnerName    string         `json:"owner_name"`
	CreatedAt    time.Time      `json:"created_at"`
	ModifiedAt   time.Time      `json:"modified_at"`
	LastSyncedAt time.Time      `json:"last_synced_at"`
	Payload      map[string]any `json:"payload"`
	SyncVersion  int64          `json:"sync_version"`
}

// ConflictType classifies why a conflict record was written.
type ConflictType string

const (
	// ConflictStaleUpdate marks an incoming event whose source timestamp is
	// older than the stored record's modified_at.
	ConflictStaleUpdate ConflictType = "stale_update"
)

// ResolutionLastWriteWins discards stale events rather than merging them.
const ResolutionLastWriteWins = "last_write_wins"

// Conflict is an append-only audit entry written whenever a stale update is
// rejected. Never mutated after creation.
type Conflict struct {
	ConflictID         string         `json:"conflict_id"`
	EntityType         string         `json:"entity_type"`
	EntityID           string         `json:"entity_id"`
	ConflictType       ConflictType   `json:"conflict_type"`
	IncomingTimestamp  time.Time      `json:"incoming_timestamp"`
	ExistingTimestamp  time.Time      `json:"existing_timestamp"`
	PreviousSnapshot   map[string]any `json:"previous_snapshot"`
	IncomingPayload    map[string]any `json:"incoming_payload"`
	ResolutionStrategy string         `json:"resolution_strategy"`
	DetectedAt         time.Time      `json:"detected_at"`
}
