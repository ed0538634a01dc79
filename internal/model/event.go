// Package model defines the canonical types flowing through the sync pipeline.
// Vendor payloads are untyped at the boundary and converted into these types
// immediately after parsing; only the webhook log keeps the raw form.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Operation is the canonical change-event operation.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ParseOperation normalizes a vendor operation string to the canonical enum.
// Matching is case-insensitive and tolerates an entity-type prefix
// ("CandidateCreated", "job_order.delete"). Unrecognized strings default
// to update, which is the safest interpretation for an unknown mutation.
func ParseOperation(raw, entityType string) Operation {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(".", "", "_", "", "-", "", " ", "").Replace(s)

	prefix := strings.NewReplacer(".", "", "_", "", "-", "", " ", "").Replace(strings.ToLower(entityType))
	if prefix != "" {
		s = strings.TrimPrefix(s, prefix)
	}

	switch {
	case strings.Contains(s, "create"), strings.Contains(s, "insert"):
		return OperationCreate
	case strings.Contains(s, "delete"):
		return OperationDelete
	default:
		return OperationUpdate
	}
}

// Actor identifies who made the change in the upstream CRM.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ChangeEvent is a single create/update/delete notification for one entity,
// already converted from the vendor wrapper shape.
type ChangeEvent struct {
	EntityType            string         `json:"entity_type"`
	Operation             Operation      `json:"operation"`
	EntityID              string         `json:"entity_id"`
	Actor                 Actor          `json:"actor"`
	Fields                map[string]any `json:"fields"`
	SourceSystemTimestamp time.Time      `json:"source_system_timestamp"`
}

// PayloadChecksum computes the canonical checksum of a field payload.
// encoding/json marshals map keys in sorted order, so byte-identical
// re-deliveries hash identically regardless of vendor field ordering.
func PayloadChecksum(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		data = []byte{}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DedupeKey builds the dedupe marker key for an event. Presence of the key
// in the cache means the event is already enqueued.
func DedupeKey(entityType string, op Operation, entityID, checksum string) string {
	return "dedupe:" + entityType + ":" + string(op) + ":" + entityID + ":" + checksum
}
