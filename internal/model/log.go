package model

import (
	"encoding/json"
	"time"
)

// LogStatus is the processing state of a webhook log entry.
type LogStatus string

const (
	StatusPending    LogStatus = "pending"
	StatusProcessing LogStatus = "processing"
	StatusSuccess    LogStatus = "success"
	StatusFailed     LogStatus = "failed"
	StatusConflict   LogStatus = "conflict"
)

// LogEntry is the durable record of a raw webhook delivery. Created by the
// receiver, mutated only by the worker (status transitions), never deleted.
type LogEntry struct {
	LogID           string          `json:"log_id"`
	EntityType      string          `json:"entity_type"`
	Operation       Operation       `json:"operation"`
	EntityID        string          `json:"entity_id"`
	RawPayload      json.RawMessage `json:"raw_payload"`
	PayloadChecksum string          `json:"payload_checksum"`

	// SourceSystemTimestamp is the vendor's modification time, preserved so
	// requeued entries keep last-write-wins semantics.
	SourceSystemTimestamp time.Time `json:"source_system_timestamp"`

	ReceivedAt   time.Time  `json:"received_at"`
	Status       LogStatus  `json:"processing_status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// QueueMessage is the compact reference envelope published to the queue.
// It intentionally excludes the full payload; the worker re-fetches it from
// the webhook log by LogID, so queue durability limits stay decoupled from
// entity payload size.
type QueueMessage struct {
	LogID                 string    `json:"log_id"`
	EntityType            string    `json:"entity_type"`
	EntityID              string    `json:"entity_id"`
	Operation             Operation `json:"operation"`
	SourceSystemTimestamp time.Time `json:"source_system_timestamp"`
	PayloadChecksum       string    `json:"payload_checksum"`
	RedeliveryCount       int       `json:"redelivery_count"`
}

// Subject returns the queue subject this message is published to.
func (m *QueueMessage) Subject() string {
	return "crm.events." + m.EntityType
}
