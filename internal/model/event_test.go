package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		entityType string
		want       Operation
	}{
		{"camel case create", "CandidateCreated", "candidate", OperationCreate},
		{"dotted delete", "job_order.delete", "job_order", OperationDelete},
		{"plain update", "ContactUpdated", "contact", OperationUpdate},
		{"insert counts as create", "CANDIDATE_INSERT", "candidate", OperationCreate},
		{"mixed separators", "Job-Order Deleted", "job_order", OperationDelete},
		{"unknown defaults to update", "CandidateTouched", "candidate", OperationUpdate},
		{"empty defaults to update", "", "candidate", OperationUpdate},
		{"no entity prefix", "created", "candidate", OperationCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOperation(tt.raw, tt.entityType))
		})
	}
}

func TestPayloadChecksum_IgnoresFieldOrder(t *testing.T) {
	a := map[string]any{"first_name": "Ada", "last_name": "Lovelace", "phone": "555-0100"}
	b := map[string]any{"phone": "555-0100", "first_name": "Ada", "last_name": "Lovelace"}

	assert.Equal(t, PayloadChecksum(a), PayloadChecksum(b))
}

func TestPayloadChecksum_DiffersOnContent(t *testing.T) {
	a := map[string]any{"first_name": "Ada"}
	b := map[string]any{"first_name": "Grace"}

	assert.NotEqual(t, PayloadChecksum(a), PayloadChecksum(b))
}

func TestDedupeKey(t *testing.T) {
	key := DedupeKey("candidate", OperationUpdate, "42", "abc123")
	assert.Equal(t, "dedupe:candidate:update:42:abc123", key)
}

func TestQueueMessageSubject(t *testing.T) {
	msg := &QueueMessage{EntityType: "job_order"}
	assert.Equal(t, "crm.events.job_order", msg.Subject())
}
