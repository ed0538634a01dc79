package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/repository"
)

type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	fail     bool
}

func (p *capturingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("queue unavailable")
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func insertLog(t *testing.T, repo *repository.InMemoryRepository, status model.LogStatus, sourceTS, receivedAt time.Time) string {
	t.Helper()
	entry := &model.LogEntry{
		LogID:                 uuid.New().String(),
		EntityType:            "candidate",
		Operation:             model.OperationUpdate,
		EntityID:              "E1",
		RawPayload:            []byte(`{"id":"E1"}`),
		PayloadChecksum:       "abc",
		SourceSystemTimestamp: sourceTS,
		ReceivedAt:            receivedAt,
		Status:                status,
	}
	require.NoError(t, repo.InsertLogEntry(context.Background(), entry))
	return entry.LogID
}

func TestSweep_RequeuesOrphanedPending(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	publisher := &capturingPublisher{}
	sweeper := NewSweeper(repo, publisher, SweepConfig{MinAge: 5 * time.Minute}, nil)

	sourceTS := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	old := time.Now().UTC().Add(-10 * time.Minute)
	orphanID := insertLog(t, repo, model.StatusPending, sourceTS, old)

	// Too fresh and already-processed entries stay untouched.
	insertLog(t, repo, model.StatusPending, sourceTS, time.Now().UTC())
	insertLog(t, repo, model.StatusSuccess, sourceTS, old)

	sweeper.Sweep(context.Background())

	require.Len(t, publisher.subjects, 1)
	assert.Equal(t, "crm.events.candidate", publisher.subjects[0])

	var msg model.QueueMessage
	require.NoError(t, json.Unmarshal(publisher.payloads[0], &msg))
	assert.Equal(t, orphanID, msg.LogID)
	assert.Equal(t, "E1", msg.EntityID)
	assert.Equal(t, "abc", msg.PayloadChecksum)
	// The requeued message carries the vendor timestamp, not arrival time.
	assert.True(t, msg.SourceSystemTimestamp.Equal(sourceTS))
}

func TestSweep_PublishFailureLeavesEntryPending(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	publisher := &capturingPublisher{fail: true}
	sweeper := NewSweeper(repo, publisher, SweepConfig{MinAge: 5 * time.Minute}, nil)

	old := time.Now().UTC().Add(-10 * time.Minute)
	insertLog(t, repo, model.StatusPending, old.Add(-time.Hour), old)

	sweeper.Sweep(context.Background())

	// The entry is still pending for the next pass.
	entries, err := repo.ListPendingBefore(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSweep_StaleSweptEntryStillConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t1 := time.Now().UTC().Truncate(time.Second)
	t0 := t1.Add(-2 * time.Hour)

	create := f.enqueue(t, model.OperationCreate, "E1", map[string]any{"first_name": "New"}, t1)
	require.Equal(t, OutcomeSuccess, f.processor.Process(ctx, create).Outcome)

	// A stale update whose queue publish was lost: modified at t0 on the
	// source system, received recently, orphaned pending.
	stale := &model.LogEntry{
		LogID:                 uuid.New().String(),
		EntityType:            "candidate",
		Operation:             model.OperationUpdate,
		EntityID:              "E1",
		RawPayload:            []byte(`{"id":"E1","first_name":"Old"}`),
		PayloadChecksum:       "stale",
		SourceSystemTimestamp: t0,
		ReceivedAt:            time.Now().UTC().Add(-10 * time.Minute),
		Status:                model.StatusPending,
	}
	require.NoError(t, f.repo.InsertLogEntry(ctx, stale))

	publisher := &capturingPublisher{}
	sweeper := NewSweeper(f.repo, publisher, SweepConfig{MinAge: 5 * time.Minute}, nil)
	sweeper.Sweep(ctx)

	require.Len(t, publisher.payloads, 1)
	var msg model.QueueMessage
	require.NoError(t, json.Unmarshal(publisher.payloads[0], &msg))
	require.True(t, msg.SourceSystemTimestamp.Equal(t0))

	res := f.processor.Process(ctx, &msg)
	assert.Equal(t, OutcomeConflict, res.Outcome)

	// The newer record is untouched.
	rec, err := f.repo.GetRecord(ctx, "candidate", "E1")
	require.NoError(t, err)
	assert.Equal(t, "New", rec.Payload["first_name"])
	assert.Equal(t, int64(1), rec.SyncVersion)
	assert.Equal(t, t1, rec.ModifiedAt)
}
