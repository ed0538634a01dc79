package receiver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
	"github.com/talentbridge-systems/crmsync/internal/dedupe"
	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/repository"
	"github.com/talentbridge-systems/crmsync/internal/schema"
)

const testSecret = "test-secret"

const testSchemaDoc = `
entities:
  candidate:
    fields:
      phone:
        data_type: phone
  job_order:
    fields:
      title:
        data_type: string
`

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	fail     bool
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("queue unavailable")
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

type failingLogStore struct {
	repository.LogStore
}

func (f *failingLogStore) InsertLogEntry(context.Context, *model.LogEntry) error {
	return errors.New("store unavailable")
}

func testService(t *testing.T, logs repository.LogStore, publisher Publisher) *Service {
	t.Helper()

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchemaDoc), 0o644))
	registry, err := schema.Load(path, nil)
	require.NoError(t, err)

	markers := dedupe.NewMemoryStore()
	t.Cleanup(markers.Close)

	return NewService(
		Config{Secret: testSecret},
		registry, markers, logs, publisher,
		breaker.NewRegistry(), breaker.Config{Threshold: 3, Cooldown: time.Minute},
		nil,
	)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func candidateBody(id string, ts int64) []byte {
	return []byte(fmt.Sprintf(
		`{"data":[{"id":%q,"phone":"555-010-1234"}],"operation":"CandidateUpdated","user":{"id":"u1","name":"Op","email":"op@example.com"},"timestamp":%d}`,
		id, ts,
	))
}

func pendingEntries(t *testing.T, repo *repository.InMemoryRepository) []model.LogEntry {
	t.Helper()
	entries, err := repo.ListPendingBefore(context.Background(), time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	return entries
}

func TestReceive_RejectsBadSignature(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	publisher := &fakePublisher{}
	svc := testService(t, repo, publisher)

	body := candidateBody("42", time.Now().UnixMilli())

	_, err := svc.Receive(context.Background(), "deadbeef", body)
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = svc.Receive(context.Background(), "", body)
	assert.ErrorIs(t, err, ErrBadSignature)

	// Nothing persisted, nothing published.
	assert.Empty(t, pendingEntries(t, repo))
	assert.Zero(t, publisher.count())
}

func TestReceive_AcceptsAndPublishes(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	publisher := &fakePublisher{}
	svc := testService(t, repo, publisher)

	ts := time.Now().UnixMilli()
	body := candidateBody("42", ts)

	summary, err := svc.Receive(context.Background(), sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, 0, summary.Duplicates)

	entries := pendingEntries(t, repo)
	require.Len(t, entries, 1)
	assert.Equal(t, "candidate", entries[0].EntityType)
	assert.Equal(t, model.OperationUpdate, entries[0].Operation)
	assert.Equal(t, "42", entries[0].EntityID)
	assert.NotEmpty(t, entries[0].PayloadChecksum)
	// The vendor timestamp is durable so requeued entries keep it.
	assert.True(t, entries[0].SourceSystemTimestamp.Equal(time.UnixMilli(ts).UTC()))

	require.Equal(t, 1, publisher.count())
	assert.Equal(t, "crm.events.candidate", publisher.subjects[0])
}

func TestReceive_SuppressesDuplicate(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	publisher := &fakePublisher{}
	svc := testService(t, repo, publisher)

	body := candidateBody("42", time.Now().UnixMilli())

	summary, err := svc.Receive(context.Background(), sign(body), body)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Accepted)

	// Identical redelivery within the marker TTL.
	summary, err = svc.Receive(context.Background(), sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Accepted)
	assert.Equal(t, 1, summary.Duplicates)

	// Exactly one log entry and one queue message.
	assert.Len(t, pendingEntries(t, repo), 1)
	assert.Equal(t, 1, publisher.count())
}

func TestReceive_DifferentPayloadIsNotDuplicate(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	publisher := &fakePublisher{}
	svc := testService(t, repo, publisher)

	first := []byte(`{"data":[{"id":"42","phone":"555-010-1234"}],"operation":"CandidateUpdated","timestamp":1}`)
	second := []byte(`{"data":[{"id":"42","phone":"555-010-9999"}],"operation":"CandidateUpdated","timestamp":2}`)

	_, err := svc.Receive(context.Background(), sign(first), first)
	require.NoError(t, err)
	summary, err := svc.Receive(context.Background(), sign(second), second)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Accepted)
	assert.Len(t, pendingEntries(t, repo), 2)
}

func TestReceive_RejectsInvalidEnvelope(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	svc := testService(t, repo, &fakePublisher{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"empty data", `{"data":[],"operation":"CandidateUpdated","timestamp":1}`},
		{"missing operation", `{"data":[{"id":"1"}],"timestamp":1}`},
		{"unknown entity", `{"data":[{"id":"1"}],"operation":"PlacementUpdated","timestamp":1}`},
		{"data element without id", `{"data":[{"phone":"555"}],"operation":"CandidateUpdated","timestamp":1}`},
		{"missing timestamp", `{"data":[{"id":"1"}],"operation":"CandidateUpdated"}`},
		{"negative timestamp", `{"data":[{"id":"1"}],"operation":"CandidateUpdated","timestamp":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(tt.body)
			_, err := svc.Receive(context.Background(), sign(body), body)
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}

	assert.Empty(t, pendingEntries(t, repo))
}

func TestReceive_BatchSplitsPerEntity(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	publisher := &fakePublisher{}
	svc := testService(t, repo, publisher)

	body := []byte(`{"data":[{"id":"1"},{"id":"2"},{"id":"3"}],"operation":"JobOrderCreated","timestamp":1700000000000}`)

	summary, err := svc.Receive(context.Background(), sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Accepted)
	assert.Len(t, pendingEntries(t, repo), 3)
	assert.Equal(t, 3, publisher.count())
}

func TestReceive_StoreFailurePreventsPublish(t *testing.T) {
	publisher := &fakePublisher{}
	svc := testService(t, &failingLogStore{}, publisher)

	body := candidateBody("42", time.Now().UnixMilli())

	_, err := svc.Receive(context.Background(), sign(body), body)
	require.Error(t, err)
	assert.Zero(t, publisher.count())
}

func TestReceive_PublishFailureStillAccepts(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	publisher := &fakePublisher{fail: true}
	svc := testService(t, repo, publisher)

	body := candidateBody("42", time.Now().UnixMilli())

	summary, err := svc.Receive(context.Background(), sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)

	// The durable pending entry is what the sweep recovers from.
	assert.Len(t, pendingEntries(t, repo), 1)
}

func TestVerifySignature_ConstantShape(t *testing.T) {
	svc := testService(t, repository.NewInMemoryRepository(nil), &fakePublisher{})
	body := []byte("payload")

	assert.True(t, svc.VerifySignature(sign(body), body))
	assert.False(t, svc.VerifySignature(sign([]byte("other")), body))
	assert.False(t, svc.VerifySignature("not-hex", body))
}
