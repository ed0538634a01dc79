package receiver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
	"github.com/talentbridge-systems/crmsync/internal/dedupe"
	"github.com/talentbridge-systems/crmsync/internal/repository"
	"github.com/talentbridge-systems/crmsync/internal/schema"
)

func testRouter(t *testing.T) (http.Handler, *fakePublisher, *breaker.Registry) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchemaDoc), 0o644))
	registry, err := schema.Load(path, nil)
	require.NoError(t, err)

	markers := dedupe.NewMemoryStore()
	t.Cleanup(markers.Close)

	publisher := &fakePublisher{}
	breakers := breaker.NewRegistry()
	svc := NewService(
		Config{Secret: testSecret},
		registry, markers, repository.NewInMemoryRepository(nil), publisher,
		breakers, breaker.Config{Threshold: 3, Cooldown: time.Minute},
		nil,
	)
	return NewRouter(NewHandler(svc, breakers, nil)), publisher, breakers
}

func postWebhook(t *testing.T, router http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/crm", bytes.NewReader(body))
	req.Header.Set("X-Signature", signature)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhook_Accepted(t *testing.T) {
	router, publisher, _ := testRouter(t)
	body := candidateBody("42", time.Now().UnixMilli())

	rec := postWebhook(t, router, body, sign(body))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, 1, publisher.count())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleWebhook_DuplicateReturnsOK(t *testing.T) {
	router, _, _ := testRouter(t)
	body := candidateBody("42", time.Now().UnixMilli())

	rec := postWebhook(t, router, body, sign(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = postWebhook(t, router, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)

	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 0, summary.Accepted)
	assert.Equal(t, 1, summary.Duplicates)
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	router, publisher, _ := testRouter(t)
	body := candidateBody("42", time.Now().UnixMilli())

	rec := postWebhook(t, router, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, publisher.count())
}

func TestHandleWebhook_BadEnvelope(t *testing.T) {
	router, _, _ := testRouter(t)
	body := []byte(`{"data":[],"operation":"CandidateUpdated","timestamp":1}`)

	rec := postWebhook(t, router, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router, _, _ := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminBreakers(t *testing.T) {
	router, _, breakers := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/breakers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshots []breaker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	names := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "store")
	assert.Contains(t, names, "queue")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/breakers/store/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/breakers/unknown/reset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	b, ok := breakers.Get("store")
	require.True(t, ok)
	assert.Equal(t, breaker.StateClosed, b.State())
}
