package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/config"
	"github.com/JakeFAU/docket-pipeline/internal/dispatcher"
	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/intake"
	"github.com/JakeFAU/docket-pipeline/internal/storage"
	"github.com/JakeFAU/docket-pipeline/internal/storage/memory"
	"github.com/JakeFAU/docket-pipeline/internal/transform"
)

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Enqueue(ctx context.Context, ref docket.CaseRef) (bool, error) {
	args := m.Called(ctx, ref)
	return args.Bool(0), args.Error(1)
}

func (m *mockScheduler) Status(ref docket.CaseRef) (docket.ProcessingRecord, bool) {
	args := m.Called(ref)
	return args.Get(0).(docket.ProcessingRecord), args.Bool(1)
}

type fakeIDGen struct{ id string }

func (f fakeIDGen) NewID() (string, error) { return f.id, nil }

const payload = `{"case_govid":"PUC-2024-001","case_name":"Rate Case","filings":[]}`

func newTestServer(t *testing.T, sched *mockScheduler, cfg config.Config) (*Server, *memory.ObjectStore) {
	t.Helper()
	objects := memory.NewObjectStore()
	registry := transform.NewRegistry()
	transform.RegisterDefaults(registry, transform.NewGeneric(nil, nil, nil))
	stager := intake.NewStager(storage.NewClient(objects, storage.WithReadBackoff(0)), registry, nil)
	return NewServer(stager, sched, fakeIDGen{id: "req-1"}, cfg, zap.NewNop()), objects
}

func do(s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitCase_StagesAndEnqueues(t *testing.T) {
	t.Parallel()

	sched := &mockScheduler{}
	want := docket.CaseRef{Key: docket.NewUSAKey("ca", "puc"), GovID: "PUC-2024-001", Force: true}
	sched.On("Enqueue", mock.Anything, want).Return(true, nil).Once()
	server, objects := newTestServer(t, sched, config.Config{})

	rec := do(server, http.MethodPost, "/v1/cases/usa/ca/puc?force=true", payload, nil)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Admitted)
	assert.Equal(t, "objects_raw/usa/ca/puc/PUC-2024-001.json", resp.RawKey)
	_, ok := objects.Bytes(resp.RawKey)
	assert.True(t, ok)
	sched.AssertExpectations(t)
}

func TestServer_SubmitCase_Coalesced(t *testing.T) {
	t.Parallel()

	sched := &mockScheduler{}
	sched.On("Enqueue", mock.Anything, mock.Anything).Return(false, nil)
	server, _ := newTestServer(t, sched, config.Config{})

	rec := do(server, http.MethodPost, "/v1/cases/usa/ca/puc?mode=merge", payload, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"admitted":false`)
}

func TestServer_SubmitCase_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		body   string
		status int
		want   string
	}{
		{"schema violation", "/v1/cases/usa/ca/puc", `{"case_name":"no id"}`, http.StatusBadRequest, `"field":"case_govid"`},
		{"malformed json", "/v1/cases/usa/ca/puc", `{`, http.StatusBadRequest, docket.ReasonSchemaViolation},
		{"unsupported jurisdiction", "/v1/cases/usa/tx/puc", payload, http.StatusUnprocessableEntity, docket.ReasonUnsupportedJurisdiction},
		{"unknown mode", "/v1/cases/usa/ca/puc?mode=append", payload, http.StatusBadRequest, "unknown submission mode"},
		{"bad force", "/v1/cases/usa/ca/puc?force=maybe", payload, http.StatusBadRequest, "force"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sched := &mockScheduler{}
			server, _ := newTestServer(t, sched, config.Config{})

			rec := do(server, http.MethodPost, tt.target, tt.body, nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			sched.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
		})
	}
}

func TestServer_SubmitCase_QueueFull(t *testing.T) {
	t.Parallel()

	sched := &mockScheduler{}
	sched.On("Enqueue", mock.Anything, mock.Anything).Return(false, dispatcher.ErrQueueFull)
	server, objects := newTestServer(t, sched, config.Config{})

	rec := do(server, http.MethodPost, "/v1/cases/usa/ca/puc", payload, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	_, ok := objects.Bytes("objects_raw/usa/ca/puc/PUC-2024-001.json")
	assert.True(t, ok, "payload stays staged for resubmission")
}

func TestServer_SubmitCase_StorageFailure(t *testing.T) {
	t.Parallel()

	sched := &mockScheduler{}
	server, objects := newTestServer(t, sched, config.Config{})
	objects.SetFault(func(op, _ string) error {
		if op == "put" {
			return errors.New("bucket unavailable")
		}
		return nil
	})

	rec := do(server, http.MethodPost, "/v1/cases/usa/ca/puc", payload, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), docket.ReasonStorageError)
}

func TestServer_CaseStatus(t *testing.T) {
	t.Parallel()

	ref := docket.CaseRef{Key: docket.NewUSAKey("ca", "puc"), GovID: "PUC-2024-001"}
	sched := &mockScheduler{}
	sched.On("Status", ref).Return(docket.ProcessingRecord{Case: ref, State: docket.RecordRunning}, true)
	sched.On("Status", mock.Anything).Return(docket.ProcessingRecord{}, false)
	server, _ := newTestServer(t, sched, config.Config{})

	rec := do(server, http.MethodGet, "/v1/cases/usa/ca/puc/PUC-2024-001/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"running"`)

	rec = do(server, http.MethodGet, "/v1/cases/usa/ca/puc/OTHER/status", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	sched := &mockScheduler{}
	sched.On("Status", mock.Anything).Return(docket.ProcessingRecord{}, false)
	server, _ := newTestServer(t, sched, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := do(server, http.MethodGet, "/v1/cases/usa/ca/puc/X/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(server, http.MethodGet, "/v1/cases/usa/ca/puc/X/status", "", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(server, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "probes bypass auth")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &mockScheduler{}, config.Config{})
	do(server, http.MethodGet, "/healthz", "", nil)

	rec := do(server, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}

func TestRequestIDMiddlewareKeepsCallerID(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &mockScheduler{}, config.Config{})
	rec := do(server, http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
