package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spmdbench/spmdbench/internal/storage"
)

// mockRunReader is an in-memory RunReader
type mockRunReader struct {
	runs       map[string]*storage.Run
	lastFilter storage.RunFilter
	err        error
}

func (m *mockRunReader) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	run, ok := m.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return run, nil
}

func (m *mockRunReader) ListRuns(ctx context.Context, filter storage.RunFilter) ([]*storage.Run, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	var out []*storage.Run
	for _, r := range m.runs {
		if filter.Benchmark == "" || r.Benchmark == filter.Benchmark {
			out = append(out, r)
		}
	}
	return out, nil
}

func setupTestServer(reader RunReader) *Server {
	server := New(reader, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	server.SetReady(true)
	return server
}

func doRequest(t *testing.T, server *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	server := setupTestServer(&mockRunReader{})

	w := doRequest(t, server, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "true", response.Services["ready"])
	assert.Equal(t, "ok", response.Services["storage"])
}

func TestHealthNotReady(t *testing.T) {
	server := setupTestServer(&mockRunReader{})
	server.SetReady(false)

	w := doRequest(t, server, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "unavailable", response.Status)

	w = doRequest(t, server, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(&mockRunReader{})
	doRequest(t, server, "/health")

	w := doRequest(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestListRuns_QueryValidation(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantError  string
		wantFilter storage.RunFilter
	}{
		{
			name:       "default limit",
			target:     "/api/v1/runs",
			wantStatus: http.StatusOK,
			wantFilter: storage.RunFilter{Limit: defaultListLimit},
		},
		{
			name:       "filters passed through",
			target:     "/api/v1/runs?benchmark=Matmul_float32&verification=PASS&limit=5",
			wantStatus: http.StatusOK,
			wantFilter: storage.RunFilter{Benchmark: "Matmul_float32", Verification: "PASS", Limit: 5},
		},
		{
			name:       "since parsed",
			target:     "/api/v1/runs?since=2026-01-02T03:04:05Z",
			wantStatus: http.StatusOK,
			wantFilter: storage.RunFilter{Limit: defaultListLimit, Since: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		},
		{
			name:       "bad verification",
			target:     "/api/v1/runs?verification=MAYBE",
			wantStatus: http.StatusBadRequest,
			wantError:  "verification must be one of [PASS FAIL N/A]",
		},
		{
			name:       "limit too large",
			target:     "/api/v1/runs?limit=5000",
			wantStatus: http.StatusBadRequest,
			wantError:  "limit must be at most 1000",
		},
		{
			name:       "limit not a number",
			target:     "/api/v1/runs?limit=abc",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad since",
			target:     "/api/v1/runs?since=yesterday",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid since",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &mockRunReader{}
			w := doRequest(t, setupTestServer(reader), tt.target)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus != http.StatusOK {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Contains(t, resp.Error, tt.wantError)
				assert.NotEmpty(t, resp.RequestID)
				return
			}

			assert.Equal(t, tt.wantFilter.Benchmark, reader.lastFilter.Benchmark)
			assert.Equal(t, tt.wantFilter.Verification, reader.lastFilter.Verification)
			assert.Equal(t, tt.wantFilter.Limit, reader.lastFilter.Limit)
			assert.True(t, tt.wantFilter.Since.Equal(reader.lastFilter.Since))

			var resp ListRunsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotNil(t, resp.Runs)
			assert.Equal(t, 0, resp.Count)
		})
	}
}

func TestListRuns_StoreError(t *testing.T) {
	w := doRequest(t, setupTestServer(&mockRunReader{err: errors.New("disk on fire")}), "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestGetRun(t *testing.T) {
	reader := &mockRunReader{runs: map[string]*storage.Run{
		"run-1": {ID: "run-1", Benchmark: "VectorAddition_int32", Verification: "PASS",
			Results: []storage.Result{{Key: "run-time-mean [s]", Value: "0.5"}}},
	}}
	server := setupTestServer(reader)

	w := doRequest(t, server, "/api/v1/runs/run-1")
	require.Equal(t, http.StatusOK, w.Code)

	var run storage.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "VectorAddition_int32", run.Benchmark)
	require.Len(t, run.Results, 1)
	assert.Equal(t, "0.5", run.Results[0].Value)

	w = doRequest(t, server, "/api/v1/runs/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	reader.err = errors.New("boom")
	w = doRequest(t, server, "/api/v1/runs/run-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	server := setupTestServer(&mockRunReader{})

	w := doRequest(t, server, "/health")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "custom-request-id")
	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, "custom-request-id", w.Header().Get("X-Request-ID"))

	// Invalid IDs are replaced
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "bad id with spaces")
	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.NotEqual(t, "bad id with spaces", w.Header().Get("X-Request-ID"))
}

func TestServer_WithRealStore(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	store := storage.NewRunStore(db)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "A"} {
		require.NoError(t, store.SaveRun(ctx, &storage.Run{Benchmark: name, Verification: "PASS"}))
	}

	w := doRequest(t, setupTestServer(store), "/api/v1/runs?benchmark=A")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "verification", toSnakeCase("Verification"))
	assert.Equal(t, "problem_size", toSnakeCase("ProblemSize"))
}
