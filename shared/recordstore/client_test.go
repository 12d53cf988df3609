package recordstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/buddy-work/shared/retry"
)

// fakeTable is an in-memory stand-in for one table of the record store
type fakeTable struct {
	mu      sync.Mutex
	records map[string]map[string]any
	nextID  int
}

func newFakeTable() *fakeTable {
	return &fakeTable{records: make(map[string]map[string]any)}
}

func (f *fakeTable) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && len(parts) == 3:
			var body struct {
				Records []struct {
					Fields map[string]any `json:"fields"`
				} `json:"records"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.nextID++
			id := "rec" + string(rune('A'+f.nextID-1))
			f.records[id] = body.Records[0].Fields
			_ = json.NewEncoder(w).Encode(map[string]any{
				"records": []map[string]any{{"id": id, "fields": body.Records[0].Fields}},
			})

		case r.Method == http.MethodPatch && len(parts) == 4:
			rec, ok := f.records[parts[3]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"error":"NOT_FOUND"}`)
				return
			}
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			for k, v := range body.Fields {
				rec[k] = v
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": parts[3], "fields": rec})

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (f *fakeTable) snapshot(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.records[id]))
	for k, v := range f.records[id] {
		out[k] = v
	}
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestClient(baseURL string, shape string, opts ...Option) *Client {
	return NewClient(&Config{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		CreateShape:    shape,
		UpdateRetry:    retry.Exponential(3, time.Second),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

var target = Target{BaseID: "appBase", TableID: "tblJobs", APIKey: "key-123"}

func TestClient_CreateBatchShape(t *testing.T) {
	table := newFakeTable()
	srv := httptest.NewServer(table.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL, ShapeBatch)
	id, err := c.Create(context.Background(), target, Fields{"status": "running", "order": "2+2?"})

	require.NoError(t, err)
	assert.Equal(t, "recA", id)
	assert.Equal(t, "running", table.snapshot(id)["status"])
}

func TestClient_CreateSingleShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/appBase/tblJobs", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"rec42","fields":{}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, ShapeSingle)
	id, err := c.Create(context.Background(), target, Fields{"status": "running"})

	require.NoError(t, err)
	assert.Equal(t, "rec42", id)
	assert.Contains(t, got, "fields")
	assert.NotContains(t, got, "records")
}

func TestClient_CreateFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":{"type":"SERVER_ERROR","message":"boom"}}`, wantStatus: 500, wantMsg: "SERVER_ERROR: boom"},
		{name: "bad key", status: http.StatusUnauthorized, body: `{"error":"AUTHENTICATION_REQUIRED"}`, wantStatus: 401, wantMsg: "AUTHENTICATION_REQUIRED"},
		{name: "no id in response", status: http.StatusOK, body: `{"records":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, ShapeBatch)
			_, err := c.Create(context.Background(), target, Fields{"status": "running"})

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStoreUnavailable)
			assert.Equal(t, int32(1), calls.Load(), "create is never retried")

			if tt.wantStatus != 0 {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, tt.wantStatus, se.StatusCode)
				assert.Equal(t, tt.wantMsg, se.Message)
			}
		})
	}
}

func TestClient_CreateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := newTestClient(srv.URL, ShapeBatch)
	_, err := c.Create(context.Background(), target, Fields{})

	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestClient_UpdateRetriesOn503(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v0/appBase/tblJobs/recA", r.URL.Path)
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"id":"recA"}`)
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	var hooks atomic.Int32
	c := newTestClient(srv.URL, ShapeBatch, WithSleeper(sleeper.sleep), WithRetryHook(func() { hooks.Add(1) }))

	err := c.Update(context.Background(), target, "recA", Fields{"status": "finished"})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	assert.Equal(t, int32(2), hooks.Load())
}

func TestClient_UpdateDoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"INVALID_REQUEST_UNKNOWN","message":"bad field"}}`)
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	c := newTestClient(srv.URL, ShapeBatch, WithSleeper(sleeper.sleep))

	err := c.Update(context.Background(), target, "recA", Fields{"status": "finished"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUpdateFailed)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeper.delays)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestClient_UpdateExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	c := newTestClient(srv.URL, ShapeBatch, WithSleeper(sleeper.sleep))

	err := c.Update(context.Background(), target, "recA", Fields{"status": "failed"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUpdateFailed)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_UpdateRetriesTransportTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		_, _ = io.WriteString(w, `{"id":"recA"}`)
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	c := NewClient(&Config{
		BaseURL:        srv.URL,
		RequestTimeout: 50 * time.Millisecond,
		UpdateRetry:    retry.Exponential(3, time.Second),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), WithSleeper(sleeper.sleep))

	err := c.Update(context.Background(), target, "recA", Fields{"status": "finished"})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)
}

func TestClient_UpdateIsIdempotent(t *testing.T) {
	table := newFakeTable()
	srv := httptest.NewServer(table.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL, ShapeBatch)
	id, err := c.Create(context.Background(), target, Fields{"status": "running", "user_id": "u1"})
	require.NoError(t, err)

	update := Fields{"status": "finished", "result": "4", "end_date": "2026-01-01T00:00:00Z"}
	require.NoError(t, c.Update(context.Background(), target, id, update))
	first := table.snapshot(id)

	require.NoError(t, c.Update(context.Background(), target, id, update))
	second := table.snapshot(id)

	assert.Equal(t, first, second)
	assert.Equal(t, "finished", second["status"])
	assert.Equal(t, "u1", second["user_id"])
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "typed error", body: `{"error":{"type":"NOT_FOUND","message":"no such record"}}`, want: "NOT_FOUND: no such record"},
		{name: "type only", body: `{"error":{"type":"NOT_FOUND"}}`, want: "NOT_FOUND"},
		{name: "string error", body: `{"error":"NOT_FOUND"}`, want: "NOT_FOUND"},
		{name: "plain text", body: "gateway exploded\n", want: "gateway exploded"},
		{name: "empty", body: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage([]byte(tt.body)))
		})
	}

	long := strings.Repeat("x", maxErrorBody+10)
	assert.Len(t, errorMessage([]byte(long)), maxErrorBody+3)
}
