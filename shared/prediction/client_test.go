package prediction

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/buddy-work/shared/retry"
)

func newTestClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	return NewClient(&Config{
		BaseURL: baseURL,
		Timeout: timeout,
		Retry:   retry.Fixed(3, 2*time.Second),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestClient_InvokeReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/prediction/flow-1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2+2?", body["question"])

		_, _ = io.WriteString(w, `{"text":"4","chatId":"abc"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 5*time.Second)
	text, err := c.Invoke(context.Background(), "flow-1", "2+2?")

	require.NoError(t, err)
	assert.Equal(t, "4", text)
}

func TestClient_InvokeSendsBearerKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer flow-secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	c := NewClient(&Config{BaseURL: srv.URL + "/", APIKey: "flow-secret", Timeout: 5 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	text, err := c.Invoke(context.Background(), "flow-1", "hi")

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestClient_InvokeMissingTextUsesSentinel(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no text field", body: `{"json":{"answer":4}}`},
		{name: "null text", body: `{"text":null}`},
		{name: "non-string text", body: `{"text":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, 5*time.Second)
			text, err := c.Invoke(context.Background(), "flow-1", "hi")

			require.NoError(t, err)
			assert.Equal(t, NoResultText, text)
		})
	}
}

func TestClient_InvokeHTTPErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message":"flow crashed"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 5*time.Second, WithSleeper(noSleep))
	_, err := c.Invoke(context.Background(), "flow-1", "hi")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkExecutionFailed)
	assert.NotErrorIs(t, err, ErrWorkExecutionTimeout)
	assert.Equal(t, int32(1), calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Body, "flow crashed")
}

func TestClient_InvokeRetriesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	var delays []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	c := newTestClient(baseURL, 5*time.Second, WithSleeper(sleeper))
	_, err := c.Invoke(context.Background(), "flow-1", "hi")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkExecutionFailed)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, delays)
}

func TestClient_InvokeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
			_, _ = io.WriteString(w, `{"text":"late"}`)
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 50*time.Millisecond, WithSleeper(noSleep))
	_, err := c.Invoke(context.Background(), "flow-1", "hi")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkExecutionTimeout)
	assert.NotErrorIs(t, err, ErrWorkExecutionFailed)
}

func TestClient_InvokeUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>oops</html>")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 5*time.Second)
	_, err := c.Invoke(context.Background(), "flow-1", "hi")

	assert.ErrorIs(t, err, ErrWorkExecutionFailed)
}

func TestExtractText(t *testing.T) {
	text, err := extractText([]byte(`{"text":""}`))
	require.NoError(t, err)
	assert.Equal(t, "", text)

	_, err = extractText([]byte(`[1,2]`))
	assert.Error(t, err)
}
