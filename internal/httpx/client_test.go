package httpx_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stan1y/servo_sdk_go/internal/httpx"
)

func TestDoReturnsErrorStatusesAsResponses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"code":500,"message":"boom"}`)
	}))
	defer srv.Close()

	client := httpx.NewClient()
	resp, err := client.Do(context.Background(), &httpx.Request{Method: http.MethodGet, URL: srv.URL + "/foo"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, `{"code":500,"message":"boom"}`, string(resp.Body))
	assert.True(t, httpx.IsJSON(resp.Header.Get("Content-Type")))
	assert.Equal(t, int32(1), calls.Load(), "no retry without a policy")
}

func TestDoSendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		assert.Equal(t, "default", r.Header.Get("X-Default"))
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	client := httpx.NewClient(httpx.WithHeaders(http.Header{"X-Default": {"default"}}))
	resp, err := client.Do(context.Background(), &httpx.Request{
		Method: http.MethodPut,
		URL:    srv.URL + "/k",
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte("payload"),
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(resp.Body))
}

func TestDoRetriesWhenPolicyInstalled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	client := httpx.NewClient(httpx.WithRetryPolicy(httpx.RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}))
	resp, err := client.Do(context.Background(), &httpx.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := httpx.NewClient()
	resp, err := client.Do(context.Background(), &httpx.Request{Method: http.MethodGet, URL: url})
	require.Error(t, err)
	assert.Nil(t, resp)
}

func TestDoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := httpx.NewClient()
	_, err := client.Do(ctx, &httpx.Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoRejectsIncompleteRequests(t *testing.T) {
	client := httpx.NewClient()
	_, err := client.Do(context.Background(), nil)
	require.Error(t, err)
	_, err = client.Do(context.Background(), &httpx.Request{URL: "http://x"})
	require.Error(t, err)
	_, err = client.Do(context.Background(), &httpx.Request{Method: http.MethodGet})
	require.Error(t, err)
}

func TestBackoffBounds(t *testing.T) {
	b := httpx.NewBackoff(10*time.Millisecond, 80*time.Millisecond, 0)
	assert.Equal(t, 10*time.Millisecond, b.ForAttempt(0))
	assert.Equal(t, 20*time.Millisecond, b.ForAttempt(1))
	assert.Equal(t, 40*time.Millisecond, b.ForAttempt(2))
	assert.Equal(t, 80*time.Millisecond, b.ForAttempt(3))
	assert.Equal(t, 80*time.Millisecond, b.ForAttempt(64))

	jittered := httpx.NewBackoff(100*time.Millisecond, time.Second, 0.5)
	for i := 0; i < 50; i++ {
		d := jittered.ForAttempt(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, httpx.Retryable(http.StatusTooManyRequests))
	assert.True(t, httpx.Retryable(http.StatusBadGateway))
	assert.False(t, httpx.Retryable(http.StatusNotFound))
	assert.False(t, httpx.Retryable(http.StatusCreated))
}
