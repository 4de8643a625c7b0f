package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *Fetcher {
	cfg := DefaultConfig()
	cfg.MinRequestGap = 0
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 10 * time.Millisecond
	return New(cfg)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"price": 171.41}`))
	}))
	defer srv.Close()

	f := newTestFetcher()
	var out struct {
		Price float64 `json:"price"`
	}
	require.NoError(t, f.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, 171.41, out.Price)
}

func TestGetJSONRetriesRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	f := newTestFetcher()
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, f.GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetJSONPermanentNoRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher()
	var out map[string]any
	err := f.GetJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int64(1), calls.Load(), "4xx must not be retried")
}

func TestGetJSONTransientExhaustsAttempts(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher()
	var out map[string]any
	err := f.GetJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int64(3), calls.Load())
}

func TestGetJSONMalformedBodyPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{truncated`))
	}))
	defer srv.Close()

	f := newTestFetcher()
	var out map[string]any
	err := f.GetJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestPerHostSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MinRequestGap = 50 * time.Millisecond
	f := New(cfg)

	var out map[string]any
	start := time.Now()
	require.NoError(t, f.GetJSON(context.Background(), srv.URL, &out))
	require.NoError(t, f.GetJSON(context.Background(), srv.URL, &out))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond,
		"second request to the same host must wait out the gap")
}

func TestGetJSONContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newTestFetcher()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out map[string]any
	err := f.GetJSON(ctx, srv.URL, &out)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestErrorKinds(t *testing.T) {
	terr := Transient(assert.AnError)
	perr := Permanent(assert.AnError)

	assert.True(t, IsTransient(terr))
	assert.False(t, IsPermanent(terr))
	assert.True(t, IsPermanent(perr))
	assert.False(t, IsTransient(perr))
}
