package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

func newTestFetcher(cfg Config) *Fetcher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	return New(cfg, nil, NewExponentialRetryPolicy(cfg.MaxAttempts, time.Millisecond, time.Millisecond), nil)
}

func readAll(dst *string) ConsumeFunc {
	return func(_ context.Context, body Body) error {
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		*dst = string(data)
		return nil
	}
}

func TestFetchStreamsBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docket-pipeline/test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "pdf-bytes")
	}))
	defer server.Close()

	var got string
	var contentType string
	err := newTestFetcher(Config{UserAgent: "docket-pipeline/test"}).Fetch(context.Background(), server.URL, func(ctx context.Context, body Body) error {
		contentType = body.ContentType
		return readAll(&got)(ctx, body)
	})
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", got)
	assert.Equal(t, "application/pdf", contentType)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var got string
	err := newTestFetcher(Config{}).Fetch(context.Background(), server.URL, readAll(&got))
	require.Error(t, err)
	assert.ErrorIs(t, err, docket.ErrFetch)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, docket.ReasonFetchError, docket.Reason(err))
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	var got string
	require.NoError(t, newTestFetcher(Config{}).Fetch(context.Background(), server.URL, readAll(&got)))
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer server.Close()

	var got string
	err := newTestFetcher(Config{}).Fetch(context.Background(), server.URL, readAll(&got))
	require.ErrorIs(t, err, docket.ErrFetch)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = io.WriteString(w, "second")
	}))
	defer server.Close()

	var got string
	err := newTestFetcher(Config{Timeout: 100 * time.Millisecond}).Fetch(context.Background(), server.URL, readAll(&got))
	require.NoError(t, err)
	assert.Equal(t, "second", got)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchSizeLimitDeclaredLength(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, strings.Repeat("x", 64))
	}))
	defer server.Close()

	var got string
	err := newTestFetcher(Config{MaxBytes: 16}).Fetch(context.Background(), server.URL, readAll(&got))
	require.ErrorIs(t, err, docket.ErrSizeLimitExceeded)
	assert.Equal(t, docket.ReasonSizeLimitExceeded, docket.Reason(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchSizeLimitStreamed(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		flusher, _ := w.(http.Flusher)
		for range 8 {
			_, _ = io.WriteString(w, strings.Repeat("y", 8))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	var got string
	err := newTestFetcher(Config{MaxBytes: 20}).Fetch(context.Background(), server.URL, readAll(&got))
	require.ErrorIs(t, err, docket.ErrSizeLimitExceeded)
	assert.Empty(t, got)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchExactlyAtLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("z", 16))
	}))
	defer server.Close()

	var got string
	require.NoError(t, newTestFetcher(Config{MaxBytes: 16}).Fetch(context.Background(), server.URL, readAll(&got)))
	assert.Len(t, got, 16)
}

func TestFetchConsumerErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "data")
	}))
	defer server.Close()

	diskFull := errors.New("no space left on device")
	err := newTestFetcher(Config{}).Fetch(context.Background(), server.URL, func(context.Context, Body) error {
		return diskFull
	})
	require.ErrorIs(t, err, diskFull)
	assert.NotErrorIs(t, err, docket.ErrFetch)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got string
	err := newTestFetcher(Config{}).Fetch(ctx, "http://127.0.0.1:1/never", readAll(&got))
	require.ErrorIs(t, err, docket.ErrFetch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchMalformedURL(t *testing.T) {
	t.Parallel()

	var got string
	err := newTestFetcher(Config{}).Fetch(context.Background(), "http://[::1", readAll(&got))
	require.ErrorIs(t, err, docket.ErrFetch)
}

type countingThrottle struct {
	calls atomic.Int32
	err   error
}

func (c *countingThrottle) Wait(_ context.Context, _ string) error {
	c.calls.Add(1)
	return c.err
}

func TestFetchWaitsOnThrottleEachAttempt(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	throttle := &countingThrottle{}
	f := newTestFetcher(Config{}).WithThrottle(throttle)
	var got string
	require.NoError(t, f.Fetch(context.Background(), srv.URL, readAll(&got)))
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), throttle.calls.Load())
}

func TestFetchThrottleErrorIsFetchError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("never"))
	}))
	defer srv.Close()

	f := newTestFetcher(Config{MaxAttempts: 1}).WithThrottle(&countingThrottle{err: errors.New("burst exceeded")})
	err := f.Fetch(context.Background(), srv.URL, func(context.Context, Body) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, docket.ErrFetch)
}
