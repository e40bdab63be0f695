// Package fetch streams attachment bodies over HTTP with per-attempt timeouts
// and bounded, jittered retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/metrics"
)

// Config controls attempt timeouts, retries and the body size cap.
type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxBytes       int64
	UserAgent      string
}

// Body is one attempt's response stream handed to the consumer.
type Body struct {
	io.Reader
	URL           string
	ContentType   string
	ContentLength int64
}

// ConsumeFunc drains a body. It runs once per attempt and must discard any
// state from an earlier attempt.
type ConsumeFunc func(ctx context.Context, body Body) error

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// readError marks failures that came from the network while the consumer was
// reading, as opposed to the consumer's own failures.
type readError struct{ err error }

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

// Throttle gates each attempt, typically per host.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher issues streaming GETs.
type Fetcher struct {
	client   *http.Client
	cfg      Config
	retry    RetryPolicy
	throttle Throttle
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// New builds a Fetcher. A nil client gets a tuned transport and no global
// timeout; each attempt is bounded by cfg.Timeout instead.
func New(cfg Config, client *http.Client, retry RetryPolicy, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport()}
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client: client,
		cfg:    cfg,
		retry:  retry,
		logger: logger.Named("fetch"),
		sleep:  sleepContext,
	}
}

// WithThrottle makes every attempt wait on t first.
func (f *Fetcher) WithThrottle(t Throttle) *Fetcher {
	f.throttle = t
	return f
}

// Fetch GETs rawURL and hands the body to consume, retrying per the policy.
// Every returned error wraps docket.ErrFetch or docket.ErrSizeLimitExceeded,
// except errors produced by consume itself, which are returned unchanged.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, consume ConsumeFunc) error {
	for attempt := 1; ; attempt++ {
		err := f.attempt(ctx, rawURL, consume)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %w", docket.ErrFetch, rawURL, ctx.Err())
		}
		if !fetchFailure(err) {
			return err
		}
		if !f.retry.ShouldRetry(err, attempt) {
			if errors.Is(err, docket.ErrSizeLimitExceeded) {
				return err
			}
			return fmt.Errorf("%w: %w", docket.ErrFetch, err)
		}
		wait := f.retry.Backoff(attempt)
		metrics.ObserveFetchRetry(rawURL)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := f.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: %s: %w", docket.ErrFetch, rawURL, err)
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, consume ConsumeFunc) error {
	if f.throttle != nil {
		if err := f.throttle.Wait(ctx, rawURL); err != nil {
			return fmt.Errorf("%w: %w", docket.ErrFetch, err)
		}
	}
	attemptCtx := ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		// A malformed URL never succeeds; surface it without retrying.
		return fmt.Errorf("%w: build request %s: %w", docket.ErrFetch, rawURL, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return &readError{err: fmt.Errorf("GET %s: %w", rawURL, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return &readError{err: &StatusError{URL: rawURL, StatusCode: resp.StatusCode}}
	}
	if f.cfg.MaxBytes > 0 && resp.ContentLength > f.cfg.MaxBytes {
		return fmt.Errorf("GET %s: declared length %d exceeds %d bytes: %w",
			rawURL, resp.ContentLength, f.cfg.MaxBytes, docket.ErrSizeLimitExceeded)
	}

	body := Body{
		Reader:        &limitedBody{r: resp.Body, remaining: f.cfg.MaxBytes, limited: f.cfg.MaxBytes > 0, url: rawURL},
		URL:           rawURL,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}
	return consume(attemptCtx, body)
}

// limitedBody tags network read errors and aborts once more than the cap has
// been read.
type limitedBody struct {
	r         io.Reader
	remaining int64
	limited   bool
	url       string
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.limited && int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.r.Read(p)
	if b.limited {
		b.remaining -= int64(n)
		if b.remaining < 0 {
			return 0, fmt.Errorf("GET %s: body exceeds size cap: %w", b.url, docket.ErrSizeLimitExceeded)
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &readError{err: fmt.Errorf("read %s: %w", b.url, err)}
	}
	return n, err
}

func fetchFailure(err error) bool {
	var re *readError
	return errors.As(err, &re) || errors.Is(err, docket.ErrSizeLimitExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
