package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

const (
	defaultReadAttempts = 3
	defaultReadBackoff  = 100 * time.Millisecond
)

// Option customizes a Client.
type Option func(*Client)

// WithReadAttempts bounds how many times Get and Exists are attempted.
func WithReadAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithReadBackoff sets the base delay between read attempts.
func WithReadBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client wraps an ObjectStore. Reads are retried on transient failures;
// writes are attempted once and surfaced to the caller. Every failure other
// than a missing key wraps docket.ErrStorage.
type Client struct {
	store    ObjectStore
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewClient wraps store.
func NewClient(store ObjectStore, opts ...Option) *Client {
	c := &Client{
		store:    store,
		attempts: defaultReadAttempts,
		backoff:  defaultReadBackoff,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("storage")
	return c
}

// Put writes r under key.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := c.store.Put(ctx, key, r, size, contentType); err != nil {
		c.logger.Error("object put failed", zap.String("key", key), zap.Error(err))
		return classify("put", key, err)
	}
	return nil
}

// PutBytes writes data under key.
func (c *Client) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return c.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// PutJSON encodes v and writes it under key.
func (c *Client) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.PutBytes(ctx, key, data, ContentTypeJSON)
}

// Get opens the object at key.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := c.retry(ctx, "get", key, func() error {
		var err error
		rc, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// GetBytes reads the whole object at key. A failure while draining the body
// counts as a failed attempt.
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.retry(ctx, "get", key, func() error {
		rc, err := c.store.Get(ctx, key)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		data, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// GetJSON reads the object at key and decodes it into v.
func (c *Client) GetJSON(ctx context.Context, key string, v any) error {
	data, err := c.GetBytes(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := c.retry(ctx, "exists", key, func() error {
		var err error
		ok, err = c.store.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (c *Client) retry(ctx context.Context, op, key string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == c.attempts {
			break
		}
		c.logger.Debug("retrying object read",
			zap.String("op", op),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		timer := time.NewTimer(c.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return classify(op, key, ctx.Err())
		case <-timer.C:
		}
	}
	return classify(op, key, err)
}

func retryable(err error) bool {
	return !errors.Is(err, docket.ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func classify(op, key string, err error) error {
	switch {
	case errors.Is(err, docket.ErrNotFound):
		return fmt.Errorf("%s %s: %w", op, key, docket.ErrNotFound)
	case errors.Is(err, docket.ErrStorage):
		return fmt.Errorf("%s %s: %w", op, key, err)
	default:
		return fmt.Errorf("%s %s: %w: %w", op, key, docket.ErrStorage, err)
	}
}
