// Package storage_test contains unit tests for the storage client.
package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/storage"
)

var errTransport = errors.New("connection reset")

func newClient(store storage.ObjectStore) *storage.Client {
	return storage.NewClient(store, storage.WithReadBackoff(0))
}

func TestClientGetRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	store := new(storage.MockObjectStore)
	store.On("Get", mock.Anything, "k").Return(nil, errTransport).Twice()
	store.On("Get", mock.Anything, "k").Return(io.NopCloser(strings.NewReader(`{"a":1}`)), nil).Once()

	var out map[string]int
	err := newClient(store).GetJSON(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.Equal(t, 1, out["a"])
	store.AssertNumberOfCalls(t, "Get", 3)
}

func TestClientGetGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	store := new(storage.MockObjectStore)
	store.On("Get", mock.Anything, "k").Return(nil, errTransport)

	_, err := newClient(store).GetBytes(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, docket.ErrStorage)
	assert.ErrorIs(t, err, errTransport)
	store.AssertNumberOfCalls(t, "Get", 3)
}

func TestClientGetNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	store := new(storage.MockObjectStore)
	store.On("Get", mock.Anything, "missing").Return(nil, docket.ErrNotFound)

	_, err := newClient(store).Get(context.Background(), "missing")
	require.ErrorIs(t, err, docket.ErrNotFound)
	assert.NotErrorIs(t, err, docket.ErrStorage)
	store.AssertNumberOfCalls(t, "Get", 1)
}

func TestClientPutIsNotRetried(t *testing.T) {
	t.Parallel()

	store := new(storage.MockObjectStore)
	store.On("Put", mock.Anything, "k", mock.Anything, int64(3), "text/plain").Return(errTransport)

	err := newClient(store).Put(context.Background(), "k", bytes.NewReader([]byte("abc")), 3, "text/plain")
	require.ErrorIs(t, err, docket.ErrStorage)
	store.AssertNumberOfCalls(t, "Put", 1)
}

func TestClientPutJSON(t *testing.T) {
	t.Parallel()

	store := new(storage.MockObjectStore)
	store.On("Put", mock.Anything, "doc.json", mock.MatchedBy(func(r io.Reader) bool {
		data, err := io.ReadAll(r)
		return err == nil && string(data) == `{"govid":"X"}`
	}), int64(13), storage.ContentTypeJSON).Return(nil)

	err := newClient(store).PutJSON(context.Background(), "doc.json", map[string]string{"govid": "X"})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestClientExistsRetries(t *testing.T) {
	t.Parallel()

	store := new(storage.MockObjectStore)
	store.On("Exists", mock.Anything, "k").Return(false, errTransport).Once()
	store.On("Exists", mock.Anything, "k").Return(true, nil).Once()

	ok, err := newClient(store).Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := new(storage.MockObjectStore)
	store.On("Exists", mock.Anything, "k").Return(false, context.Canceled)

	_, err := newClient(store).Exists(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
	store.AssertNumberOfCalls(t, "Exists", 1)
}
