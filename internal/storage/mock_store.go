package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockObjectStore is a testify mock of ObjectStore.
type MockObjectStore struct {
	mock.Mock
}

// Put is the mock implementation of the Put method.
func (m *MockObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, key, r, size, contentType)
	return args.Error(0) //nolint:wrapcheck
}

// Get is the mock implementation of the Get method.
func (m *MockObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1) //nolint:wrapcheck
}

// Exists is the mock implementation of the Exists method.
func (m *MockObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1) //nolint:wrapcheck
}
