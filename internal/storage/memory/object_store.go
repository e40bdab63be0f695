// Package memory stores objects and processing records in-memory for
// development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// FaultFunc lets tests inject failures. It receives the operation ("put",
// "get", "exists") and key; a non-nil return aborts the call.
type FaultFunc func(op, key string) error

// ObjectStore keeps objects in a map.
type ObjectStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	types map[string]string
	puts  map[string]int
	fault FaultFunc
}

// NewObjectStore creates an empty in-memory store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		data:  make(map[string][]byte),
		types: make(map[string]string),
		puts:  make(map[string]int),
	}
}

// SetFault installs (or with nil clears) a fault injector.
func (s *ObjectStore) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Put persists a copy of the content once the reader is fully drained.
func (s *ObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if err := s.check("put", key); err != nil {
		return err
	}
	byteData, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data from reader: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = byteData
	s.types[key] = contentType
	s.puts[key]++
	return nil
}

// Get returns a reader over a snapshot of the object.
func (s *ObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := s.check("get", key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", key, docket.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether key is stored.
func (s *ObjectStore) Exists(_ context.Context, key string) (bool, error) {
	if err := s.check("exists", key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// Bytes returns a copy of the stored object.
func (s *ObjectStore) Bytes(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// ContentType returns the content type recorded for key.
func (s *ObjectStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[key]
}

// PutCount reports how many successful writes key has received.
func (s *ObjectStore) PutCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts[key]
}

// Keys lists stored keys with the given prefix in sorted order.
func (s *ObjectStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *ObjectStore) check(op, key string) error {
	s.mu.RLock()
	fault := s.fault
	s.mu.RUnlock()
	if fault == nil {
		return nil
	}
	return fault(op, key)
}
