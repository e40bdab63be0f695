// Package transform converts jurisdiction-specific raw case payloads into the
// canonical docket shape. Transformers are registered per jurisdiction key at
// startup; dispatch has no storage side effects.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// Transformer converts one decoded raw docket.
type Transformer interface {
	Transform(ctx context.Context, key docket.JurisdictionKey, raw docket.RawDocket) (*docket.Docket, error)
}

// Func adapts a function to Transformer.
type Func func(ctx context.Context, key docket.JurisdictionKey, raw docket.RawDocket) (*docket.Docket, error)

// Transform implements Transformer.
func (f Func) Transform(ctx context.Context, key docket.JurisdictionKey, raw docket.RawDocket) (*docket.Docket, error) {
	return f(ctx, key, raw)
}

// Registry maps jurisdiction keys to transformers.
type Registry struct {
	mu    sync.RWMutex
	byKey map[docket.JurisdictionKey]Transformer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[docket.JurisdictionKey]Transformer)}
}

// Register associates key with t, replacing any earlier registration.
func (r *Registry) Register(key docket.JurisdictionKey, t Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key] = t
}

// Lookup returns the transformer registered for key.
func (r *Registry) Lookup(key docket.JurisdictionKey) (Transformer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byKey[key]
	return t, ok
}

// Supports reports whether key has a transformer.
func (r *Registry) Supports(key docket.JurisdictionKey) bool {
	_, ok := r.Lookup(key)
	return ok
}

// Keys lists registered jurisdictions in sorted order.
func (r *Registry) Keys() []docket.JurisdictionKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]docket.JurisdictionKey, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Transform decodes payload and dispatches to the transformer for key.
func (r *Registry) Transform(ctx context.Context, key docket.JurisdictionKey, payload []byte) (*docket.Docket, error) {
	t, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, docket.ErrUnsupportedJurisdiction)
	}
	raw, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	return t.Transform(ctx, key, raw)
}

// Decode parses a raw docket payload.
func Decode(payload []byte) (docket.RawDocket, error) {
	var raw docket.RawDocket
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return docket.RawDocket{}, docket.NewSchemaViolation("payload", err.Error())
	}
	return raw, nil
}
