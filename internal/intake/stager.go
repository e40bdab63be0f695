// Package intake validates submitted raw case payloads and stages them under
// their raw storage key, replacing or merging with what is already there.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/logging"
	"github.com/JakeFAU/docket-pipeline/internal/storage"
	"github.com/JakeFAU/docket-pipeline/internal/transform"
)

// Mode selects how a submission combines with an already staged payload.
type Mode string

// Submission modes.
const (
	ModeReplace Mode = "replace"
	ModeMerge   Mode = "merge"
)

// ParseMode maps "", "replace" and "merge" onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeMerge:
		return ModeMerge, nil
	default:
		return "", fmt.Errorf("unknown submission mode %q", s)
	}
}

// Submission is one raw payload delivered by the gateway or a scraper.
type Submission struct {
	Key     docket.JurisdictionKey
	Payload []byte
	Mode    Mode
	Force   bool
}

const lockStripes = 32

// Stager writes validated raw payloads to objects_raw/.
type Stager struct {
	objects  *storage.Client
	registry *transform.Registry
	logger   *zap.Logger

	locks [lockStripes]sync.Mutex
}

// NewStager wires a Stager.
func NewStager(objects *storage.Client, registry *transform.Registry, logger *zap.Logger) *Stager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stager{objects: objects, registry: registry, logger: logger.Named("intake")}
}

// Stage validates sub and writes it to the raw key of its case. The returned
// CaseRef is ready to enqueue.
func (s *Stager) Stage(ctx context.Context, sub Submission) (docket.CaseRef, error) {
	if err := sub.Key.Validate(); err != nil {
		return docket.CaseRef{}, fmt.Errorf("%w: %w", docket.ErrUnsupportedJurisdiction, err)
	}
	if !s.registry.Supports(sub.Key) {
		return docket.CaseRef{}, fmt.Errorf("%s: %w", sub.Key, docket.ErrUnsupportedJurisdiction)
	}
	raw, err := transform.Decode(sub.Payload)
	if err != nil {
		return docket.CaseRef{}, err
	}
	if err := transform.Validate(sub.Key, raw); err != nil {
		return docket.CaseRef{}, err
	}
	ref := docket.CaseRef{Key: sub.Key, GovID: strings.TrimSpace(raw.CaseGovID), Force: sub.Force}
	log := logging.ForCase(s.logger, ref).With(zap.String("mode", string(sub.Mode)))

	mu := s.lockFor(ref.ID())
	mu.Lock()
	defer mu.Unlock()

	var data []byte
	switch sub.Mode {
	case ModeMerge:
		data, err = s.merged(ctx, ref, raw)
	case "", ModeReplace:
		data, err = compact(sub.Payload)
	default:
		err = fmt.Errorf("unknown submission mode %q", sub.Mode)
	}
	if err != nil {
		return docket.CaseRef{}, err
	}
	if err := s.objects.PutBytes(ctx, ref.RawKey(), data, storage.ContentTypeJSON); err != nil {
		log.Error("staging raw payload failed", zap.Error(err))
		return docket.CaseRef{}, err
	}
	log.Info("raw payload staged", zap.Int("bytes", len(data)))
	return ref, nil
}

func (s *Stager) merged(ctx context.Context, ref docket.CaseRef, update docket.RawDocket) ([]byte, error) {
	existingBytes, err := s.objects.GetBytes(ctx, ref.RawKey())
	switch {
	case errors.Is(err, docket.ErrNotFound):
		return json.Marshal(update)
	case err != nil:
		return nil, err
	}
	existing, err := transform.Decode(existingBytes)
	if err != nil {
		s.logger.Warn("staged payload unreadable, replacing", zap.String("case", ref.ID()), zap.Error(err))
		return json.Marshal(update)
	}
	return json.Marshal(Merge(existing, update))
}

// compact strips insignificant whitespace so formatting-only resubmissions
// stage identical bytes.
func compact(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, docket.NewSchemaViolation("payload", err.Error())
	}
	return buf.Bytes(), nil
}

func (s *Stager) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}
