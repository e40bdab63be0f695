// Package attachment implements the content-addressed attachment store:
// attachments are streamed once through a Blake2b hasher into a spool, then
// committed under raw/file/{digest} unless that blob already exists.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/fetch"
	"github.com/JakeFAU/docket-pipeline/internal/hash/blake2b"
	"github.com/JakeFAU/docket-pipeline/internal/metrics"
	"github.com/JakeFAU/docket-pipeline/internal/storage"
)

const defaultSpoolMemory = 8 << 20

// Fetcher streams a URL into a consumer.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, consume fetch.ConsumeFunc) error
}

// Config tunes spooling.
type Config struct {
	// SpoolMemoryBytes is how much of a download is held in memory before
	// spilling to TempDir.
	SpoolMemoryBytes int64
	TempDir          string
}

// Store acquires attachments.
type Store struct {
	objects *storage.Client
	fetcher Fetcher
	hasher  *blake2b.Hasher
	clock   docket.Clock
	cfg     Config
	logger  *zap.Logger

	// Commits for one digest are serialized so concurrent downloads of the
	// same bytes produce a single blob and a metadata record listing every URL.
	locks digestLocks
}

// NewStore wires a Store.
func NewStore(objects *storage.Client, fetcher Fetcher, clock docket.Clock, cfg Config, logger *zap.Logger) (*Store, error) {
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.SpoolMemoryBytes <= 0 {
		cfg.SpoolMemoryBytes = defaultSpoolMemory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		objects: objects,
		fetcher: fetcher,
		hasher:  blake2b.New(),
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("attachment"),
		locks:   digestLocks{held: make(map[string]*digestLock)},
	}, nil
}

// Acquire downloads src.URL, computes its digest while streaming and stores
// the blob and metadata unless the digest already exists.
//
// Errors wrap docket.ErrFetch, docket.ErrSizeLimitExceeded or
// docket.ErrStorage. An attachment resolves only once both its blob and its
// metadata record are stored; a blob left without metadata by an earlier
// failure gets its record written on the next acquisition.
func (s *Store) Acquire(ctx context.Context, src Source) (Result, error) {
	if src.URL == "" {
		return Result{}, fmt.Errorf("%w: attachment has no url", docket.ErrFetch)
	}
	logger := s.logger.With(zap.String("url", src.URL), zap.String("case", src.CaseGovID))

	if res, ok, err := s.resolveKnownHash(ctx, src); err != nil || ok {
		return res, err
	}

	sp := newSpool(s.cfg.TempDir, s.cfg.SpoolMemoryBytes)
	defer sp.Close()

	var (
		digest      string
		contentType string
	)
	err := s.fetcher.Fetch(ctx, src.URL, func(_ context.Context, body fetch.Body) error {
		sp.Reset()
		stream := s.hasher.NewStream()
		if _, err := io.Copy(sp, io.TeeReader(body, stream)); err != nil {
			return fmt.Errorf("stream %s: %w", src.URL, err)
		}
		digest = stream.Digest()
		contentType = body.ContentType
		return nil
	})
	if err != nil {
		metrics.ObserveAttachment(src.URL, string(docket.AttachmentFailed), 0)
		if !errors.Is(err, docket.ErrFetch) && !errors.Is(err, docket.ErrSizeLimitExceeded) {
			// Spool failures are local disk problems.
			err = fmt.Errorf("%w: %w", docket.ErrStorage, err)
		}
		logger.Warn("attachment fetch failed", zap.Error(err))
		return Result{}, err
	}
	size := sp.Len()
	logger = logger.With(zap.String("digest", digest), zap.Int64("bytes", size))

	unlock := s.locks.lock(digest)
	defer unlock()

	exists, err := s.objects.Exists(ctx, docket.AttachmentFileKey(digest))
	if err != nil {
		return Result{}, err
	}
	if exists {
		meta, found, err := s.recordSource(ctx, src, digest)
		if err != nil {
			metrics.ObserveAttachment(src.URL, string(docket.AttachmentFailed), size)
			logger.Error("attachment metadata read failed", zap.Error(err))
			return Result{}, err
		}
		if !found {
			// The blob outlived a failed metadata write.
			meta = newMetadata(src, digest, contentType, size, s.clock.Now())
			if err := s.objects.PutJSON(ctx, docket.AttachmentMetadataKey(digest), meta); err != nil {
				metrics.ObserveAttachment(src.URL, string(docket.AttachmentFailed), size)
				logger.Error("attachment metadata write failed", zap.Error(err))
				return Result{}, fmt.Errorf("write metadata: %w", storageErr(err))
			}
			logger.Info("attachment metadata restored for existing blob")
		}
		metrics.ObserveAttachment(src.URL, string(docket.AttachmentDeduplicated), size)
		logger.Debug("attachment dedup hit")
		return Result{Digest: digest, ByteLength: size, ContentType: contentType, Status: docket.AttachmentDeduplicated}, nil
	}

	r, err := sp.Reader()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", docket.ErrStorage, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.objects.Put(ctx, docket.AttachmentFileKey(digest), r, size, contentType); err != nil {
		metrics.ObserveAttachment(src.URL, string(docket.AttachmentFailed), size)
		logger.Error("attachment blob write failed", zap.Error(err))
		return Result{}, err
	}
	meta := newMetadata(src, digest, contentType, size, s.clock.Now())
	if err := s.objects.PutJSON(ctx, docket.AttachmentMetadataKey(digest), meta); err != nil {
		metrics.ObserveAttachment(src.URL, string(docket.AttachmentFailed), size)
		logger.Error("attachment metadata write failed; blob left unreferenced", zap.Error(err))
		return Result{}, fmt.Errorf("write metadata: %w", storageErr(err))
	}
	metrics.ObserveAttachment(src.URL, string(docket.AttachmentSucceeded), size)
	logger.Debug("attachment stored", zap.Bool("spilled", sp.Spilled()))
	return Result{Digest: digest, ByteLength: size, ContentType: contentType, Status: docket.AttachmentSucceeded}, nil
}

// resolveKnownHash short-circuits attachments whose submitted hash already
// names a stored blob with a metadata record. A blob without metadata is
// downloaded again so the record carries the real size and content type.
func (s *Store) resolveKnownHash(ctx context.Context, src Source) (Result, bool, error) {
	if !blake2b.Valid(src.Hash) {
		return Result{}, false, nil
	}
	exists, err := s.objects.Exists(ctx, docket.AttachmentFileKey(src.Hash))
	if err != nil {
		return Result{}, false, err
	}
	if !exists {
		return Result{}, false, nil
	}
	unlock := s.locks.lock(src.Hash)
	defer unlock()
	meta, found, err := s.recordSource(ctx, src, src.Hash)
	if err != nil {
		return Result{}, false, err
	}
	if !found {
		s.logger.Debug("known hash has no metadata; downloading",
			zap.String("url", src.URL), zap.String("digest", src.Hash))
		return Result{}, false, nil
	}
	metrics.ObserveAttachment(src.URL, string(docket.AttachmentDeduplicated), meta.ByteLength)
	return Result{
		Digest:      src.Hash,
		ByteLength:  meta.ByteLength,
		ContentType: meta.ContentType,
		Status:      docket.AttachmentDeduplicated,
	}, true, nil
}

// recordSource adds src.URL to the digest's existing metadata record and
// reports whether one exists. Failing to append a URL is logged and
// swallowed; failing to read the record is returned. Callers hold the digest
// lock.
func (s *Store) recordSource(ctx context.Context, src Source, digest string) (Metadata, bool, error) {
	key := docket.AttachmentMetadataKey(digest)
	var meta Metadata
	err := s.objects.GetJSON(ctx, key, &meta)
	switch {
	case errors.Is(err, docket.ErrNotFound):
		return Metadata{}, false, nil
	case err != nil:
		return Metadata{}, false, fmt.Errorf("read metadata: %w", storageErr(err))
	}
	if meta.addSource(src.URL, s.clock.Now()) {
		if err := s.objects.PutJSON(ctx, key, meta); err != nil {
			s.logger.Warn("attachment metadata update failed", zap.String("digest", digest), zap.Error(err))
		}
	}
	return meta, true, nil
}

func storageErr(err error) error {
	if errors.Is(err, docket.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", docket.ErrStorage, err)
}

// digestLocks hands out one mutex per digest, dropped once unused.
type digestLocks struct {
	mu   sync.Mutex
	held map[string]*digestLock
}

type digestLock struct {
	mu   sync.Mutex
	refs int
}

func (l *digestLocks) lock(digest string) (unlock func()) {
	l.mu.Lock()
	dl, ok := l.held[digest]
	if !ok {
		dl = &digestLock{}
		l.held[digest] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.held, digest)
		}
		l.mu.Unlock()
	}
}
