// Package storage defines the object store contract consumed by the pipeline
// and a Client that layers retries, error classification and JSON helpers on
// top of any backend (memory, local filesystem, GCS, S3-compatible).
package storage

import (
	"context"
	"io"
)

// ContentTypeJSON is used for every case and metadata document.
const ContentTypeJSON = "application/json"

// ObjectStore is the minimal content-store API every backend implements.
//
// Put must be atomic per key: readers observe either the previous object or
// the complete new one. size may be -1 when the length is unknown. Get
// returns docket.ErrNotFound (possibly wrapped) for missing keys.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}
