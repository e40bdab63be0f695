// Package blake2b provides the Blake2b-256 content digest used to address
// attachment blobs.
package blake2b

import (
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// DigestLength is the length of a hex-encoded digest.
const DigestLength = blake2b.Size256 * 2

// Hasher produces hex-encoded Blake2b-256 digests. Changing the function
// invalidates every stored raw/file key.
type Hasher struct{}

// New returns a Blake2b-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewStream returns a running digest for callers that tee a byte stream.
func (h *Hasher) NewStream() *Stream {
	// New256 only fails for oversized keys; a nil key never errors.
	inner, _ := blake2b.New256(nil)
	return &Stream{h: inner}
}

// Stream accumulates a digest across arbitrarily sized writes.
type Stream struct {
	h hash.Hash
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Digest returns the hex digest of everything written so far.
func (s *Stream) Digest() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// Valid reports whether digest has the shape of a hex Blake2b-256 digest.
func Valid(digest string) bool {
	if len(digest) != DigestLength {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}
