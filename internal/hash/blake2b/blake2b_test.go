// Package blake2b includes tests for the Blake2b digest adapter.
package blake2b

import (
	"bytes"
	"strings"
	"testing"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("abc"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("abc"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestStreamIndependentOfChunking verifies chunk boundaries never change the digest.
func TestStreamIndependentOfChunking(t *testing.T) {
	t.Parallel()

	h := New()
	payload := bytes.Repeat([]byte("docket-attachment-"), 997)
	want, err := h.Hash(payload)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	for _, chunk := range []int{1, 7, 64, 128, 4096, len(payload)} {
		s := h.NewStream()
		for off := 0; off < len(payload); off += chunk {
			end := min(off+chunk, len(payload))
			if _, err := s.Write(payload[off:end]); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
		}
		if got := s.Digest(); got != want {
			t.Fatalf("chunk %d: expected %s, got %s", chunk, want, got)
		}
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if Valid("abc") {
		t.Fatal("short digest should be invalid")
	}
	if Valid(strings.Repeat("z", DigestLength)) {
		t.Fatal("non-hex digest should be invalid")
	}
	if !Valid(strings.Repeat("a", DigestLength)) {
		t.Fatal("hex digest of the right length should be valid")
	}
}
