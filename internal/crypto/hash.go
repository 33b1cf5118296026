package encryption

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by the remote content-id format

	"github.com/cryptdrive/cdrive/internal/util/buffers"
)

// ContentHasher computes the content identifier of a ciphertext stream:
// RIPEMD-160 over the finalized SHA-256 digest. Write may be called any number of
// times; memory use does not grow with the stream.
type ContentHasher struct {
	inner hash.Hash
	size  int64
}

// NewContentHasher creates an empty hasher.
func NewContentHasher() *ContentHasher {
	return &ContentHasher{inner: sha256.New()}
}

// Write implements io.Writer. It never returns an error.
func (h *ContentHasher) Write(p []byte) (int, error) {
	h.size += int64(len(p))
	return h.inner.Write(p)
}

// Size returns the number of bytes hashed so far.
func (h *ContentHasher) Size() int64 {
	return h.size
}

// Sum finalizes the wide digest and returns the narrow digest over it.
// The hasher can keep accepting writes afterwards.
func (h *ContentHasher) Sum() []byte {
	wide := h.inner.Sum(nil)
	narrow := ripemd160.New()
	narrow.Write(wide)
	return narrow.Sum(nil)
}

// HexSum returns Sum as a lowercase hex string.
func (h *ContentHasher) HexSum() string {
	return hex.EncodeToString(h.Sum())
}

// HashStream hashes everything readable from r.
func HashStream(r io.Reader) (string, error) {
	h := NewContentHasher()
	buf := buffers.GetCopyBuffer()
	defer buffers.PutCopyBuffer(buf)

	if _, err := io.CopyBuffer(h, r, *buf); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return h.HexSum(), nil
}
