// Package encryption provides the cryptographic primitives of the transfer engine.
// This file implements the AES-256-CTR stream codec.
//
// Design:
//   - One keystream spans the whole file; encryption and decryption are the same XOR
//   - Multipart uploads encrypt first and chunk second, so the counter advances
//     continuously across part boundaries
//   - Decryption can start at any byte offset: the counter block is advanced by
//     offset/16 and offset%16 keystream bytes are discarded
//   - Shards are read strictly in ascending order as one logical ciphertext
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// CTRStreamReader XORs the AES-CTR keystream over everything read from src.
type CTRStreamReader struct {
	src    io.Reader
	stream cipher.Stream
}

// newCTRStream builds a CTR keystream positioned at startOffset.
func newCTRStream(key, iv []byte, startOffset int64) (cipher.Stream, error) {
	if err := (TransferKey{Key: key, IV: iv}).Validate(); err != nil {
		return nil, err
	}
	if startOffset < 0 {
		return nil, fmt.Errorf("start offset must be non-negative, got %d", startOffset)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	blockIndex := uint64(startOffset / BlockSize)
	skip := int(startOffset % BlockSize)

	stream := cipher.NewCTR(block, AddIVCounter(iv, blockIndex))
	if skip > 0 {
		// Burn the keystream bytes that precede the offset inside its block
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}
	return stream, nil
}

// NewCTREncryptReader returns a reader producing the ciphertext of src.
func NewCTREncryptReader(src io.Reader, key, iv []byte) (*CTRStreamReader, error) {
	stream, err := newCTRStream(key, iv, 0)
	if err != nil {
		return nil, err
	}
	return &CTRStreamReader{src: src, stream: stream}, nil
}

// NewCTRDecryptReader returns a reader producing plaintext from the ordered shard
// streams. startOffset is the absolute plaintext position of the first ciphertext
// byte in shards[0]; pass 0 for a full download.
//
// Parameters:
//   - shards: ciphertext streams in ascending shard order
//   - key: 32-byte AES-256 key
//   - iv: 16-byte initial counter block of the file
//   - startOffset: byte offset the first shard stream starts at
func NewCTRDecryptReader(shards []io.Reader, key, iv []byte, startOffset int64) (*CTRStreamReader, error) {
	stream, err := newCTRStream(key, iv, startOffset)
	if err != nil {
		return nil, err
	}
	return &CTRStreamReader{src: io.MultiReader(shards...), stream: stream}, nil
}

// Read implements io.Reader.
func (r *CTRStreamReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

// EncryptBytes encrypts an in-memory buffer from the start of the keystream.
func EncryptBytes(plaintext, key, iv []byte) ([]byte, error) {
	return XORAt(plaintext, key, iv, 0)
}

// XORAt applies the keystream positioned at offset to data and returns a new slice.
// Used for both directions since CTR is symmetric.
func XORAt(data, key, iv []byte, offset int64) ([]byte, error) {
	stream, err := newCTRStream(key, iv, offset)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}
