// Package encryption provides the cryptographic primitives of the transfer engine:
// the AES-256-CTR stream codec, the content hasher and per-file key derivation.
package encryption

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	KeySize   = 32 // 256-bit key for AES-256
	IVSize    = 16 // 128-bit counter block for AES-CTR
	BlockSize = 16 // AES block size in bytes
	IndexSize = 32 // random per-file index used for key derivation
)

// TransferKey is the key material for one file's transfer. It is supplied by a
// key-derivation collaborator and never persisted by the transfer engine.
type TransferKey struct {
	Key []byte
	IV  []byte
}

// Validate checks key and IV sizes.
func (k TransferKey) Validate() error {
	if len(k.Key) != KeySize {
		return fmt.Errorf("key must be %d bytes, got %d", KeySize, len(k.Key))
	}
	if len(k.IV) != IVSize {
		return fmt.Errorf("IV must be %d bytes, got %d", IVSize, len(k.IV))
	}
	return nil
}

// GenerateIndex generates the random 32-byte index stored alongside a remote file.
// The index seeds DeriveFileKey and its first 16 bytes become the IV.
func GenerateIndex() ([]byte, error) {
	index := make([]byte, IndexSize)
	if _, err := rand.Read(index); err != nil {
		return nil, fmt.Errorf("failed to generate index: %w", err)
	}
	return index, nil
}

// AddIVCounter treats iv as a big-endian 128-bit integer and returns iv + blocks,
// wrapping at 2^128. The input slice is not modified.
func AddIVCounter(iv []byte, blocks uint64) []byte {
	out := make([]byte, IVSize)
	copy(out, iv)

	lo := binary.BigEndian.Uint64(out[8:])
	hi := binary.BigEndian.Uint64(out[:8])
	sum := lo + blocks
	if sum < lo {
		hi++
	}
	binary.BigEndian.PutUint64(out[8:], sum)
	binary.BigEndian.PutUint64(out[:8], hi)
	return out
}

// EncodeIndex renders a file index the way the remote API stores it (hex).
func EncodeIndex(index []byte) string {
	return hex.EncodeToString(index)
}

// DecodeIndex parses a hex file index and checks its size.
func DecodeIndex(s string) ([]byte, error) {
	index, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid file index: %w", err)
	}
	if len(index) != IndexSize {
		return nil, fmt.Errorf("file index must be %d bytes, got %d", IndexSize, len(index))
	}
	return index, nil
}
