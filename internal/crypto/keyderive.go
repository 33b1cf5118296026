package encryption

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// mnemonicSeedIterations and salt follow the BIP-39 seed derivation
	mnemonicSeedIterations = 2048
	mnemonicSeedSalt       = "mnemonic"
	mnemonicSeedSize       = 64
)

// MnemonicKeyDeriver derives per-file transfer keys from a user mnemonic.
// It satisfies cloud.KeyDeriver.
type MnemonicKeyDeriver struct{}

// DeriveFileKey derives the key material of a single file.
//
// Parameters:
//   - mnemonic: the user's space-separated recovery phrase
//   - bucketID: hex bucket identifier the file lives in
//   - index: 32-byte random index stored with the remote file
//
// Derivation:
//   - seed = PBKDF2-HMAC-SHA512(mnemonic, "mnemonic", 2048, 64)
//   - bucketKey = SHA-512(seed || bucketID)
//   - key = SHA-512(bucketKey[:32] || index)[:32]
//   - iv = index[:16]
func (MnemonicKeyDeriver) DeriveFileKey(mnemonic, bucketID string, index []byte) (TransferKey, error) {
	return DeriveFileKey(mnemonic, bucketID, index)
}

// DeriveFileKey is the function form of MnemonicKeyDeriver.DeriveFileKey.
func DeriveFileKey(mnemonic, bucketID string, index []byte) (TransferKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if mnemonic == "" {
		return TransferKey{}, fmt.Errorf("mnemonic is empty")
	}
	if len(index) != IndexSize {
		return TransferKey{}, fmt.Errorf("file index must be %d bytes, got %d", IndexSize, len(index))
	}
	bucket, err := hex.DecodeString(bucketID)
	if err != nil || len(bucket) == 0 {
		// Non-hex bucket identifiers are hashed as raw bytes
		bucket = []byte(bucketID)
	}

	seed := pbkdf2.Key([]byte(mnemonic), []byte(mnemonicSeedSalt), mnemonicSeedIterations, mnemonicSeedSize, sha512.New)

	bucketHash := sha512.New()
	bucketHash.Write(seed)
	bucketHash.Write(bucket)
	bucketKey := bucketHash.Sum(nil)

	fileHash := sha512.New()
	fileHash.Write(bucketKey[:KeySize])
	fileHash.Write(index)
	fileKey := fileHash.Sum(nil)

	key := make([]byte, KeySize)
	copy(key, fileKey[:KeySize])
	iv := make([]byte, IVSize)
	copy(iv, index[:IVSize])

	return TransferKey{Key: key, IV: iv}, nil
}
