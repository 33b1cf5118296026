package encryption

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
)

func referenceHash(data []byte) string {
	wide := sha256.Sum256(data)
	narrow := ripemd160.New()
	narrow.Write(wide[:])
	return hex.EncodeToString(narrow.Sum(nil))
}

func TestContentHasherMatchesReference(t *testing.T) {
	data := testPlaintext(12345)

	h := NewContentHasher()
	h.Write(data)

	if got, want := h.HexSum(), referenceHash(data); got != want {
		t.Errorf("HexSum() = %s, want %s", got, want)
	}
	if h.Size() != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", h.Size(), len(data))
	}
	if len(h.Sum()) != 20 {
		t.Errorf("Sum() length = %d, want 20", len(h.Sum()))
	}
}

// TestContentHasherChunkingIndependent verifies one write and many small writes agree
func TestContentHasherChunkingIndependent(t *testing.T) {
	data := testPlaintext(70_001)

	whole := NewContentHasher()
	whole.Write(data)

	chunkSizes := []int{1, 7, 16, 4096}
	for _, size := range chunkSizes {
		chunked := NewContentHasher()
		for i := 0; i < len(data); i += size {
			end := min(i+size, len(data))
			chunked.Write(data[i:end])
		}
		if chunked.HexSum() != whole.HexSum() {
			t.Errorf("chunk size %d: digest differs from single write", size)
		}
	}
}

func TestHashStreamDeterministic(t *testing.T) {
	data := testPlaintext(200_000)

	first, err := HashStream(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashStream() failed: %v", err)
	}
	second, err := HashStream(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashStream() second call failed: %v", err)
	}
	if first != second {
		t.Errorf("HashStream() not deterministic: %s vs %s", first, second)
	}
	if first != referenceHash(data) {
		t.Error("HashStream() differs from reference")
	}
}

func TestHashEmptyStream(t *testing.T) {
	got, err := HashStream(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("HashStream() failed: %v", err)
	}
	if got != referenceHash(nil) {
		t.Errorf("empty stream digest = %s, want %s", got, referenceHash(nil))
	}
}
