// Package transfer holds the stream plumbing shared by the upload orchestrators.
// This file implements the part chunker used by multipart uploads.
//
// The chunker runs over the already-encrypted stream so that the cipher's
// counter advances continuously across part boundaries.
package transfer

import (
	"errors"
	"fmt"
	"io"

	"github.com/cryptdrive/cdrive/internal/cloud/storage"
)

// Chunk is one ordered slice of the upstream stream. Index is 0-based.
type Chunk struct {
	Index int
	Data  []byte
}

// PartChunker splits a stream of known length into a fixed number of ordered parts.
// Only the part being returned is buffered. Not safe for concurrent use.
type PartChunker struct {
	src   io.Reader
	sizes []int64
	next  int
	read  int64
}

// NewPartChunker creates a chunker over src.
//
// Parameters:
//   - src: sequential stream, never seeked
//   - totalSize: exact number of bytes src will yield
//   - partCount: number of parts to produce (>= 1)
func NewPartChunker(src io.Reader, totalSize int64, partCount int) (*PartChunker, error) {
	sizes, err := PartSizes(totalSize, partCount)
	if err != nil {
		return nil, err
	}
	return &PartChunker{src: src, sizes: sizes}, nil
}

// PartCount returns the number of parts the chunker will produce.
func (c *PartChunker) PartCount() int {
	return len(c.sizes)
}

// Next returns the next part, or io.EOF once all parts were returned.
// A stream shorter or longer than totalSize yields an *storage.IntegrityError.
func (c *PartChunker) Next() (*Chunk, error) {
	if c.next >= len(c.sizes) {
		// The stream must be exhausted exactly at totalSize
		var probe [1]byte
		n, err := io.ReadFull(c.src, probe[:])
		if n > 0 {
			return nil, &storage.IntegrityError{
				What:     "upload stream",
				Expected: fmt.Sprintf("%d bytes", c.read),
				Actual:   "more data",
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read upload stream: %w", err)
		}
		return nil, io.EOF
	}

	index := c.next
	size := c.sizes[index]
	buf := make([]byte, size)

	n, err := io.ReadFull(c.src, buf)
	c.read += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, storage.NewSizeMismatch(fmt.Sprintf("part %d", index+1), size, int64(n))
		}
		return nil, fmt.Errorf("failed to read part %d: %w", index+1, err)
	}

	c.next++
	return &Chunk{Index: index, Data: buf}, nil
}

// PartSizes returns the size of each part: totalSize/partCount for every part,
// the last one also taking the remainder. Sizes always sum to totalSize.
func PartSizes(totalSize int64, partCount int) ([]int64, error) {
	if partCount < 1 {
		return nil, fmt.Errorf("part count must be at least 1, got %d", partCount)
	}
	if totalSize < 0 {
		return nil, fmt.Errorf("total size must be non-negative, got %d", totalSize)
	}
	if totalSize < int64(partCount) && !(totalSize == 0 && partCount == 1) {
		return nil, fmt.Errorf("cannot split %d bytes into %d parts", totalSize, partCount)
	}

	partSize := totalSize / int64(partCount)
	sizes := make([]int64, partCount)
	for i := range sizes {
		sizes[i] = partSize
	}
	sizes[partCount-1] += totalSize - partSize*int64(partCount)
	return sizes, nil
}

// CalculatePartCount returns ceil(fileSize/partSize), capped at maxParts.
// Empty files still have one part.
func CalculatePartCount(fileSize, partSize int64, maxParts int) int {
	if fileSize <= 0 || partSize <= 0 {
		return 1
	}
	count := (fileSize + partSize - 1) / partSize
	if maxParts > 0 && count > int64(maxParts) {
		count = int64(maxParts)
	}
	return int(count)
}
