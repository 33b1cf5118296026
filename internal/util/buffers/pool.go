package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/cryptdrive/cdrive/internal/constants"
)

// Pool provides reusable copy buffers for the cipher, hash and transport copy
// loops so that a batch of thousands of small files does not churn the heap.

var (
	copyAllocations int64
	copyGets        int64
)

var copyPool = &sync.Pool{
	New: func() interface{} {
		atomic.AddInt64(&copyAllocations, 1)
		buf := make([]byte, constants.CopyBufferSize)
		return &buf
	},
}

// GetCopyBuffer retrieves a CopyBufferSize buffer from the pool.
// Return it with PutCopyBuffer when done.
//
// Usage:
//
//	buf := buffers.GetCopyBuffer()
//	defer buffers.PutCopyBuffer(buf)
//	n, err := io.CopyBuffer(dst, src, *buf)
func GetCopyBuffer() *[]byte {
	atomic.AddInt64(&copyGets, 1)
	return copyPool.Get().(*[]byte)
}

// PutCopyBuffer returns a buffer to the pool. Buffers of the wrong size are dropped.
// The buffer is cleared first since it may have held plaintext.
func PutCopyBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.CopyBufferSize {
		clear(*buf)
		copyPool.Put(buf)
	}
}

// Stats reports pool usage.
type Stats struct {
	CopyBufferSize  int
	CopyAllocations int64
	CopyGets        int64
}

// GetStats returns current buffer pool statistics.
func GetStats() Stats {
	return Stats{
		CopyBufferSize:  constants.CopyBufferSize,
		CopyAllocations: atomic.LoadInt64(&copyAllocations),
		CopyGets:        atomic.LoadInt64(&copyGets),
	}
}
