package constants

import (
	"time"
)

// Storage operation thresholds
const (
	// MultipartThreshold - files at or above this size use the multipart upload path (100 MB)
	MultipartThreshold = 100 * 1024 * 1024

	// ChunkSize - target size of each multipart part (32 MB)
	// The remote API still decides the final boundaries: parts are totalSize/partCount,
	// the last part absorbing the remainder.
	ChunkSize = 32 * 1024 * 1024

	// MinPartSize - S3 minimum part size (5 MB, except last part)
	MinPartSize = 5 * 1024 * 1024

	// MaxPartCount - S3 maximum number of parts in one multipart upload
	MaxPartCount = 10000

	// SpoolMemoryThreshold - simple uploads up to this size are spooled in memory (16 MB)
	// Larger ciphertext is spooled to a temp file that is removed on every exit path.
	SpoolMemoryThreshold = 16 * 1024 * 1024

	// CopyBufferSize - buffer used for cipher and hash copies (64 KB)
	CopyBufferSize = 64 * 1024
)

// Transfer concurrency
const (
	// DefaultPartConcurrency - concurrent part transports per multipart upload
	DefaultPartConcurrency = 10

	// DefaultMaxConcurrentUploads - concurrent files per batch in a folder upload
	DefaultMaxConcurrentUploads = 5

	// MaxMaxConcurrentUploads - maximum concurrent files accepted from config/flags
	MaxMaxConcurrentUploads = 20

	// DefaultShardConcurrency - shards prefetched ahead of the decrypting reader
	// 1 means strictly sequential downloads.
	DefaultShardConcurrency = 1

	// MaxShardConcurrency - upper bound for shard prefetch
	MaxShardConcurrency = 8
)

// Batch retry configuration
const (
	// DefaultBatchMaxRetries - retries per file after the first attempt
	DefaultBatchMaxRetries = 2
)

// DefaultBatchRetryDelays - delay before retry N (indexed by attempt, last value repeats)
var DefaultBatchRetryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

// HTTP retry configuration (URL requests against the metadata APIs)
const (
	// MaxRetries - maximum number of retries for transient API errors
	MaxRetries = 10

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second
)

// HTTP transport timeouts
const (
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 30 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPClientTimeout - overall timeout for metadata API clients (transfer clients use 0)
	HTTPClientTimeout = 300 * time.Second

	// ProxyWarmupTimeout - timeout of the proxy warmup request
	ProxyWarmupTimeout = 15 * time.Second

	// DefaultProxyPort - used when a proxy host is configured without a port
	DefaultProxyPort = 8080
)

// API rate limiting
const (
	// APIRatePerSec - sustained metadata API requests per second
	APIRatePerSec = 8.0

	// APIBurstCapacity - requests allowed in a burst before throttling
	APIBurstCapacity = 40
)

// Presigned URL lifetime (S3 backend)
const (
	PresignExpiry = 15 * time.Minute
)

// Disk space safety margin
const (
	// DiskSpaceSafetyMargin - multiplier applied to the required bytes before a download (10%)
	DiskSpaceSafetyMargin = 1.10
)

// UI Updates
const (
	// ProgressUpdateInterval - interval for progress bar refreshes (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond
)
