package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/cloud/transfer"
	"github.com/cryptdrive/cdrive/internal/cloud/transport"
	"github.com/cryptdrive/cdrive/internal/constants"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/logging"
)

// abortTimeout bounds the best-effort AbortMultipartUpload call
const abortTimeout = 30 * time.Second

// MultipartUploadParams describes one multipart upload.
type MultipartUploadParams struct {
	BucketID    string
	Key         encryption.TransferKey
	Index       []byte
	Size        int64
	Source      io.Reader
	PartCount   int
	Concurrency int // concurrent part PUTs, defaults to constants.DefaultPartConcurrency
	Progress    cloud.ProgressCallback
}

// MultipartUploader encrypts one continuous stream, splits the ciphertext into
// parts and PUTs them concurrently to per-part presigned URLs.
type MultipartUploader struct {
	network   cloud.NetworkAPI
	transport transport.UploadTransport
	logger    *logging.Logger
}

// NewMultipartUploader creates a MultipartUploader.
func NewMultipartUploader(network cloud.NetworkAPI, tr transport.UploadTransport, logger *logging.Logger) *MultipartUploader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MultipartUploader{network: network, transport: tr, logger: logger.Component("multipart")}
}

// firstError keeps the first failure of a multipart upload and cancels the
// remaining work exactly once.
type firstError struct {
	once   sync.Once
	err    error
	cancel context.CancelCauseFunc
}

func (f *firstError) set(err error) {
	f.once.Do(func() {
		f.err = err
		f.cancel(err)
	})
}

// partProgress aggregates bytes sent per part into one monotone fraction. A part
// never counts more than its own size, even if its transport reports more.
type partProgress struct {
	mu       sync.Mutex
	sent     map[int]int64
	total    int64
	done     int64
	last     float64
	callback cloud.ProgressCallback
}

func (pp *partProgress) add(part int, delta, partSize int64) {
	if pp.callback == nil || pp.total <= 0 {
		return
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if room := partSize - pp.sent[part]; delta > room {
		delta = room
	}
	if delta <= 0 {
		return
	}
	pp.sent[part] += delta
	pp.done += delta
	fraction := cloud.ScaleProgress(float64(pp.done) / float64(pp.total))
	if fraction > pp.last {
		pp.last = fraction
		pp.callback(fraction)
	}
}

// Upload runs the multipart upload. On any failure the remote upload is aborted once.
func (u *MultipartUploader) Upload(ctx context.Context, p MultipartUploadParams) (*cloud.UploadResult, error) {
	if err := p.Key.Validate(); err != nil {
		return nil, err
	}
	if _, err := transfer.PartSizes(p.Size, p.PartCount); err != nil {
		return nil, err
	}
	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = constants.DefaultPartConcurrency
	}

	urls, err := u.network.RequestMultipartUploadURLs(ctx, p.BucketID, p.Size, p.PartCount)
	if err != nil {
		return nil, storage.AbortedOr(ctx, "multipart upload", fmt.Errorf("failed to request part URLs: %w", err))
	}

	var abortOnce sync.Once
	abort := func() {
		abortOnce.Do(func() {
			abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
			defer cancel()
			if err := u.network.AbortMultipartUpload(abortCtx, p.BucketID, urls.UploadID); err != nil {
				u.logger.Warn().Err(err).Str("upload_id", urls.UploadID).Msg("failed to abort multipart upload")
			}
		})
	}

	if len(urls.URLs) != p.PartCount {
		abort()
		return nil, &storage.IntegrityError{
			What:     "multipart URL list",
			Expected: fmt.Sprintf("%d URLs", p.PartCount),
			Actual:   fmt.Sprintf("%d URLs", len(urls.URLs)),
		}
	}

	parts, hash, err := u.uploadParts(ctx, p, urls, concurrency)
	if err != nil {
		abort()
		return nil, storage.AbortedOr(ctx, "multipart upload", err)
	}

	fileID, err := u.network.CompleteMultipartUpload(ctx, p.BucketID, cloud.CompleteMultipartRequest{
		UploadID: urls.UploadID,
		Index:    p.Index,
		Hash:     hash,
		Size:     p.Size,
		Parts:    parts,
	})
	if err != nil {
		abort()
		return nil, storage.AbortedOr(ctx, "multipart upload", fmt.Errorf("failed to complete multipart upload: %w", err))
	}

	u.logger.Debug().Str("file_id", fileID).Int("parts", len(parts)).Str("hash", hash).Msg("multipart upload registered")
	if p.Progress != nil {
		p.Progress(1.0)
	}
	return &cloud.UploadResult{RemoteFileID: fileID, ContentHash: hash, Size: p.Size}, nil
}

// uploadParts streams the ciphertext through the chunker into a bounded worker pool.
// It returns the part manifest sorted by part number and the content hash.
func (u *MultipartUploader) uploadParts(ctx context.Context, p MultipartUploadParams, urls *cloud.MultipartUploadURLs, concurrency int) ([]cloud.PartResult, string, error) {
	workCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	failed := &firstError{cancel: cancel}

	hasher := encryption.NewContentHasher()
	enc, err := encryption.NewCTREncryptReader(&contextReader{ctx: workCtx, r: p.Source}, p.Key.Key, p.Key.IV)
	if err != nil {
		return nil, "", err
	}
	chunker, err := transfer.NewPartChunker(io.TeeReader(enc, hasher), p.Size, p.PartCount)
	if err != nil {
		return nil, "", err
	}

	progress := &partProgress{sent: make(map[int]int64), total: p.Size, callback: p.Progress}
	timer := cloud.NewPartTimer(u.logger, "multipart upload", p.PartCount)

	var (
		resultsMu sync.Mutex
		results   = make([]cloud.PartResult, 0, p.PartCount)
		wg        sync.WaitGroup
	)
	jobs := make(chan *transfer.Chunk, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				// Drain without uploading once the upload has failed
				if workCtx.Err() != nil {
					continue
				}
				start := time.Now()
				index := chunk.Index
				etag, err := u.transport.Put(workCtx, transport.PutRequest{
					URL:        urls.URLs[index],
					Body:       bytes.NewReader(chunk.Data),
					Size:       int64(len(chunk.Data)),
					OnProgress: func(delta int64) { progress.add(index, delta, int64(len(chunk.Data))) },
				})
				if err != nil {
					failed.set(fmt.Errorf("part %d/%d: %w", index+1, p.PartCount, err))
					continue
				}
				timer.RecordPart(index+1, time.Since(start), int64(len(chunk.Data)))

				resultsMu.Lock()
				results = append(results, cloud.PartResult{
					PartNumber: int32(index + 1),
					ETag:       etag,
					Size:       int64(len(chunk.Data)),
				})
				resultsMu.Unlock()
			}
		}()
	}

	// Single reader: parts are produced strictly in order
produce:
	for {
		chunk, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			failed.set(err)
			break
		}
		select {
		case jobs <- chunk:
		case <-workCtx.Done():
			break produce
		}
	}
	close(jobs)
	wg.Wait()
	timer.Summary()

	if failed.err != nil {
		return nil, "", failed.err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if len(results) != p.PartCount {
		return nil, "", &storage.IntegrityError{
			What:     "multipart manifest",
			Expected: fmt.Sprintf("%d parts", p.PartCount),
			Actual:   fmt.Sprintf("%d parts", len(results)),
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PartNumber < results[j].PartNumber })
	return results, hasher.HexSum(), nil
}
