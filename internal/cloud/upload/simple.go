// Package upload implements the encrypted upload orchestrators: a single-request
// upload for small files and a concurrent multipart upload for large ones.
package upload

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/cloud/transport"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/logging"
	"github.com/cryptdrive/cdrive/internal/util/buffers"
)

// SimpleUploadParams describes one single-request upload.
type SimpleUploadParams struct {
	BucketID string
	Key      encryption.TransferKey
	Index    []byte // registered with the file so the key can be re-derived
	Size     int64  // plaintext size; CTR keeps the ciphertext the same length
	Source   io.Reader
	Progress cloud.ProgressCallback
}

// SimpleUploader encrypts a whole stream, PUTs it to one presigned URL and
// registers the result with the network API.
type SimpleUploader struct {
	network   cloud.NetworkAPI
	transport transport.UploadTransport
	logger    *logging.Logger
	tempDir   string
}

// NewSimpleUploader creates a SimpleUploader. Spool files go to the OS temp dir.
func NewSimpleUploader(network cloud.NetworkAPI, tr transport.UploadTransport, logger *logging.Logger) *SimpleUploader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SimpleUploader{network: network, transport: tr, logger: logger.Component("upload")}
}

// WithTempDir sets the directory used for spool files.
func (u *SimpleUploader) WithTempDir(dir string) *SimpleUploader {
	u.tempDir = dir
	return u
}

// Upload runs the upload. Progress stays below 1.0 until FinishUpload succeeds.
func (u *SimpleUploader) Upload(ctx context.Context, p SimpleUploadParams) (*cloud.UploadResult, error) {
	result, err := u.upload(ctx, p)
	if err != nil {
		return nil, storage.AbortedOr(ctx, "upload", err)
	}
	return result, nil
}

func (u *SimpleUploader) upload(ctx context.Context, p SimpleUploadParams) (*cloud.UploadResult, error) {
	if err := p.Key.Validate(); err != nil {
		return nil, err
	}
	if p.Size < 0 {
		return nil, fmt.Errorf("invalid upload size %d", p.Size)
	}
	timer := cloud.StartTimer(u.logger, "simple upload")

	sp, err := newSpool(p.Size, u.tempDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sp.Close(); err != nil {
			u.logger.Warn().Err(err).Msg("failed to release upload spool")
		}
	}()

	// Encrypt and hash the ciphertext in one pass
	enc, err := encryption.NewCTREncryptReader(&contextReader{ctx: ctx, r: p.Source}, p.Key.Key, p.Key.IV)
	if err != nil {
		return nil, err
	}
	hasher := encryption.NewContentHasher()
	buf := buffers.GetCopyBuffer()
	n, err := io.CopyBuffer(io.MultiWriter(sp, hasher), enc, *buf)
	buffers.PutCopyBuffer(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt upload stream: %w", err)
	}
	if n != p.Size {
		return nil, storage.NewSizeMismatch("upload stream", p.Size, n)
	}
	hash := hasher.HexSum()

	target, err := u.network.RequestUploadURL(ctx, p.BucketID, p.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to request upload URL: %w", err)
	}

	body, err := sp.Reader()
	if err != nil {
		return nil, err
	}
	var sent int64
	etag, err := u.transport.Put(ctx, transport.PutRequest{
		URL:  target.URL,
		Body: body,
		Size: p.Size,
		OnProgress: func(delta int64) {
			done := atomic.AddInt64(&sent, delta)
			if p.Progress != nil && p.Size > 0 {
				p.Progress(cloud.ScaleProgress(float64(done) / float64(p.Size)))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	fileID, err := u.network.FinishUpload(ctx, p.BucketID, cloud.FinishUploadRequest{
		UploadID: target.UploadID,
		Index:    p.Index,
		Hash:     hash,
		Size:     p.Size,
		ETag:     etag,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finish upload: %w", err)
	}

	timer.StopWithThroughput(p.Size)
	u.logger.Debug().Str("file_id", fileID).Int64("size", p.Size).Str("hash", hash).Msg("upload registered")
	if p.Progress != nil {
		p.Progress(1.0)
	}
	return &cloud.UploadResult{RemoteFileID: fileID, ContentHash: hash, Size: p.Size}, nil
}
