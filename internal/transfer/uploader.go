package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/cryptdrive/cdrive/internal/cloud"
	cloudtransfer "github.com/cryptdrive/cdrive/internal/cloud/transfer"
	"github.com/cryptdrive/cdrive/internal/cloud/upload"
	"github.com/cryptdrive/cdrive/internal/constants"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/localfs"
)

// FileUpload is one plaintext stream to encrypt and upload.
type FileUpload struct {
	BucketID string
	Key      encryption.TransferKey
	Index    []byte
	Size     int64
	Source   io.Reader
	Progress cloud.ProgressCallback
}

// FileUploader uploads a single file to the network and returns its object id.
type FileUploader interface {
	Upload(ctx context.Context, f FileUpload) (*cloud.UploadResult, error)
}

// EngineUploader picks the single-request or multipart path by size.
type EngineUploader struct {
	simple          *upload.SimpleUploader
	multipart       *upload.MultipartUploader
	threshold       int64
	chunkSize       int64
	partConcurrency int
}

// NewEngineUploader creates an uploader that switches to multipart at threshold bytes.
// threshold <= 0 uses constants.MultipartThreshold.
func NewEngineUploader(simple *upload.SimpleUploader, multipart *upload.MultipartUploader, threshold int64, partConcurrency int) *EngineUploader {
	if threshold <= 0 {
		threshold = constants.MultipartThreshold
	}
	return &EngineUploader{
		simple:          simple,
		multipart:       multipart,
		threshold:       threshold,
		chunkSize:       constants.ChunkSize,
		partConcurrency: partConcurrency,
	}
}

// Upload implements FileUploader.
func (e *EngineUploader) Upload(ctx context.Context, f FileUpload) (*cloud.UploadResult, error) {
	if f.Size < e.threshold {
		return e.simple.Upload(ctx, upload.SimpleUploadParams{
			BucketID: f.BucketID,
			Key:      f.Key,
			Index:    f.Index,
			Size:     f.Size,
			Source:   f.Source,
			Progress: f.Progress,
		})
	}

	return e.multipart.Upload(ctx, upload.MultipartUploadParams{
		BucketID:    f.BucketID,
		Key:         f.Key,
		Index:       f.Index,
		Size:        f.Size,
		Source:      f.Source,
		PartCount:   cloudtransfer.CalculatePartCount(f.Size, e.chunkSize, constants.MaxPartCount),
		Concurrency: e.partConcurrency,
		Progress:    f.Progress,
	})
}

// KeyFunc returns the transfer key of a file and the index it was derived from.
type KeyFunc func(node localfs.FileSystemNode) (encryption.TransferKey, []byte, error)

// MnemonicKeys returns a KeyFunc that draws a fresh random index per file and
// derives its key from the mnemonic and bucket.
func MnemonicKeys(deriver cloud.KeyDeriver, mnemonic, bucketID string) KeyFunc {
	return func(node localfs.FileSystemNode) (encryption.TransferKey, []byte, error) {
		index, err := encryption.GenerateIndex()
		if err != nil {
			return encryption.TransferKey{}, nil, err
		}
		key, err := deriver.DeriveFileKey(mnemonic, bucketID, index)
		if err != nil {
			return encryption.TransferKey{}, nil, fmt.Errorf("failed to derive key for %s: %w", node.RelativePath, err)
		}
		return key, index, nil
	}
}
