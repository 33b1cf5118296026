// Package cloud defines the data model of the transfer engine and the narrow
// interfaces of its external collaborators: the network API that hands out
// presigned URLs, the drive metadata API and the key deriver.
package cloud

import (
	"context"

	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/models"
)

// ProgressCallback is called during transfers to report progress (0.0 to 1.0)
type ProgressCallback func(progress float64)

// ShardDescriptor describes one remotely stored ciphertext fragment of a file.
// Shards are ordered by Index.
type ShardDescriptor struct {
	URL   string
	Index int
	Size  int64
	Hash  string
}

// PartResult is the outcome of a part PUT. PartNumber is the 0-based chunk index plus one.
type PartResult struct {
	PartNumber int32
	ETag       string
	Size       int64
}

// UploadResult contains the result of a successful upload.
type UploadResult struct {
	RemoteFileID string // network object id
	ContentHash  string // RIPEMD-160(SHA-256(ciphertext)), hex
	Size         int64
}

// UploadURL is a presigned URL for a single-request upload.
type UploadURL struct {
	UploadID string
	URL      string
}

// MultipartUploadURLs holds one presigned URL per part, in part order.
type MultipartUploadURLs struct {
	UploadID string
	URLs     []string
}

// FinishUploadRequest registers a single-request upload.
type FinishUploadRequest struct {
	UploadID string
	Index    []byte
	Hash     string
	Size     int64
	ETag     string
}

// CompleteMultipartRequest submits the sorted part manifest.
type CompleteMultipartRequest struct {
	UploadID string
	Index    []byte
	Hash     string
	Size     int64
	Parts    []PartResult
}

// NetworkAPI is the remote object-storage API. It never moves file bytes itself;
// it hands out presigned URLs and records completed uploads.
type NetworkAPI interface {
	RequestUploadURL(ctx context.Context, bucketID string, size int64) (*UploadURL, error)
	RequestMultipartUploadURLs(ctx context.Context, bucketID string, size int64, partCount int) (*MultipartUploadURLs, error)
	FinishUpload(ctx context.Context, bucketID string, req FinishUploadRequest) (string, error)
	CompleteMultipartUpload(ctx context.Context, bucketID string, req CompleteMultipartRequest) (string, error)
	AbortMultipartUpload(ctx context.Context, bucketID, uploadID string) error
	RequestDownloadLinks(ctx context.Context, bucketID, fileID string) ([]ShardDescriptor, error)
}

// DriveAPI is the remote drive metadata API. Conflicts surface as
// *storage.AlreadyExistsError so callers can inspect them with storage.IsAlreadyExists.
type DriveAPI interface {
	CreateFolder(ctx context.Context, name, parentID string) (*models.DriveFolder, error)
	FindFolder(ctx context.Context, name, parentID string) (*models.DriveFolder, error)
	CreateFile(ctx context.Context, req models.CreateFileRequest) (*models.DriveFile, error)
	GetFile(ctx context.Context, fileID string) (*models.DriveFile, error)
}

// KeyDeriver derives the per-file transfer key.
type KeyDeriver interface {
	DeriveFileKey(mnemonic, bucketID string, index []byte) (encryption.TransferKey, error)
}

// ScaleProgress maps a transfer fraction into [0, 0.99] so 1.0 is reserved for
// the moment the remote entry is durably registered.
func ScaleProgress(fraction float64) float64 {
	if fraction < 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return fraction * 0.99
}
