package s3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/constants"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
)

// uploadIDSeparator joins the object key and the S3 upload id of a multipart upload
const uploadIDSeparator = "#"

// objectMeta is the sidecar stored next to every finished object
type objectMeta struct {
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	Index     string    `json:"index"`
	ETag      string    `json:"etag,omitempty"`
	Parts     int       `json:"parts,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Network implements cloud.NetworkAPI on an S3 bucket. File ids are object keys;
// the bucketID argument only scopes key derivation and is not used for storage.
type Network struct {
	c *Client
}

// NewNetwork creates the network API of the S3 backend.
func NewNetwork(c *Client) *Network {
	return &Network{c: c}
}

var _ cloud.NetworkAPI = (*Network)(nil)

// RequestUploadURL presigns a PUT for a fresh object key. The upload id is the key.
func (n *Network) RequestUploadURL(ctx context.Context, _ string, size int64) (*cloud.UploadURL, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid upload size %d", size)
	}
	key := n.c.newObjectKey()

	req, err := n.c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(n.c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(n.c.expiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	return &cloud.UploadURL{UploadID: key, URL: req.URL}, nil
}

// RequestMultipartUploadURLs starts a multipart upload and presigns one URL per part.
func (n *Network) RequestMultipartUploadURLs(ctx context.Context, bucketID string, _ int64, partCount int) (*cloud.MultipartUploadURLs, error) {
	if partCount < 1 || partCount > constants.MaxPartCount {
		return nil, fmt.Errorf("part count must be between 1 and %d, got %d", constants.MaxPartCount, partCount)
	}
	key := n.c.newObjectKey()

	var s3UploadID string
	err := n.c.withRetry(ctx, "create multipart upload", func() error {
		out, err := n.c.objects.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(n.c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		s3UploadID = aws.ToString(out.UploadId)
		return nil
	})
	if err != nil {
		return nil, err
	}
	uploadID := key + uploadIDSeparator + s3UploadID

	urls := make([]string, partCount)
	for i := range urls {
		req, err := n.c.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(n.c.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(s3UploadID),
			PartNumber: aws.Int32(int32(i + 1)),
		}, s3.WithPresignExpires(n.c.expiry))
		if err != nil {
			_ = n.AbortMultipartUpload(context.WithoutCancel(ctx), bucketID, uploadID)
			return nil, fmt.Errorf("failed to presign part %d: %w", i+1, err)
		}
		urls[i] = req.URL
	}

	return &cloud.MultipartUploadURLs{UploadID: uploadID, URLs: urls}, nil
}

// FinishUpload checks the stored object size and writes its metadata sidecar.
func (n *Network) FinishUpload(ctx context.Context, _ string, req cloud.FinishUploadRequest) (string, error) {
	key := req.UploadID
	size, err := n.c.headSize(ctx, key)
	if err != nil {
		return "", fmt.Errorf("uploaded object is missing: %w", err)
	}
	if size != req.Size {
		return "", storage.NewSizeMismatch("uploaded object "+key, req.Size, size)
	}

	if err := n.c.putJSON(ctx, metaKey(key), objectMeta{
		Size:      req.Size,
		Hash:      req.Hash,
		Index:     encryption.EncodeIndex(req.Index),
		ETag:      req.ETag,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}
	return key, nil
}

// CompleteMultipartUpload assembles the parts in part-number order and writes the sidecar.
func (n *Network) CompleteMultipartUpload(ctx context.Context, _ string, req cloud.CompleteMultipartRequest) (string, error) {
	key, s3UploadID, err := splitUploadID(req.UploadID)
	if err != nil {
		return "", err
	}

	parts := make([]types.CompletedPart, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = types.CompletedPart{PartNumber: aws.Int32(p.PartNumber), ETag: aws.String(p.ETag)}
	}
	sort.Slice(parts, func(i, j int) bool { return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber) })

	err = n.c.withRetry(ctx, "complete multipart upload", func() error {
		_, err := n.c.objects.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(n.c.bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(s3UploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		return err
	})
	if err != nil {
		return "", err
	}

	if err := n.c.putJSON(ctx, metaKey(key), objectMeta{
		Size:      req.Size,
		Hash:      req.Hash,
		Index:     encryption.EncodeIndex(req.Index),
		Parts:     len(parts),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}
	return key, nil
}

// AbortMultipartUpload discards the uploaded parts.
func (n *Network) AbortMultipartUpload(ctx context.Context, _ string, uploadID string) error {
	key, s3UploadID, err := splitUploadID(uploadID)
	if err != nil {
		return err
	}
	return n.c.withRetry(ctx, "abort multipart upload", func() error {
		_, err := n.c.objects.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(n.c.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(s3UploadID),
		})
		return err
	})
}

// RequestDownloadLinks returns the object as a single shard. The shard hash comes
// from the sidecar; objects without one are served unverified.
func (n *Network) RequestDownloadLinks(ctx context.Context, _ string, fileID string) ([]cloud.ShardDescriptor, error) {
	size, err := n.c.headSize(ctx, fileID)
	if err != nil {
		return nil, err
	}

	var meta objectMeta
	if err := n.c.getJSON(ctx, metaKey(fileID), &meta); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		n.c.logger.Debug().Str("key", fileID).Msg("object has no metadata sidecar, hash not verified")
	}

	req, err := n.c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(n.c.bucket),
		Key:    aws.String(fileID),
	}, s3.WithPresignExpires(n.c.expiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	return []cloud.ShardDescriptor{{URL: req.URL, Index: 0, Size: size, Hash: meta.Hash}}, nil
}

func splitUploadID(uploadID string) (key, s3UploadID string, err error) {
	i := strings.LastIndex(uploadID, uploadIDSeparator)
	if i <= 0 || i == len(uploadID)-1 {
		return "", "", fmt.Errorf("malformed multipart upload id %q", uploadID)
	}
	return uploadID[:i], uploadID[i+1:], nil
}
