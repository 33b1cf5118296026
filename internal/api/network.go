package api

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"sort"

	"github.com/cryptdrive/cdrive/internal/cloud"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/models"
)

func bucketPath(bucketID string, parts ...string) string {
	p := "/buckets/" + url.PathEscape(bucketID) + "/files"
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// RequestUploadURL asks for one presigned PUT URL for size bytes.
func (c *Client) RequestUploadURL(ctx context.Context, bucketID string, size int64) (*cloud.UploadURL, error) {
	var resp models.StartUploadResponse
	err := c.doJSON(ctx, "start upload", nethttp.MethodPost, bucketPath(bucketID)+"/start",
		models.StartUploadRequest{Size: size}, &resp, "")
	if err != nil {
		return nil, err
	}
	if len(resp.URLs) != 1 {
		return nil, fmt.Errorf("start upload returned %d URLs, expected 1", len(resp.URLs))
	}
	return &cloud.UploadURL{UploadID: resp.UploadID, URL: resp.URLs[0]}, nil
}

// RequestMultipartUploadURLs asks for one presigned PUT URL per part.
// The caller checks the URL count against partCount.
func (c *Client) RequestMultipartUploadURLs(ctx context.Context, bucketID string, size int64, partCount int) (*cloud.MultipartUploadURLs, error) {
	var resp models.StartUploadResponse
	path := fmt.Sprintf("%s/start?multiparts=%d", bucketPath(bucketID), partCount)
	err := c.doJSON(ctx, "start multipart upload", nethttp.MethodPost, path,
		models.StartUploadRequest{Size: size, Multiparts: partCount}, &resp, "")
	if err != nil {
		return nil, err
	}
	return &cloud.MultipartUploadURLs{UploadID: resp.UploadID, URLs: resp.URLs}, nil
}

// FinishUpload registers a single-request upload and returns the object id.
func (c *Client) FinishUpload(ctx context.Context, bucketID string, req cloud.FinishUploadRequest) (string, error) {
	return c.finish(ctx, bucketID, models.FinishUploadRequest{
		UploadID: req.UploadID,
		Index:    encryption.EncodeIndex(req.Index),
		Hash:     req.Hash,
		Size:     req.Size,
		ETag:     req.ETag,
	})
}

// CompleteMultipartUpload submits the part manifest, sorted by part number.
func (c *Client) CompleteMultipartUpload(ctx context.Context, bucketID string, req cloud.CompleteMultipartRequest) (string, error) {
	parts := make([]models.UploadedPart, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = models.UploadedPart{PartNumber: p.PartNumber, ETag: p.ETag}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	return c.finish(ctx, bucketID, models.FinishUploadRequest{
		UploadID: req.UploadID,
		Index:    encryption.EncodeIndex(req.Index),
		Hash:     req.Hash,
		Size:     req.Size,
		Parts:    parts,
	})
}

func (c *Client) finish(ctx context.Context, bucketID string, req models.FinishUploadRequest) (string, error) {
	var resp models.FinishUploadResponse
	if err := c.doJSON(ctx, "finish upload", nethttp.MethodPost, bucketPath(bucketID)+"/finish", req, &resp, ""); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("finish upload returned no file id")
	}
	return resp.ID, nil
}

// AbortMultipartUpload discards the parts of an unfinished multipart upload.
func (c *Client) AbortMultipartUpload(ctx context.Context, bucketID, uploadID string) error {
	return c.doJSON(ctx, "abort upload", nethttp.MethodPost, bucketPath(bucketID, uploadID, "abort"), nil, nil, "")
}

// RequestDownloadLinks returns the shards of a network object, sorted by index.
func (c *Client) RequestDownloadLinks(ctx context.Context, bucketID, fileID string) ([]cloud.ShardDescriptor, error) {
	var resp models.FileInfoResponse
	if err := c.doJSON(ctx, "file info", nethttp.MethodGet, bucketPath(bucketID, fileID, "info"), nil, &resp, ""); err != nil {
		return nil, err
	}

	shards := make([]cloud.ShardDescriptor, len(resp.Shards))
	for i, s := range resp.Shards {
		shards[i] = cloud.ShardDescriptor{URL: s.URL, Index: s.Index, Size: s.Size, Hash: s.Hash}
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].Index < shards[j].Index })
	return shards, nil
}

var _ cloud.NetworkAPI = (*Client)(nil)
