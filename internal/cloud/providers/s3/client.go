// Package s3 implements the network and drive APIs directly against an
// S3-compatible bucket. Transfers use presigned URLs, so file bytes still
// flow through the regular transports.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/cryptdrive/cdrive/internal/config"
	"github.com/cryptdrive/cdrive/internal/constants"
	"github.com/cryptdrive/cdrive/internal/http"
	"github.com/cryptdrive/cdrive/internal/logging"
)

const defaultRegion = "us-east-1"

// ErrNotFound is wrapped by reads of missing objects
var ErrNotFound = errors.New("object not found")

// objectAPI is the subset of *s3.Client used here
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// presignAPI is the subset of *s3.PresignClient used here
type presignAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Client wraps the S3 API with retries and the key layout of the backend:
//
//	<prefix>/<uuid>                      file ciphertext
//	<prefix>/<uuid>.meta.json            hash, index and size of the file
//	<prefix>/drive/folders/<parent>/<name>.json
//	<prefix>/drive/files/<folder>/<name>.json
//	<prefix>/drive/ids/<id>.json
//
// Thread-safe: all operations are safe for concurrent use.
type Client struct {
	objects objectAPI
	presign presignAPI
	bucket  string
	prefix  string
	expiry  time.Duration
	retry   http.RetryConfig
	logger  *logging.Logger
}

// NewClient creates a client for the bucket in cfg. httpClient may be nil.
func NewClient(ctx context.Context, cfg config.S3Config, httpClient *nethttp.Client, logger *logging.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newClient(client, s3.NewPresignClient(client), cfg.Bucket, cfg.Prefix, logger), nil
}

func newClient(objects objectAPI, presign presignAPI, bucket, prefix string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	log := logger.Component("s3")

	retry := http.DefaultRetryConfig()
	retry.OnRetry = func(attempt int, err error, errorType http.ErrorType) {
		log.Debug().Err(err).Int("attempt", attempt).Str("type", http.ErrorTypeName(errorType)).Msg("retrying S3 request")
	}

	return &Client{
		objects: objects,
		presign: presign,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		expiry:  constants.PresignExpiry,
		retry:   retry,
		logger:  log,
	}
}

// withRetry runs an S3 call under ExecuteWithRetry
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	if err := http.ExecuteWithRetry(ctx, c.retry, fn); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) key(parts ...string) string {
	if c.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{c.prefix}, parts...)...)
}

func (c *Client) newObjectKey() string {
	return c.key(uuid.NewString())
}

func metaKey(objectKey string) string {
	return objectKey + ".meta.json"
}

// isNotFound matches the not-found errors of HeadObject and GetObject
func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk) || errors.Is(err, ErrNotFound)
}

func (c *Client) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.withRetry(ctx, "put "+key, func() error {
		_, err := c.objects.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/json"),
		})
		return err
	})
}

// getJSON decodes the object at key into v. A missing object wraps ErrNotFound.
func (c *Client) getJSON(ctx context.Context, key string, v interface{}) error {
	var data []byte
	err := c.withRetry(ctx, "get "+key, func() error {
		out, err := c.objects.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// headSize returns the size of the object at key. A missing object wraps ErrNotFound.
func (c *Client) headSize(ctx context.Context, key string) (int64, error) {
	var size int64
	err := c.withRetry(ctx, "head "+key, func() error {
		out, err := c.objects.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		size = aws.ToInt64(out.ContentLength)
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return 0, err
	}
	return size, nil
}

func (c *Client) exists(ctx context.Context, key string) (bool, error) {
	_, err := c.headSize(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
