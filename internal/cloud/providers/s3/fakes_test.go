package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cryptdrive/cdrive/internal/logging"
)

// fakeS3 is an in-memory bucket with just enough multipart bookkeeping.
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   map[string]string // upload id -> key
	completed map[string][]types.CompletedPart
	aborted   []string
	nextID    int

	transientPutFailures int // PutObject fails with a 503 this many times
	presignFailAtPart    int32
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:   make(map[string][]byte),
		uploads:   make(map[string]string),
		completed: make(map[string][]types.CompletedPart),
	}
}

func newTestClient(f *fakeS3, prefix string) *Client {
	c := newClient(f, f, "test-bucket", prefix, logging.NewNopLogger())
	c.retry.InitialDelay = 0
	return c
}

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeS3) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	if f.transientPutFailures > 0 {
		f.transientPutFailures--
		f.mu.Unlock()
		return nil, fmt.Errorf("https response error StatusCode: 503, api error SlowDown: Please reduce your request rate")
	}
	f.mu.Unlock()

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.put(aws.ToString(in.Key), data)
	return &s3.PutObjectOutput{ETag: aws.String(`"etag"`)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.get(aws.ToString(in.Key))
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.get(aws.ToString(in.Key))
	if !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("mpu-%d", f.nextID)
	f.uploads[id] = aws.ToString(in.Key)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id), Key: in.Key}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	key, ok := f.uploads[id]
	if !ok || key != aws.ToString(in.Key) {
		return nil, &types.NoSuchUpload{Message: aws.String("no such upload")}
	}
	delete(f.uploads, id)
	f.completed[key] = in.MultipartUpload.Parts
	f.objects[key] = []byte("assembled")
	return &s3.CompleteMultipartUploadOutput{Key: in.Key}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.aborted = append(f.aborted, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) PresignPutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://s3.test/" + aws.ToString(in.Key) + "?X-Amz-Signature=put", Method: "PUT"}, nil
}

func (f *fakeS3) PresignUploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	n := aws.ToInt32(in.PartNumber)
	if f.presignFailAtPart != 0 && n == f.presignFailAtPart {
		return nil, fmt.Errorf("signing failed")
	}
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://s3.test/%s?partNumber=%d&uploadId=%s", aws.ToString(in.Key), n, aws.ToString(in.UploadId)),
		Method: "PUT",
	}, nil
}

func (f *fakeS3) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://s3.test/" + aws.ToString(in.Key) + "?X-Amz-Signature=get", Method: "GET"}, nil
}
