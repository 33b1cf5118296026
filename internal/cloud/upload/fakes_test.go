package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/transport"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
)

// storageServer is a fake presigned-URL endpoint that keeps every PUT body.
type storageServer struct {
	*httptest.Server

	mu      sync.Mutex
	objects map[string][]byte

	inFlight    int32
	maxInFlight int32

	failPath string        // respond 500 for this path
	noETag   bool          // omit the ETag header
	delay    time.Duration // hold each request this long
	block    chan struct{} // hold requests until closed
}

func newStorageServer(t *testing.T) *storageServer {
	s := &storageServer{objects: make(map[string][]byte)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *storageServer) handle(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		max := atomic.LoadInt32(&s.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, n) {
			break
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-r.Context().Done():
			return
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if r.URL.Path == s.failPath {
		http.Error(w, "InternalError", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.objects[r.URL.Path] = body
	s.mu.Unlock()

	if !s.noETag {
		sum := md5.Sum(body)
		w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *storageServer) object(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[path]
}

func (s *storageServer) partURL(i int) string {
	return fmt.Sprintf("%s/upload/part-%d?X-Amz-Signature=sig", s.URL, i+1)
}

// partTransport is an in-memory UploadTransport for part URLs. It records the
// order parts start and finish in, and holds part i for hold(i), or until the
// request is cancelled when hold is nil.
type partTransport struct {
	hold    func(index int) time.Duration
	onStart func(started int)

	mu       sync.Mutex
	started  []int
	finished []int
	parts    map[int][]byte

	inFlight    int32
	maxInFlight int32
}

func (p *partTransport) Put(ctx context.Context, req transport.PutRequest) (string, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&p.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&p.maxInFlight, peak, n) {
			break
		}
	}

	var number int
	if _, err := fmt.Sscanf(req.URL[strings.LastIndex(req.URL, "/part-"):], "/part-%d", &number); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.started = append(p.started, number)
	started := len(p.started)
	p.mu.Unlock()
	if p.onStart != nil {
		p.onStart(started)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return "", err
	}
	if p.hold == nil {
		<-ctx.Done()
		return "", ctx.Err()
	}
	select {
	case <-time.After(p.hold(number - 1)):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if req.OnProgress != nil {
		req.OnProgress(int64(len(body)))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parts == nil {
		p.parts = make(map[int][]byte)
	}
	p.parts[number] = body
	p.finished = append(p.finished, number)
	return fmt.Sprintf(`"etag-%d"`, number), nil
}

func (p *partTransport) startedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.started)
}

// fakeNetwork implements cloud.NetworkAPI against a storageServer.
type fakeNetwork struct {
	srv *storageServer

	mu          sync.Mutex
	urlRequests int
	finished    []cloud.FinishUploadRequest
	completed   []cloud.CompleteMultipartRequest
	aborts      int32

	urlCountDelta int // added to the number of part URLs returned
	completeErr   error
}

func (f *fakeNetwork) RequestUploadURL(ctx context.Context, bucketID string, size int64) (*cloud.UploadURL, error) {
	f.mu.Lock()
	f.urlRequests++
	f.mu.Unlock()
	return &cloud.UploadURL{UploadID: "upload-1", URL: f.srv.URL + "/upload/single?X-Amz-Signature=sig"}, nil
}

func (f *fakeNetwork) RequestMultipartUploadURLs(ctx context.Context, bucketID string, size int64, partCount int) (*cloud.MultipartUploadURLs, error) {
	f.mu.Lock()
	f.urlRequests++
	f.mu.Unlock()
	urls := make([]string, 0, partCount+f.urlCountDelta)
	for i := 0; i < partCount+f.urlCountDelta; i++ {
		urls = append(urls, f.srv.partURL(i))
	}
	return &cloud.MultipartUploadURLs{UploadID: "mp-1", URLs: urls}, nil
}

func (f *fakeNetwork) FinishUpload(ctx context.Context, bucketID string, req cloud.FinishUploadRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, req)
	return "file-simple", nil
}

func (f *fakeNetwork) CompleteMultipartUpload(ctx context.Context, bucketID string, req cloud.CompleteMultipartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return "", f.completeErr
	}
	f.completed = append(f.completed, req)
	return "file-multipart", nil
}

func (f *fakeNetwork) AbortMultipartUpload(ctx context.Context, bucketID, uploadID string) error {
	atomic.AddInt32(&f.aborts, 1)
	return nil
}

func (f *fakeNetwork) RequestDownloadLinks(ctx context.Context, bucketID, fileID string) ([]cloud.ShardDescriptor, error) {
	return nil, fmt.Errorf("not implemented")
}

// progressRecorder collects progress values for monotonicity checks.
type progressRecorder struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressRecorder) callback(v float64) {
	p.mu.Lock()
	p.values = append(p.values, v)
	p.mu.Unlock()
}

func (p *progressRecorder) assertMonotoneEndingAtOne(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.values) == 0 {
		t.Fatal("no progress reported")
	}
	for i, v := range p.values {
		if v < 0 || v > 1 {
			t.Fatalf("progress[%d] = %v out of range", i, v)
		}
		if i > 0 && v < p.values[i-1] {
			t.Fatalf("progress went backwards: %v -> %v", p.values[i-1], v)
		}
		if i < len(p.values)-1 && v >= 1.0 {
			t.Fatalf("progress reached 1.0 before registration at step %d", i)
		}
	}
	if last := p.values[len(p.values)-1]; last != 1.0 {
		t.Fatalf("final progress = %v, want 1.0", last)
	}
}

func testKey(t *testing.T) (encryption.TransferKey, []byte) {
	t.Helper()
	index, err := encryption.GenerateIndex()
	if err != nil {
		t.Fatal(err)
	}
	key, err := encryption.DeriveFileKey("abandon ability able about above absent", "0011aabb", index)
	if err != nil {
		t.Fatal(err)
	}
	return key, index
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}
