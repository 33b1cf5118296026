package api

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/config"
	"github.com/cryptdrive/cdrive/internal/logging"
	"github.com/cryptdrive/cdrive/internal/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   []byte
}

// apiServer routes requests to handlers keyed by "METHOD path" and records them.
type apiServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]nethttp.HandlerFunc
}

func newAPIServer(t *testing.T) (*apiServer, *Client) {
	s := &apiServer{handlers: make(map[string]nethttp.HandlerFunc)}
	s.Server = httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		h, ok := s.handlers[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if !ok {
			nethttp.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(s.Close)

	c := newClient(s.URL, "secret-token", s.Client(), 2, nil, logging.NewNopLogger())
	c.httpClient.RetryWaitMin = time.Millisecond
	c.httpClient.RetryWaitMax = 5 * time.Millisecond
	return s, c
}

func (s *apiServer) handle(route string, h nethttp.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[route] = h
}

func (s *apiServer) last() recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func respondJSON(status int, v interface{}) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondText(status int, body string) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	_, err := NewClient(&config.Config{ProxyMode: "no-proxy"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API base URL is empty")
}

func TestNewClientAcceptsValidBaseURL(t *testing.T) {
	c, err := NewClient(&config.Config{APIBaseURL: "https://api.example.com/", Token: "t", ProxyMode: "no-proxy"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", c.baseURL)
}

// =============================================================================
// Network API
// =============================================================================

func TestRequestUploadURL(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("POST /buckets/b1/files/start", respondJSON(200, models.StartUploadResponse{
		UploadID: "up-1", URLs: []string{"https://storage.example.com/obj?sig=1"},
	}))

	u, err := c.RequestUploadURL(context.Background(), "b1", 1234)
	require.NoError(t, err)
	assert.Equal(t, "up-1", u.UploadID)
	assert.Equal(t, "https://storage.example.com/obj?sig=1", u.URL)

	req := s.last()
	assert.Equal(t, "Bearer secret-token", req.Auth)
	assert.JSONEq(t, `{"size":1234}`, string(req.Body))
}

func TestRequestUploadURLWrongCount(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("POST /buckets/b1/files/start", respondJSON(200, models.StartUploadResponse{UploadID: "x", URLs: []string{"a", "b"}}))

	_, err := c.RequestUploadURL(context.Background(), "b1", 10)
	assert.Error(t, err)
}

func TestRequestMultipartUploadURLs(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("POST /buckets/b1/files/start", respondJSON(200, models.StartUploadResponse{
		UploadID: "mp-1", URLs: []string{"u1", "u2", "u3"},
	}))

	urls, err := c.RequestMultipartUploadURLs(context.Background(), "b1", 300, 3)
	require.NoError(t, err)
	assert.Equal(t, "mp-1", urls.UploadID)
	assert.Equal(t, []string{"u1", "u2", "u3"}, urls.URLs)
	assert.Equal(t, "multiparts=3", s.last().Query)
}

func TestCompleteMultipartUploadSortsManifest(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("POST /buckets/b1/files/finish", respondJSON(200, models.FinishUploadResponse{ID: "file-9"}))

	id, err := c.CompleteMultipartUpload(context.Background(), "b1", cloud.CompleteMultipartRequest{
		UploadID: "mp-1",
		Index:    []byte{0xab, 0xcd},
		Hash:     "deadbeef",
		Size:     300,
		Parts: []cloud.PartResult{
			{PartNumber: 3, ETag: `"c"`},
			{PartNumber: 1, ETag: `"a"`},
			{PartNumber: 2, ETag: `"b"`},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "file-9", id)

	var sent models.FinishUploadRequest
	require.NoError(t, json.Unmarshal(s.last().Body, &sent))
	assert.Equal(t, "abcd", sent.Index)
	assert.Equal(t, "mp-1", sent.UploadID)
	require.Len(t, sent.Parts, 3)
	for i, p := range sent.Parts {
		assert.Equal(t, int32(i+1), p.PartNumber)
	}
}

func TestFinishUploadRequiresID(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("POST /buckets/b1/files/finish", respondJSON(200, models.FinishUploadResponse{}))

	_, err := c.FinishUpload(context.Background(), "b1", cloud.FinishUploadRequest{UploadID: "u"})
	assert.Error(t, err)
}

func TestAbortMultipartUpload(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("POST /buckets/b1/files/mp-1/abort", respondText(204, ""))

	require.NoError(t, c.AbortMultipartUpload(context.Background(), "b1", "mp-1"))
	assert.Equal(t, "/buckets/b1/files/mp-1/abort", s.last().Path)
}

func TestRequestDownloadLinksSorted(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("GET /buckets/b1/files/f1/info", respondJSON(200, models.FileInfoResponse{
		ID: "f1",
		Shards: []models.Shard{
			{Index: 1, Size: 20, URL: "s1"},
			{Index: 0, Size: 10, URL: "s0", Hash: "h0"},
		},
	}))

	shards, err := c.RequestDownloadLinks(context.Background(), "b1", "f1")
	require.NoError(t, err)
	require.Len(t, shards, 2)
	assert.Equal(t, cloud.ShardDescriptor{URL: "s0", Index: 0, Size: 10, Hash: "h0"}, shards[0])
	assert.Equal(t, "s1", shards[1].URL)
}

// =============================================================================
// Drive API
// =============================================================================

func TestCreateFolder(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("POST /drive/folders", respondJSON(201, models.DriveFolder{ID: "fo-1", Name: "docs", ParentID: "root"}))

	folder, err := c.CreateFolder(context.Background(), "docs", "root")
	require.NoError(t, err)
	assert.Equal(t, "fo-1", folder.ID)
	assert.JSONEq(t, `{"name":"docs","parentId":"root"}`, string(s.last().Body))
}

func TestConflictMapping(t *testing.T) {
	tests := []struct {
		name     string
		handler  nethttp.HandlerFunc
		conflict bool
		status   int
	}{
		{"409", respondText(409, "conflict"), true, 0},
		{"400 already exists", respondText(400, `{"error":"Folder already exists"}`), true, 0},
		{"400 other", respondText(400, `{"error":"name too long"}`), false, 400},
		{"403", respondText(403, "forbidden"), false, 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newAPIServer(t)
			s.handle("POST /drive/folders", tt.handler)

			_, err := c.CreateFolder(context.Background(), "docs", "root")
			require.Error(t, err)
			assert.Equal(t, tt.conflict, storage.IsAlreadyExists(err))

			if !tt.conflict {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.status, apiErr.StatusCode)
			}
		})
	}
}

func TestCreateFileConflict(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("POST /drive/files", respondText(409, "file exists"))

	_, err := c.CreateFile(context.Background(), models.CreateFileRequest{Name: "a.txt", FolderID: "root"})
	var ae *storage.AlreadyExistsError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "a.txt", ae.Name)
}

func TestFindFolder(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("GET /drive/folders/root/children", respondJSON(200, models.FolderChildren{
		Folders: []models.DriveFolder{{ID: "x", Name: "other"}, {ID: "fo-2", Name: "my docs"}},
	}))

	folder, err := c.FindFolder(context.Background(), "my docs", "root")
	require.NoError(t, err)
	assert.Equal(t, "fo-2", folder.ID)
	assert.Equal(t, "name=my+docs", s.last().Query)

	_, err = c.FindFolder(context.Background(), "missing", "root")
	assert.True(t, IsNotFound(err))
}

func TestGetFile(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("GET /drive/files/df-1", respondJSON(200, models.DriveFile{ID: "df-1", Name: "a.bin", BucketID: "b1", FileID: "f1", Size: 42, Index: "00ff"}))

	file, err := c.GetFile(context.Background(), "df-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), file.Size)
	assert.Equal(t, "00ff", file.Index)

	_, err = c.GetFile(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}

// =============================================================================
// Retries
// =============================================================================

func TestRetriesServerErrors(t *testing.T) {
	s, c := newAPIServer(t)
	var calls int32
	s.handle("GET /drive/files/df-1", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(503)
			return
		}
		respondJSON(200, models.DriveFile{ID: "df-1"})(w, r)
	})

	file, err := c.GetFile(context.Background(), "df-1")
	require.NoError(t, err)
	assert.Equal(t, "df-1", file.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	// Retries happen below the API call count
	c.metrics.Lock()
	assert.Equal(t, int64(1), c.metrics.totalCalls)
	c.metrics.Unlock()
}

func TestRetriesExhaustedReturnsStatus(t *testing.T) {
	s, c := newAPIServer(t)
	s.handle("GET /drive/files/df-1", respondText(500, "boom"))

	_, err := c.GetFile(context.Background(), "df-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Body)
}

func TestCancelledContext(t *testing.T) {
	_, c := newAPIServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetFile(ctx, "df-1")
	require.Error(t, err)
}
