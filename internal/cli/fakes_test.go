package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/cloud/transport"
	"github.com/cryptdrive/cdrive/internal/config"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/logging"
	"github.com/cryptdrive/cdrive/internal/models"
)

// memBackend is an in-memory network API, drive API and presigned-URL transport.
// Stored objects are served as shards of shardSize bytes.
type memBackend struct {
	mu        sync.Mutex
	nextID    int
	parts     map[string][]byte // url -> payload
	objects   map[string][]byte // network file id -> ciphertext
	folders   map[string]*models.DriveFolder
	files     map[string]*models.DriveFile // drive id -> file
	shardSize int64

	// failShardGets fails GETs of the shard with this index while > 0 remain
	failShard     int
	failShardGets int
}

func newMemBackend() *memBackend {
	return &memBackend{
		parts:     make(map[string][]byte),
		objects:   make(map[string][]byte),
		folders:   make(map[string]*models.DriveFolder),
		files:     make(map[string]*models.DriveFile),
		shardSize: 1000,
		failShard: -1,
	}
}

func (m *memBackend) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s%d", prefix, m.nextID)
}

func (m *memBackend) RequestUploadURL(ctx context.Context, bucketID string, size int64) (*cloud.UploadURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id("up")
	return &cloud.UploadURL{UploadID: id, URL: "mem://" + id + "/0"}, nil
}

func (m *memBackend) RequestMultipartUploadURLs(ctx context.Context, bucketID string, size int64, partCount int) (*cloud.MultipartUploadURLs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id("mp")
	urls := make([]string, partCount)
	for i := range urls {
		urls[i] = fmt.Sprintf("mem://%s/%d", id, i)
	}
	return &cloud.MultipartUploadURLs{UploadID: id, URLs: urls}, nil
}

func (m *memBackend) FinishUpload(ctx context.Context, bucketID string, req cloud.FinishUploadRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.parts["mem://"+req.UploadID+"/0"]
	if !ok {
		return "", fmt.Errorf("upload %s has no data", req.UploadID)
	}
	id := m.id("obj")
	m.objects[id] = data
	return id, nil
}

func (m *memBackend) CompleteMultipartUpload(ctx context.Context, bucketID string, req cloud.CompleteMultipartRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var data []byte
	for _, p := range req.Parts {
		part, ok := m.parts[fmt.Sprintf("mem://%s/%d", req.UploadID, p.PartNumber-1)]
		if !ok {
			return "", fmt.Errorf("part %d missing", p.PartNumber)
		}
		data = append(data, part...)
	}
	id := m.id("obj")
	m.objects[id] = data
	return id, nil
}

func (m *memBackend) AbortMultipartUpload(ctx context.Context, bucketID, uploadID string) error {
	return nil
}

func (m *memBackend) RequestDownloadLinks(ctx context.Context, bucketID, fileID string) ([]cloud.ShardDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[fileID]
	if !ok {
		return nil, fmt.Errorf("object %s not found", fileID)
	}

	var shards []cloud.ShardDescriptor
	for i, off := 0, int64(0); off < int64(len(data)) || i == 0; i, off = i+1, off+m.shardSize {
		end := off + m.shardSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		hasher := encryption.NewContentHasher()
		hasher.Write(data[off:end])
		shards = append(shards, cloud.ShardDescriptor{
			URL:   fmt.Sprintf("mem-obj://%s/%d", fileID, i),
			Index: i,
			Size:  end - off,
			Hash:  hasher.HexSum(),
		})
	}
	// Out of order on purpose
	sort.Slice(shards, func(i, j int) bool { return shards[i].Index > shards[j].Index })
	return shards, nil
}

func (m *memBackend) Put(ctx context.Context, req transport.PutRequest) (string, error) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return "", err
	}
	if req.OnProgress != nil {
		req.OnProgress(int64(len(data)))
	}
	m.mu.Lock()
	m.parts[req.URL] = data
	m.mu.Unlock()
	return `"etag-` + path.Base(req.URL) + `"`, nil
}

func (m *memBackend) Get(ctx context.Context, req transport.GetRequest) (io.ReadCloser, error) {
	var fileID string
	var index int
	if _, err := fmt.Sscanf(strings.Replace(strings.TrimPrefix(req.URL, "mem-obj://"), "/", " ", 1), "%s %d", &fileID, &index); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if index == m.failShard && m.failShardGets > 0 {
		m.failShardGets--
		return nil, &storage.TransportError{Op: "GET", URL: req.URL, StatusCode: 503, Err: errors.New("service unavailable")}
	}
	data := m.objects[fileID]
	start := int64(index)*m.shardSize + req.Offset
	end := int64(index+1) * m.shardSize
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if req.Length > 0 && start+req.Length < end {
		end = start + req.Length
	}
	return io.NopCloser(bytes.NewReader(data[start:end])), nil
}

func (m *memBackend) CreateFolder(ctx context.Context, name, parentID string) (*models.DriveFolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.folders {
		if f.Name == name && f.ParentID == parentID {
			return nil, &storage.AlreadyExistsError{Name: name}
		}
	}
	folder := &models.DriveFolder{ID: m.id("dir"), Name: name, ParentID: parentID}
	m.folders[folder.ID] = folder
	return folder, nil
}

func (m *memBackend) FindFolder(ctx context.Context, name, parentID string) (*models.DriveFolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.folders {
		if f.Name == name && f.ParentID == parentID {
			return f, nil
		}
	}
	return nil, fmt.Errorf("folder %s not found", name)
}

func (m *memBackend) CreateFile(ctx context.Context, req models.CreateFileRequest) (*models.DriveFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.Name == req.Name && f.FolderID == req.FolderID {
			return nil, &storage.AlreadyExistsError{Name: req.Name}
		}
	}
	file := &models.DriveFile{
		ID:        m.id("file"),
		Name:      req.Name,
		Type:      req.Type,
		FolderID:  req.FolderID,
		BucketID:  req.BucketID,
		FileID:    req.FileID,
		Size:      req.Size,
		Index:     req.Index,
		Hash:      req.Hash,
		CreatedAt: time.Now(),
	}
	m.files[file.ID] = file
	return file, nil
}

func (m *memBackend) GetFile(ctx context.Context, fileID string) (*models.DriveFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	copied := *f
	return &copied, nil
}

func (m *memBackend) fileByName(name string) *models.DriveFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (m *memBackend) folderNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, f := range m.folders {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// newTestSession wires a session against a fresh memBackend.
func newTestSession(t *testing.T) (*session, *memBackend) {
	t.Helper()
	backend := newMemBackend()

	cfg := config.NewDefaultConfig()
	cfg.Mnemonic = "abandon ability able about above absent absorb abstract absurd abuse access accident"
	cfg.BucketID = "4d1e7f2a9c"
	cfg.RootFolderID = "root"
	cfg.RetryDelays = []time.Duration{time.Millisecond}
	cfg.MultipartThreshold = 8 * 1024
	cfg.PartConcurrency = 2

	return &session{
		cfg:       cfg,
		logger:    logging.NewNopLogger(),
		network:   backend,
		drive:     backend,
		uploads:   backend,
		downloads: backend,
		deriver:   encryption.MnemonicKeyDeriver{},
	}, backend
}
