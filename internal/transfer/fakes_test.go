package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/localfs"
	"github.com/cryptdrive/cdrive/internal/models"
)

// fakeDrive is an in-memory drive metadata API.
type fakeDrive struct {
	mu      sync.Mutex
	nextID  int
	folders map[string]*models.DriveFolder // parentID + "/" + name
	files   map[string]*models.DriveFile   // folderID + "/" + name

	folderOrder   []string // names in creation order
	failFolders   map[string]bool
	existingFiles map[string]bool // names whose CreateFile conflicts
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		folders:       make(map[string]*models.DriveFolder),
		files:         make(map[string]*models.DriveFile),
		failFolders:   make(map[string]bool),
		existingFiles: make(map[string]bool),
	}
}

func (d *fakeDrive) addExistingFolder(name, parentID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("existing-%d", d.nextID)
	d.folders[parentID+"/"+name] = &models.DriveFolder{ID: id, Name: name, ParentID: parentID}
	return id
}

func (d *fakeDrive) CreateFolder(_ context.Context, name, parentID string) (*models.DriveFolder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFolders[name] {
		return nil, fmt.Errorf("folder service unavailable")
	}
	if _, ok := d.folders[parentID+"/"+name]; ok {
		return nil, &storage.AlreadyExistsError{Name: name}
	}
	d.nextID++
	folder := &models.DriveFolder{ID: fmt.Sprintf("folder-%d", d.nextID), Name: name, ParentID: parentID}
	d.folders[parentID+"/"+name] = folder
	d.folderOrder = append(d.folderOrder, name)
	return folder, nil
}

func (d *fakeDrive) FindFolder(_ context.Context, name, parentID string) (*models.DriveFolder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	folder, ok := d.folders[parentID+"/"+name]
	if !ok {
		return nil, fmt.Errorf("folder %s not found", name)
	}
	return folder, nil
}

func (d *fakeDrive) CreateFile(_ context.Context, req models.CreateFileRequest) (*models.DriveFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.existingFiles[req.Name] {
		return nil, &storage.AlreadyExistsError{Name: req.Name}
	}
	d.nextID++
	file := &models.DriveFile{
		ID:       fmt.Sprintf("file-%d", d.nextID),
		Name:     req.Name,
		Type:     req.Type,
		FolderID: req.FolderID,
		BucketID: req.BucketID,
		FileID:   req.FileID,
		Size:     req.Size,
		Index:    req.Index,
		Hash:     req.Hash,
	}
	d.files[req.FolderID+"/"+req.Name] = file
	return file, nil
}

func (d *fakeDrive) GetFile(_ context.Context, fileID string) (*models.DriveFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.files {
		if f.ID == fileID {
			return f, nil
		}
	}
	return nil, fmt.Errorf("file %s not found", fileID)
}

func (d *fakeDrive) folderID(parentID, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.folders[parentID+"/"+name]; ok {
		return f.ID
	}
	return ""
}

func (d *fakeDrive) file(folderID, name string) *models.DriveFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.files[folderID+"/"+name]
}

// fakeUploader identifies files by their content, which tests set to the file name.
type fakeUploader struct {
	mu       sync.Mutex
	attempts map[string]int
	failN    map[string]int // fail the first N attempts; -1 fails forever
	failWith map[string]error // returned instead of a 503 when set

	inFlight    int32
	maxInFlight int32
	hook        func(content string) // runs inside Upload
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{attempts: make(map[string]int), failN: make(map[string]int), failWith: make(map[string]error)}
}

func (u *fakeUploader) Upload(ctx context.Context, f FileUpload) (*cloud.UploadResult, error) {
	n := atomic.AddInt32(&u.inFlight, 1)
	defer atomic.AddInt32(&u.inFlight, -1)
	for {
		max := atomic.LoadInt32(&u.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&u.maxInFlight, max, n) {
			break
		}
	}

	data, err := io.ReadAll(f.Source)
	if err != nil {
		return nil, err
	}
	content := string(data)

	u.mu.Lock()
	u.attempts[content]++
	attempt := u.attempts[content]
	failN := u.failN[content]
	failWith := u.failWith[content]
	u.mu.Unlock()

	if u.hook != nil {
		u.hook(content)
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.AbortedOr(ctx, "upload", err)
	}

	if failN < 0 || attempt <= failN {
		if failWith != nil {
			return nil, failWith
		}
		return nil, &storage.TransportError{Op: "PUT", URL: "https://storage.test/" + content, StatusCode: 503}
	}

	if f.Progress != nil {
		f.Progress(0.5)
		f.Progress(1.0)
	}
	return &cloud.UploadResult{RemoteFileID: "obj-" + content, ContentHash: "hash-" + content, Size: f.Size}, nil
}

func (u *fakeUploader) attemptsFor(content string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attempts[content]
}

func testKeys(node localfs.FileSystemNode) (encryption.TransferKey, []byte, error) {
	index := make([]byte, encryption.IndexSize)
	copy(index, node.Name)
	return encryption.TransferKey{Key: make([]byte, encryption.KeySize), IV: index[:encryption.IVSize]}, index, nil
}

// writeFiles creates files under dir whose content is their base name and
// returns file nodes parented at the destination.
func writeFiles(t *testing.T, dir string, names ...string) []localfs.FileSystemNode {
	t.Helper()
	var nodes []localfs.FileSystemNode
	for _, name := range names {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
		nodes = append(nodes, localfs.FileSystemNode{
			Kind:         localfs.KindFile,
			Name:         name,
			RelativePath: name,
			AbsolutePath: p,
			Size:         int64(len(name)),
		})
	}
	return nodes
}
