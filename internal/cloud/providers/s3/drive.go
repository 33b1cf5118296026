package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/models"
)

// Drive implements cloud.DriveAPI with JSON entries stored in the bucket.
// Existence checks and writes are not atomic; concurrent writers of the same
// name may both succeed.
type Drive struct {
	c *Client
}

// NewDrive creates the drive API of the S3 backend.
func NewDrive(c *Client) *Drive {
	return &Drive{c: c}
}

var _ cloud.DriveAPI = (*Drive)(nil)

func (d *Drive) folderKey(parentID, name string) string {
	return d.c.key("drive", "folders", url.PathEscape(parentID), url.PathEscape(name)+".json")
}

func (d *Drive) fileKey(folderID, name string) string {
	return d.c.key("drive", "files", url.PathEscape(folderID), url.PathEscape(name)+".json")
}

func (d *Drive) idKey(id string) string {
	return d.c.key("drive", "ids", url.PathEscape(id)+".json")
}

// CreateFolder creates a folder entry. An existing name returns *storage.AlreadyExistsError.
func (d *Drive) CreateFolder(ctx context.Context, name, parentID string) (*models.DriveFolder, error) {
	key := d.folderKey(parentID, name)
	exists, err := d.c.exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &storage.AlreadyExistsError{Name: name}
	}

	folder := &models.DriveFolder{ID: uuid.NewString(), Name: name, ParentID: parentID}
	if err := d.c.putJSON(ctx, key, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// FindFolder returns the folder called name below parentID.
func (d *Drive) FindFolder(ctx context.Context, name, parentID string) (*models.DriveFolder, error) {
	var folder models.DriveFolder
	if err := d.c.getJSON(ctx, d.folderKey(parentID, name), &folder); err != nil {
		return nil, fmt.Errorf("folder %q: %w", name, err)
	}
	return &folder, nil
}

// CreateFile records an uploaded object. An existing name in the folder returns
// *storage.AlreadyExistsError.
func (d *Drive) CreateFile(ctx context.Context, req models.CreateFileRequest) (*models.DriveFile, error) {
	key := d.fileKey(req.FolderID, req.Name)
	exists, err := d.c.exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &storage.AlreadyExistsError{Name: req.Name}
	}

	fileType := req.Type
	if fileType == "" {
		fileType = strings.TrimPrefix(filepath.Ext(req.Name), ".")
	}
	file := &models.DriveFile{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Type:      fileType,
		FolderID:  req.FolderID,
		BucketID:  req.BucketID,
		FileID:    req.FileID,
		Size:      req.Size,
		Index:     req.Index,
		Hash:      req.Hash,
		CreatedAt: time.Now().UTC(),
	}

	// The id entry goes first so a listed name always resolves
	if err := d.c.putJSON(ctx, d.idKey(file.ID), file); err != nil {
		return nil, err
	}
	if err := d.c.putJSON(ctx, key, file); err != nil {
		return nil, err
	}
	return file, nil
}

// GetFile returns the file entry with the given id.
func (d *Drive) GetFile(ctx context.Context, fileID string) (*models.DriveFile, error) {
	var file models.DriveFile
	if err := d.c.getJSON(ctx, d.idKey(fileID), &file); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
		}
		return nil, err
	}
	return &file, nil
}
