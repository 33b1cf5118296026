package api

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/models"
)

// CreateFolder creates a folder below parentID. A name conflict returns
// *storage.AlreadyExistsError.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*models.DriveFolder, error) {
	var folder models.DriveFolder
	err := c.doJSON(ctx, "create folder", nethttp.MethodPost, "/drive/folders",
		models.CreateFolderRequest{Name: name, ParentID: parentID}, &folder, name)
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

// FindFolder returns the child folder of parentID called name.
func (c *Client) FindFolder(ctx context.Context, name, parentID string) (*models.DriveFolder, error) {
	var children models.FolderChildren
	path := fmt.Sprintf("/drive/folders/%s/children?name=%s", url.PathEscape(parentID), url.QueryEscape(name))
	if err := c.doJSON(ctx, "list folder", nethttp.MethodGet, path, nil, &children, ""); err != nil {
		return nil, err
	}

	for i := range children.Folders {
		if children.Folders[i].Name == name {
			return &children.Folders[i], nil
		}
	}
	return nil, fmt.Errorf("folder %q in %s: %w", name, parentID, errNotFound)
}

// CreateFile registers an uploaded object as a drive file. A name conflict
// returns *storage.AlreadyExistsError.
func (c *Client) CreateFile(ctx context.Context, req models.CreateFileRequest) (*models.DriveFile, error) {
	var file models.DriveFile
	if err := c.doJSON(ctx, "create file", nethttp.MethodPost, "/drive/files", req, &file, req.Name); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetFile returns a drive file entry.
func (c *Client) GetFile(ctx context.Context, fileID string) (*models.DriveFile, error) {
	var file models.DriveFile
	if err := c.doJSON(ctx, "get file", nethttp.MethodGet, "/drive/files/"+url.PathEscape(fileID), nil, &file, ""); err != nil {
		return nil, err
	}
	return &file, nil
}

var _ cloud.DriveAPI = (*Client)(nil)
