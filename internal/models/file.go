package models

import "time"

// DriveFile represents a file entry in the remote drive
type DriveFile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type,omitempty"` // extension without dot
	FolderID  string    `json:"folderId"`
	BucketID  string    `json:"bucket"`
	FileID    string    `json:"fileId"` // network object id
	Size      int64     `json:"size"`
	Index     string    `json:"index,omitempty"` // hex key-derivation index
	Hash      string    `json:"hash,omitempty"`  // content identifier of the ciphertext
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// DriveFolder represents a folder entry in the remote drive
type DriveFolder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
}

// CreateFolderRequest represents a folder creation request
type CreateFolderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
}

// CreateFileRequest registers an uploaded network object as a drive file
type CreateFileRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	FolderID string `json:"folderId"`
	BucketID string `json:"bucket"`
	FileID   string `json:"fileId"`
	Size     int64  `json:"size"`
	Index    string `json:"index"`
	Hash     string `json:"hash,omitempty"`
}

// FolderChildren is the response of a folder listing filtered by name
type FolderChildren struct {
	Folders []DriveFolder `json:"folders"`
	Files   []DriveFile   `json:"files"`
}
