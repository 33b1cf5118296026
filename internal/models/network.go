package models

// StartUploadRequest asks the network API for presigned upload URLs
type StartUploadRequest struct {
	Size       int64 `json:"size"`
	Multiparts int   `json:"multiparts,omitempty"`
}

// StartUploadResponse carries the presigned upload URLs.
// Simple uploads receive exactly one URL in URLs.
type StartUploadResponse struct {
	UploadID string   `json:"uploadId"`
	URLs     []string `json:"urls"`
}

// UploadedPart is one entry of the completion manifest
type UploadedPart struct {
	PartNumber int32  `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// FinishUploadRequest registers an uploaded object in the bucket
type FinishUploadRequest struct {
	UploadID string         `json:"uploadId"`
	Index    string         `json:"index"`
	Hash     string         `json:"hash"`
	Size     int64          `json:"size"`
	ETag     string         `json:"etag,omitempty"`
	Parts    []UploadedPart `json:"parts,omitempty"`
}

// FinishUploadResponse returns the network object id
type FinishUploadResponse struct {
	ID string `json:"id"`
}

// Shard describes one stored ciphertext fragment as returned by the file info endpoint
type Shard struct {
	Index int    `json:"index"`
	Hash  string `json:"hash"`
	Size  int64  `json:"size"`
	URL   string `json:"url"`
}

// FileInfoResponse describes a network object and where to fetch it from
type FileInfoResponse struct {
	ID     string  `json:"id"`
	Bucket string  `json:"bucket"`
	Index  string  `json:"index"`
	Size   int64   `json:"size"`
	Shards []Shard `json:"shards"`
}
