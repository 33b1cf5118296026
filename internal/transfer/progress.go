package transfer

import "sync"

// BatchProgress accumulates confirmed uploads across the workers of one batch run.
type BatchProgress struct {
	mu            sync.Mutex
	itemsUploaded int
	bytesUploaded int64
}

// AddItem records one registered folder or file of size bytes.
func (p *BatchProgress) AddItem(bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.itemsUploaded++
	p.bytesUploaded += bytes
}

// Snapshot returns the current counters.
func (p *BatchProgress) Snapshot() (items int, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.itemsUploaded, p.bytesUploaded
}

// FolderUUIDMap maps a folder's relative path to its remote id. Entries are
// only ever added during a batch run.
type FolderUUIDMap struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewFolderUUIDMap returns a map with "." resolved to the destination folder.
func NewFolderUUIDMap(destinationID string) *FolderUUIDMap {
	return &FolderUUIDMap{ids: map[string]string{".": destinationID}}
}

// Register records the remote id of relPath. An existing entry is kept.
func (m *FolderUUIDMap) Register(relPath, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[relPath]; !ok {
		m.ids[relPath] = id
	}
}

// Lookup returns the remote id of relPath.
func (m *FolderUUIDMap) Lookup(relPath string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[relPath]
	return id, ok
}

// Len returns the number of registered folders, the destination included.
func (m *FolderUUIDMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
