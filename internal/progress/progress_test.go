package progress

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptdrive/cdrive/internal/localfs"
	"github.com/cryptdrive/cdrive/internal/transfer"
)

type recordingReporter struct {
	NoOpProgress
	mu      sync.Mutex
	updates []int64
}

func (r *recordingReporter) Update(current int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, current)
}

func TestCallback(t *testing.T) {
	r := &recordingReporter{}
	cb := Callback(r, 1000)

	cb(0)
	cb(0.5)
	cb(0.99)
	cb(1.0)
	cb(1.5)
	cb(-1)

	assert.Equal(t, []int64{0, 500, 990, 1000, 1000, 0}, r.updates)
	assert.Nil(t, Callback(nil, 10))
}

func TestCLIProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgressTo(&buf)

	p.Start(2048, "Uploading report.pdf")
	p.Update(1024)
	p.SetDescription("Registering")
	p.Update(2048)
	p.Finish()
	p.Error(errors.New("boom"))

	assert.Contains(t, buf.String(), "Error: boom")
}

func TestCLIProgressBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgressTo(&buf)

	assert.NotPanics(t, func() {
		p.Update(10)
		p.SetDescription("x")
		p.Finish()
	})
	assert.Empty(t, buf.String())
}

func TestBatchUIPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	ui := newBatchUI(&buf, false, 3, "Backups")
	obs := ui.Observer()
	require.False(t, ui.IsTerminal())

	done := localfs.FileSystemNode{Kind: localfs.KindFile, Name: "a.jpg", RelativePath: "photos/2024/a.jpg", Size: 2048}
	skipped := localfs.FileSystemNode{Kind: localfs.KindFile, Name: "b.jpg", RelativePath: "photos/b.jpg", Size: 10}
	failed := localfs.FileSystemNode{Kind: localfs.KindFile, Name: "c.jpg", RelativePath: "photos/c.jpg", Size: 10}

	obs.OnFileStart(done, 1)
	obs.OnFileProgress(done, 0.5, 0)
	obs.OnFileFinish(done, transfer.FileDone, nil)

	obs.OnFileStart(skipped, 1)
	obs.OnFileFinish(skipped, transfer.FileAlreadyExists, nil)

	obs.OnFileStart(failed, 1)
	obs.OnFileStart(failed, 2)
	obs.OnFileFinish(failed, transfer.FilePermanentlyFailed, errors.New("connection reset"))

	out := buf.String()
	assert.Contains(t, out, "Uploading [1/3]: …/2024/a.jpg (2.0 KiB) → Backups")
	assert.Contains(t, out, "✓ …/2024/a.jpg → Backups")
	assert.Contains(t, out, "= photos/b.jpg: already exists, skipped")
	assert.Contains(t, out, "Retrying [3/3]: photos/c.jpg (retry 1)")
	assert.Contains(t, out, "✗ photos/c.jpg: connection reset (after 1 retries)")
	assert.Equal(t, 3, ui.Completed())
	assert.Same(t, &buf, ui.Writer())
}

func TestBatchUIRecordsSpeed(t *testing.T) {
	ui := newBatchUI(&bytes.Buffer{}, false, 1, "dest")
	obs := ui.Observer()
	node := localfs.FileSystemNode{Kind: localfs.KindFile, Name: "big.iso", RelativePath: "big.iso", Size: 1 << 20}

	obs.OnFileStart(node, 1)
	v, ok := ui.bars.Load(node.RelativePath)
	require.True(t, ok)
	fb := v.(*FileBar)

	obs.OnFileProgress(node, 0.25, 2048)
	assert.Equal(t, 2048.0, fb.Speed())

	// A zero speed (not yet measured) keeps the last value
	obs.OnFileProgress(node, 0.3, 0)
	assert.Equal(t, 2048.0, fb.Speed())

	obs.OnFileStart(node, 2)
	assert.Zero(t, fb.Speed(), "a retry starts measuring again")
}

func TestBatchUIFinishWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	ui := newBatchUI(&buf, false, 1, "Backups")

	node := localfs.FileSystemNode{Kind: localfs.KindFile, Name: "x.txt", RelativePath: "docs/x.txt", Size: 1}
	ui.Observer().OnFileFinish(node, transfer.FilePermanentlyFailed, errors.New("transfer aborted"))

	assert.Contains(t, buf.String(), "✗ docs/x.txt: transfer aborted")
	assert.Equal(t, 1, ui.Completed())
}

func TestBatchUIConcurrentEvents(t *testing.T) {
	var buf bytes.Buffer
	ui := newBatchUI(&buf, false, 20, "dest")
	obs := ui.Observer()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			node := localfs.FileSystemNode{Kind: localfs.KindFile, RelativePath: "dir/" + string(rune('a'+i)), Size: 100}
			obs.OnFileStart(node, 1)
			obs.OnFileProgress(node, 0.3, 1024)
			obs.OnFileFinish(node, transfer.FileDone, nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, ui.Completed())
	assert.Equal(t, 20, bytes.Count(buf.Bytes(), []byte("✓ ")))
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "a.txt", truncatePath("a.txt", 2))
	assert.Equal(t, "dir/a.txt", truncatePath("dir/a.txt", 2))
	assert.Equal(t, "…/c/a.txt", truncatePath("x/b/c/a.txt", 2))
}
