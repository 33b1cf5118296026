package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/cryptdrive/cdrive/internal/constants"
	"github.com/cryptdrive/cdrive/internal/localfs"
	"github.com/cryptdrive/cdrive/internal/transfer"
)

// BatchUI renders a folder upload. On a terminal every in-flight file gets an mpb
// bar; otherwise one plain line is printed per file event.
type BatchUI struct {
	progress   *mpb.Progress
	out        io.Writer
	outMu      sync.Mutex
	bars       sync.Map // relative path -> *FileBar
	isTerminal bool
	totalFiles int
	destLabel  string
	started    int32
	completed  int32
}

// FileBar is the progress of one file in a batch.
type FileBar struct {
	bar        *mpb.Bar
	ui         *BatchUI
	index      int
	path       string
	size       int64
	mu         sync.Mutex
	retries    int32
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	speed      float64 // bytes/sec as smoothed by the transfer task
}

// NewBatchUI creates a batch UI on stderr. destLabel names the destination folder in output lines.
func NewBatchUI(totalFiles int, destLabel string) *BatchUI {
	return newBatchUI(os.Stderr, StderrIsTerminal(), totalFiles, destLabel)
}

func newBatchUI(out io.Writer, isTerminal bool, totalFiles int, destLabel string) *BatchUI {
	var p *mpb.Progress
	if isTerminal {
		if f, ok := out.(*os.File); ok {
			enableWindowsANSI(f)
		}
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	}

	return &BatchUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
		destLabel:  destLabel,
	}
}

// Observer returns the callbacks to hand to the batch uploader.
func (u *BatchUI) Observer() transfer.Observer {
	return transfer.Observer{
		OnFileStart:    u.onFileStart,
		OnFileProgress: u.onFileProgress,
		OnFileFinish:   u.onFileFinish,
	}
}

func (u *BatchUI) onFileStart(node localfs.FileSystemNode, attempt int) {
	if v, ok := u.bars.Load(node.RelativePath); ok {
		v.(*FileBar).retry(attempt - 1)
		return
	}
	u.bars.Store(node.RelativePath, u.addFileBar(node))
}

func (u *BatchUI) onFileProgress(node localfs.FileSystemNode, fraction, bytesPerSec float64) {
	if v, ok := u.bars.Load(node.RelativePath); ok {
		v.(*FileBar).UpdateProgress(fraction, bytesPerSec)
	}
}

func (u *BatchUI) onFileFinish(node localfs.FileSystemNode, state transfer.FileState, err error) {
	v, ok := u.bars.Load(node.RelativePath)
	if !ok {
		// Files that fail before their first attempt (cancellation, orphaned parents)
		v = u.addFileBar(node)
	}
	v.(*FileBar).complete(state, err)
	u.bars.Delete(node.RelativePath)
}

func (u *BatchUI) addFileBar(node localfs.FileSystemNode) *FileBar {
	index := int(atomic.AddInt32(&u.started, 1))
	now := time.Now()
	fb := &FileBar{
		ui:         u,
		index:      index,
		path:       node.RelativePath,
		size:       node.Size,
		startTime:  now,
		lastUpdate: now,
	}

	label := truncatePath(node.RelativePath, 2)
	if u.isTerminal {
		fb.bar = u.progress.New(node.Size,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					base := fmt.Sprintf("[%d/%d] %s (%s)", fb.index, u.totalFiles, label, humanize.IBytes(uint64(fb.size)))
					if retries := atomic.LoadInt32(&fb.retries); retries > 0 {
						return fmt.Sprintf("%s (retry %d)", base, retries)
					}
					return base
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.Any(func(decor.Statistics) string {
					return humanize.IBytes(uint64(fb.Speed())) + "/s"
				}, decor.WCSyncSpace),
				decor.Name("  "),
				decor.Name("ETA ", decor.WCSyncWidth),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		u.printf("Uploading [%d/%d]: %s (%s) → %s\n",
			fb.index, u.totalFiles, label, humanize.IBytes(uint64(node.Size)), u.destLabel)
	}
	return fb
}

// UpdateProgress moves the bar to fraction of the file size and records the
// current speed. Bar updates closer together than the refresh interval are coalesced.
func (f *FileBar) UpdateProgress(fraction, bytesPerSec float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bytesPerSec > 0 {
		f.speed = bytesPerSec
	}
	if f.bar == nil {
		return
	}

	now := time.Now()
	elapsed := now.Sub(f.lastUpdate)
	if elapsed < constants.ProgressUpdateInterval && fraction < 1 {
		return
	}

	current := int64(fraction * float64(f.size))
	if delta := current - f.lastBytes; delta > 0 {
		f.bar.EwmaIncrBy(int(delta), elapsed)
		f.lastBytes = current
	}
	f.lastUpdate = now
}

// Speed returns the last reported speed in bytes/sec.
func (f *FileBar) Speed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

func (f *FileBar) retry(count int) {
	atomic.StoreInt32(&f.retries, int32(count))
	f.mu.Lock()
	f.lastBytes = 0
	f.speed = 0
	f.lastUpdate = time.Now()
	f.mu.Unlock()

	if f.bar != nil {
		f.bar.SetCurrent(0)
		return
	}
	f.ui.printf("Retrying [%d/%d]: %s (retry %d)\n", f.index, f.ui.totalFiles, truncatePath(f.path, 2), count)
}

func (f *FileBar) complete(state transfer.FileState, err error) {
	elapsed := time.Since(f.startTime)
	label := truncatePath(f.path, 2)

	var msg string
	switch state {
	case transfer.FileDone:
		if f.bar != nil {
			f.bar.SetCurrent(f.size)
			f.bar.SetTotal(f.size, true)
		}
		msg = fmt.Sprintf("✓ %s → %s (%s, %s, %s)\n",
			label, f.ui.destLabel, humanize.IBytes(uint64(f.size)), elapsed.Round(time.Second), rate(f.size, elapsed))
	case transfer.FileAlreadyExists:
		if f.bar != nil {
			f.bar.Abort(true)
		}
		msg = fmt.Sprintf("= %s: already exists, skipped\n", label)
	default:
		if f.bar != nil {
			f.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v (after %d retries)\n", label, err, atomic.LoadInt32(&f.retries))
	}

	f.ui.printf("%s", msg)
	atomic.AddInt32(&f.ui.completed, 1)
}

// Completed returns the number of files that reached a terminal state.
func (u *BatchUI) Completed() int {
	return int(atomic.LoadInt32(&u.completed))
}

// Wait blocks until all progress bars complete
func (u *BatchUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that safely prints above the progress bars.
func (u *BatchUI) Writer() io.Writer {
	if u.progress != nil {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if output is to a terminal (progress bars are active).
func (u *BatchUI) IsTerminal() bool {
	return u.isTerminal
}

func (u *BatchUI) printf(format string, args ...interface{}) {
	if u.progress != nil {
		// Through mpb so that the line lands above the bars
		fmt.Fprintf(u.progress, format, args...)
		return
	}
	u.outMu.Lock()
	defer u.outMu.Unlock()
	fmt.Fprintf(u.out, format, args...)
}

func rate(size int64, elapsed time.Duration) string {
	if elapsed <= 0 || size <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(float64(size)/elapsed.Seconds())) + "/s"
}

// truncatePath keeps the last maxComponents elements of a slash path.
// Example: truncatePath("a/b/c/d/file.txt", 2) → "…/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return path
	}
	return "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
}

var _ LineWriter = (*BatchUI)(nil)
