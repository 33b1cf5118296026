package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/constants"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/localfs"
	"github.com/cryptdrive/cdrive/internal/logging"
	"github.com/cryptdrive/cdrive/internal/models"
)

// Observer receives per-file events of a batch run. Nil callbacks are skipped.
// Callbacks are invoked from worker goroutines.
type Observer struct {
	OnFileStart    func(node localfs.FileSystemNode, attempt int)
	OnFileProgress func(node localfs.FileSystemNode, fraction, bytesPerSec float64)
	OnFileFinish   func(node localfs.FileSystemNode, state FileState, err error)
}

// BatchParams configures one batch run.
type BatchParams struct {
	DestinationFolderID string
	BucketID            string
	Nodes               []localfs.FileSystemNode

	// MaxConcurrentUploads is the batch width; 0 uses constants.DefaultMaxConcurrentUploads
	MaxConcurrentUploads int
	// MaxRetries is the number of retries after the first attempt; negative counts as 0
	MaxRetries int
	// RetryDelays[n] is the wait before retry n+1; the last value repeats. Empty uses
	// constants.DefaultBatchRetryDelays
	RetryDelays []time.Duration

	KeyFor   KeyFunc
	Observer Observer
}

// FileError is the final error of one failed file.
type FileError struct {
	RelativePath string
	Err          error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.RelativePath, e.Err)
}

// BatchReport summarizes a batch run. A run always produces a report; per-file
// failures are listed here rather than returned as an error.
type BatchReport struct {
	FoldersCreated int // new remote folders
	FoldersSkipped int // folders that already existed and were reused
	FoldersFailed  int // orphaned or rejected folders

	Done    int
	Skipped int // files that already existed remotely
	Failed  int

	FailedPaths []string
	Errors      []FileError

	BytesUploaded int64
	ItemsUploaded int
	Duration      time.Duration
}

// HasFailures reports whether any folder or file failed.
func (r *BatchReport) HasFailures() bool {
	return r.Failed > 0 || r.FoldersFailed > 0
}

// Summary returns a one-line description of the run.
func (r *BatchReport) Summary() string {
	return fmt.Sprintf("%d uploaded, %d skipped, %d failed (%s in %s); folders: %d created, %d existing, %d failed",
		r.Done, r.Skipped, r.Failed, cloud.FormatBytes(r.BytesUploaded), r.Duration.Round(time.Millisecond),
		r.FoldersCreated, r.FoldersSkipped, r.FoldersFailed)
}

// BatchUploader uploads directory trees into the drive.
type BatchUploader struct {
	drive    cloud.DriveAPI
	uploader FileUploader
	logger   *logging.Logger
}

// NewBatchUploader creates a batch uploader.
func NewBatchUploader(drive cloud.DriveAPI, uploader FileUploader, logger *logging.Logger) *BatchUploader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BatchUploader{
		drive:    drive,
		uploader: uploader,
		logger:   logger.Component("batch"),
	}
}

// Run uploads p.Nodes below p.DestinationFolderID. Folders are created first,
// sequentially and parents before children; files then upload in batches of
// MaxConcurrentUploads, where a failing file never cancels its siblings.
// Cancelling ctx stops scheduling; files not yet finished are reported failed
// with a TransferAbortedError.
func (b *BatchUploader) Run(ctx context.Context, p BatchParams) *BatchReport {
	start := time.Now()
	p = withBatchDefaults(p)

	report := &BatchReport{}
	progress := &BatchProgress{}
	folderIDs := NewFolderUUIDMap(p.DestinationFolderID)

	var folders, files []localfs.FileSystemNode
	for _, node := range p.Nodes {
		if node.Kind == localfs.KindFolder {
			folders = append(folders, node)
		} else {
			files = append(files, node)
		}
	}

	b.createFolders(ctx, folders, folderIDs, progress, report)

	tasks := make([]*FileTask, len(files))
	for i, node := range files {
		tasks[i] = NewFileTask(node)
	}

	for begin := 0; begin < len(tasks); begin += p.MaxConcurrentUploads {
		end := begin + p.MaxConcurrentUploads
		if end > len(tasks) {
			end = len(tasks)
		}

		if ctx.Err() != nil {
			for _, task := range tasks[begin:] {
				b.finish(p, task, task.Fail(&storage.TransferAbortedError{Op: "batch upload", Cause: context.Cause(ctx)}))
			}
			break
		}

		var wg sync.WaitGroup
		for _, task := range tasks[begin:end] {
			wg.Add(1)
			go func(task *FileTask) {
				defer wg.Done()
				b.runFile(ctx, p, task, folderIDs, progress)
			}(task)
		}
		wg.Wait()
	}

	for _, task := range tasks {
		switch task.State() {
		case FileDone:
			report.Done++
		case FileAlreadyExists:
			report.Skipped++
		default:
			report.Failed++
			report.FailedPaths = append(report.FailedPaths, task.Node.RelativePath)
			report.Errors = append(report.Errors, FileError{RelativePath: task.Node.RelativePath, Err: task.Err()})
		}
	}

	report.ItemsUploaded, report.BytesUploaded = progress.Snapshot()
	report.Duration = time.Since(start)

	b.logger.Info().
		Int("done", report.Done).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("folders_created", report.FoldersCreated).
		Str("bytes", cloud.FormatBytes(report.BytesUploaded)).
		Dur("duration", report.Duration).
		Msg("batch upload finished")

	return report
}

func withBatchDefaults(p BatchParams) BatchParams {
	if p.MaxConcurrentUploads < 1 {
		p.MaxConcurrentUploads = constants.DefaultMaxConcurrentUploads
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if len(p.RetryDelays) == 0 {
		p.RetryDelays = constants.DefaultBatchRetryDelays
	}
	return p
}

// createFolders registers every folder whose parent resolves. Folders arrive
// ordered by depth, so a parent is always attempted before its children.
func (b *BatchUploader) createFolders(ctx context.Context, folders []localfs.FileSystemNode, ids *FolderUUIDMap, progress *BatchProgress, report *BatchReport) {
	for _, node := range folders {
		if ctx.Err() != nil {
			return
		}

		parentID, ok := ids.Lookup(node.ParentPath())
		if !ok {
			b.logger.Warn().Str("path", node.RelativePath).Msg("orphan folder, parent was not created")
			report.FoldersFailed++
			continue
		}

		folder, err := b.drive.CreateFolder(ctx, node.Name, parentID)
		switch {
		case err == nil:
			ids.Register(node.RelativePath, folder.ID)
			progress.AddItem(0)
			report.FoldersCreated++
			b.logger.Debug().Str("path", node.RelativePath).Str("id", folder.ID).Msg("folder created")

		case storage.IsAlreadyExists(err):
			existing, ferr := b.drive.FindFolder(ctx, node.Name, parentID)
			if ferr != nil {
				b.logger.Warn().Err(ferr).Str("path", node.RelativePath).Msg("folder exists but could not be resolved")
				report.FoldersFailed++
				continue
			}
			ids.Register(node.RelativePath, existing.ID)
			report.FoldersSkipped++
			b.logger.Debug().Str("path", node.RelativePath).Str("id", existing.ID).Msg("folder already exists")

		default:
			b.logger.Warn().Err(err).Str("path", node.RelativePath).Msg("failed to create folder")
			report.FoldersFailed++
		}
	}
}

func (b *BatchUploader) runFile(ctx context.Context, p BatchParams, task *FileTask, ids *FolderUUIDMap, progress *BatchProgress) {
	node := task.Node

	parentID, ok := ids.Lookup(node.ParentPath())
	if !ok {
		b.logger.Warn().Str("path", node.RelativePath).Msg("orphan file, parent folder was not created")
		b.finish(p, task, task.Fail(fmt.Errorf("parent folder %s was not created", node.ParentPath())))
		return
	}

	for retry := 0; ; retry++ {
		if err := task.Transition(FileUploading); err != nil {
			b.finish(p, task, err)
			return
		}
		if p.Observer.OnFileStart != nil {
			p.Observer.OnFileStart(node, task.Attempts())
		}

		file, err := b.UploadFile(ctx, SingleUpload{
			BucketID: p.BucketID,
			FolderID: parentID,
			Node:     node,
			KeyFor:   p.KeyFor,
			Progress: func(fraction float64) {
				task.UpdateProgress(fraction)
				if p.Observer.OnFileProgress != nil {
					p.Observer.OnFileProgress(node, fraction, task.Speed())
				}
			},
		})
		if err == nil {
			progress.AddItem(file.Size)
			b.finish(p, task, task.Transition(FileDone))
			return
		}

		if storage.IsAlreadyExists(err) {
			b.logger.Info().Str("path", node.RelativePath).Msg("file already exists, skipping")
			task.SetLastError(err)
			b.finish(p, task, task.Transition(FileAlreadyExists))
			return
		}

		if ctx.Err() != nil || storage.IsAborted(err) {
			b.finish(p, task, task.Fail(storage.AbortedOr(ctx, "batch upload", err)))
			return
		}

		if retry >= p.MaxRetries || !retryable(err) {
			b.logger.Error().Err(err).Str("path", node.RelativePath).Int("attempts", task.Attempts()).Msg("file upload failed permanently")
			b.finish(p, task, task.Fail(err))
			return
		}

		task.SetLastError(err)
		if terr := task.Transition(FileRetryScheduled); terr != nil {
			b.finish(p, task, terr)
			return
		}
		delay := retryDelay(p.RetryDelays, retry)
		b.logger.Warn().Err(err).Str("path", node.RelativePath).Int("attempt", task.Attempts()).Dur("delay", delay).Msg("file upload failed, retrying")

		if err := sleepContext(ctx, delay); err != nil {
			b.finish(p, task, task.Fail(&storage.TransferAbortedError{Op: "batch upload", Cause: context.Cause(ctx)}))
			return
		}
	}
}

// finish reports the task's terminal state to the observer. A non-nil transErr
// is an illegal state transition and is logged.
func (b *BatchUploader) finish(p BatchParams, task *FileTask, transErr error) {
	if transErr != nil {
		b.logger.Error().Err(transErr).Msg("file state transition rejected")
	}
	if p.Observer.OnFileFinish != nil {
		p.Observer.OnFileFinish(task.Node, task.State(), task.Err())
	}
}

// retryable rejects failures that a new attempt cannot fix.
func retryable(err error) bool {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || storage.IsDiskFullError(err) {
		return false
	}
	return storage.IsRetryable(err)
}

func retryDelay(delays []time.Duration, retry int) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	if retry >= len(delays) {
		retry = len(delays) - 1
	}
	return delays[retry]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SingleUpload describes one local file to upload and register.
type SingleUpload struct {
	BucketID string
	FolderID string
	Node     localfs.FileSystemNode
	KeyFor   KeyFunc
	Progress cloud.ProgressCallback
}

// UploadFile encrypts and uploads one local file, then registers it in FolderID.
// It makes a single attempt; a conflicting name surfaces as *storage.AlreadyExistsError.
func (b *BatchUploader) UploadFile(ctx context.Context, s SingleUpload) (*models.DriveFile, error) {
	f, err := os.Open(s.Node.AbsolutePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Node.AbsolutePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", s.Node.AbsolutePath, err)
	}

	key, index, err := s.KeyFor(s.Node)
	if err != nil {
		return nil, err
	}

	result, err := b.uploader.Upload(ctx, FileUpload{
		BucketID: s.BucketID,
		Key:      key,
		Index:    index,
		Size:     info.Size(),
		Source:   f,
		Progress: s.Progress,
	})
	if err != nil {
		return nil, err
	}

	file, err := b.drive.CreateFile(ctx, models.CreateFileRequest{
		Name:     s.Node.Name,
		Type:     strings.TrimPrefix(filepath.Ext(s.Node.Name), "."),
		FolderID: s.FolderID,
		BucketID: s.BucketID,
		FileID:   result.RemoteFileID,
		Size:     result.Size,
		Index:    encryption.EncodeIndex(index),
		Hash:     result.ContentHash,
	})
	if err != nil {
		return nil, storage.AbortedOr(ctx, "register file", err)
	}
	if file.Size == 0 {
		file.Size = result.Size
	}
	return file, nil
}
