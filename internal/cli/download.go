package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/download"
	"github.com/cryptdrive/cdrive/internal/cloud/state"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/diskspace"
	"github.com/cryptdrive/cdrive/internal/models"
	"github.com/cryptdrive/cdrive/internal/progress"
	"github.com/cryptdrive/cdrive/internal/validation"
)

// downloadOptions are the flags of the download command.
type downloadOptions struct {
	output string
	resume bool
	offset int64
	length int64
}

func newDownloadCmd() *cobra.Command {
	var opts downloadOptions

	cmd := &cobra.Command{
		Use:   "download <fileId>",
		Short: "Download and decrypt a file",
		Long: `Download a drive file and decrypt it locally.

With --resume an interrupted download continues from the bytes already on
disk. --offset and --length download only a plaintext byte range.

Examples:
  cdrive download 8d2e... -o report.pdf
  cdrive download 8d2e... -o big.iso --resume
  cdrive download 8d2e... -o head.bin --offset 0 --length 4096`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.resume && (opts.offset > 0 || opts.length > 0) {
				return fmt.Errorf("--resume cannot be combined with --offset or --length")
			}
			ctx := GetContext()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			_, err = downloadFile(ctx, s, args[0], opts, progress.NewReporter(), cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output path (default: the remote name in the current directory)")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Resume an interrupted download")
	cmd.Flags().Int64Var(&opts.offset, "offset", 0, "First plaintext byte to download")
	cmd.Flags().Int64Var(&opts.length, "length", 0, "Number of bytes to download (0 = to the end)")
	return cmd
}

// downloadFile downloads the drive file fileID and returns the local path written.
func downloadFile(ctx context.Context, s *session, fileID string, opts downloadOptions, reporter progress.Reporter, out io.Writer) (string, error) {
	file, err := s.drive.GetFile(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to get file %s: %w", fileID, err)
	}

	localPath, err := resolveOutputPath(opts.output, file.Name)
	if err != nil {
		return "", err
	}

	key, err := fileKey(s, file)
	if err != nil {
		return "", err
	}

	ranged := opts.offset > 0 || opts.length > 0
	var (
		start int64
		sink  io.WriteCloser
	)
	if ranged {
		sink, err = os.Create(localPath)
		start = opts.offset
	} else {
		sink, start, err = openResumable(s, file, localPath, opts.resume)
	}
	if err != nil {
		return "", err
	}

	if !ranged && start == file.Size && file.Size > 0 {
		sink.Close()
		_ = state.DeleteDownloadState(localPath)
		fmt.Fprintf(out, "✓ %s is already complete\n", localPath)
		return localPath, nil
	}

	need := file.Size - start
	if ranged && opts.length > 0 && opts.length < need {
		need = opts.length
	}
	if err := diskspace.CheckDownload(localPath, need); err != nil {
		sink.Close()
		return "", err
	}

	if start > 0 && !ranged {
		s.logger.Info().Str("file", file.Name).Int64("offset", start).Msg("resuming download")
	}
	reporter.Start(need, "Downloading "+file.Name)
	started := time.Now()

	err = s.downloader().Download(ctx, download.Params{
		BucketID:    bucketOf(s, file),
		FileID:      file.FileID,
		Key:         key,
		Size:        file.Size,
		Sink:        sink,
		StartOffset: start,
		RangeLength: opts.length,
		Concurrency: s.cfg.ShardConcurrency,
		Progress:    progress.Callback(reporter, need),
	})
	if err != nil {
		reporter.Error(err)
		if !ranged {
			s.logger.Warn().Str("path", localPath).Msg("download interrupted, rerun with --resume to continue")
		}
		return "", err
	}
	reporter.Finish()

	if !ranged {
		if err := state.DeleteDownloadState(localPath); err != nil {
			s.logger.Warn().Err(err).Msg("failed to remove resume state")
		}
	}

	fmt.Fprintf(out, "✓ Downloaded %s → %s (%s, %s)\n",
		file.Name, localPath, cloud.FormatBytes(need), time.Since(started).Round(time.Millisecond))
	return localPath, nil
}

// openResumable opens localPath for a whole-file download. With resume and a valid
// sidecar the file is appended to; otherwise it is truncated and a new sidecar started.
func openResumable(s *session, file *models.DriveFile, localPath string, resume bool) (io.WriteCloser, int64, error) {
	var start int64
	resumeState := &state.DownloadResumeState{
		LocalPath: localPath,
		BucketID:  bucketOf(s, file),
		FileID:    file.ID,
		Size:      file.Size,
		CreatedAt: time.Now(),
	}

	if resume && state.DownloadResumeStateExists(localPath) {
		saved, err := state.LoadDownloadState(localPath)
		if err == nil {
			start, err = state.ValidateDownloadState(saved, localPath, file.ID, file.Size)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("cannot resume, starting over")
			start = 0
		} else {
			resumeState = saved
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if start > 0 {
		flags = os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(localPath, flags, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", localPath, err)
	}

	resumeState.BytesWritten = start
	if err := state.SaveDownloadState(resumeState, localPath); err != nil {
		f.Close()
		return nil, 0, err
	}
	return state.NewCheckpointWriter(f, resumeState, state.DefaultCheckpointInterval), start, nil
}

// resolveOutputPath returns output, or name inside output when output is a directory.
func resolveOutputPath(output, name string) (string, error) {
	if err := validation.ValidateRemoteName(name); err != nil {
		return "", err
	}
	if output == "" {
		return filepath.Abs(name)
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		joined := filepath.Join(output, name)
		if err := validation.ValidatePathInDirectory(joined, output); err != nil {
			return "", err
		}
		return filepath.Abs(joined)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return filepath.Abs(output)
}

func fileKey(s *session, file *models.DriveFile) (encryption.TransferKey, error) {
	index, err := encryption.DecodeIndex(file.Index)
	if err != nil {
		return encryption.TransferKey{}, fmt.Errorf("file %s has an invalid index: %w", file.ID, err)
	}
	return s.deriver.DeriveFileKey(s.cfg.Mnemonic, bucketOf(s, file), index)
}

func bucketOf(s *session, file *models.DriveFile) string {
	if file.BucketID != "" {
		return file.BucketID
	}
	return s.cfg.BucketID
}
