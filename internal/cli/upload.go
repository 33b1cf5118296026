package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/localfs"
	"github.com/cryptdrive/cdrive/internal/models"
	"github.com/cryptdrive/cdrive/internal/progress"
	"github.com/cryptdrive/cdrive/internal/transfer"
)

func newUploadCmd() *cobra.Command {
	var folderID string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Encrypt and upload a single file",
		Long: `Encrypt and upload a single file into a drive folder.

Files of 100 MiB and more are uploaded in parts (see --part-concurrency).

Example:
  cdrive upload report.pdf --folder 6f1c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			dest, err := s.folderOrRoot(folderID)
			if err != nil {
				return err
			}
			_, err = uploadSingleFile(ctx, s, args[0], dest, progress.NewReporter(), cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "Destination folder ID (default: root_folder_id)")
	return cmd
}

func newUploadFolderCmd() *cobra.Command {
	var (
		folderID      string
		excludes      []string
		includeHidden bool
		maxRetries    int
	)

	cmd := &cobra.Command{
		Use:   "upload-folder <dir>",
		Short: "Encrypt and upload a directory tree",
		Long: `Upload a local directory tree into a drive folder.

The remote tree mirrors the local one: the directory itself becomes a folder
below --folder. Folders that already exist are reused and files that already
exist are skipped. Failed files are retried and listed at the end; one failing
file never stops the others.

Examples:
  cdrive upload-folder ./photos --folder 6f1c...
  cdrive upload-folder ./project --exclude "**/node_modules" --exclude "*.tmp"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			dest, err := s.folderOrRoot(folderID)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-retries") {
				s.cfg.MaxRetries = maxRetries
			}

			opts := localfs.WalkOptions{
				IncludeHidden:  includeHidden,
				SkipHiddenDirs: !includeHidden,
				Excludes:       excludes,
			}
			report, err := uploadFolder(ctx, s, args[0], dest, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if report.HasFailures() {
				return fmt.Errorf("%d files and %d folders failed to upload", report.Failed, report.FoldersFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "Destination folder ID (default: root_folder_id)")
	cmd.Flags().StringArrayVar(&excludes, "exclude", nil, "Glob pattern to skip (repeatable, ** supported)")
	cmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "Upload hidden files and directories")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retries per file after the first attempt (default: config value)")
	return cmd
}

// uploadSingleFile uploads localPath into folderID and prints the new drive entry.
func uploadSingleFile(ctx context.Context, s *session, localPath, folderID string, reporter progress.Reporter, out io.Writer) (*models.DriveFile, error) {
	absPath, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", localPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", localPath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("'%s' is a directory, not a file. Use 'upload-folder' to upload directories", localPath)
	}

	node := localfs.FileSystemNode{
		Kind:         localfs.KindFile,
		Name:         info.Name(),
		RelativePath: info.Name(),
		AbsolutePath: absPath,
		Size:         info.Size(),
	}

	reporter.Start(info.Size(), "Uploading "+info.Name())
	file, err := s.batchUploader().UploadFile(ctx, transfer.SingleUpload{
		BucketID: s.cfg.BucketID,
		FolderID: folderID,
		Node:     node,
		KeyFor:   s.keys(),
		Progress: progress.Callback(reporter, info.Size()),
	})
	if err != nil {
		reporter.Error(err)
		if storage.IsAlreadyExists(err) {
			return nil, fmt.Errorf("%s already exists in folder %s", info.Name(), folderID)
		}
		return nil, err
	}
	reporter.Finish()

	s.logger.Info().Str("file", info.Name()).Str("id", file.ID).Msg("upload complete")
	fmt.Fprintf(out, "✓ Uploaded %s (%s) → folder %s (ID: %s)\n", info.Name(), cloud.FormatBytes(file.Size), folderID, file.ID)
	return file, nil
}

// uploadFolder walks dir and runs a batch upload of the tree into folderID.
func uploadFolder(ctx context.Context, s *session, dir, folderID string, opts localfs.WalkOptions, out io.Writer) (*transfer.BatchReport, error) {
	nodes, err := localfs.BuildUploadTree(dir, opts)
	if err != nil {
		return nil, err
	}
	files := localfs.CountFiles(nodes)
	fmt.Fprintf(out, "Uploading %d files (%s) from %s\n", files, cloud.FormatBytes(localfs.TotalSize(nodes)), dir)

	ui := progress.NewBatchUI(files, folderID)
	report := s.batchUploader().Run(ctx, transfer.BatchParams{
		DestinationFolderID:  folderID,
		BucketID:             s.cfg.BucketID,
		Nodes:                nodes,
		MaxConcurrentUploads: s.cfg.MaxConcurrentUploads,
		MaxRetries:           s.cfg.MaxRetries,
		RetryDelays:          s.cfg.RetryDelays,
		KeyFor:               s.keys(),
		Observer:             ui.Observer(),
	})
	ui.Wait()

	fmt.Fprintln(out, report.Summary())
	for _, fe := range report.Errors {
		fmt.Fprintf(out, "  ✗ %s\n", fe.Error())
	}
	return report, nil
}
