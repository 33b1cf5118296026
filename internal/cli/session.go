package cli

import (
	"context"
	"fmt"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/download"
	"github.com/cryptdrive/cdrive/internal/cloud/providers"
	"github.com/cryptdrive/cdrive/internal/cloud/transport"
	"github.com/cryptdrive/cdrive/internal/cloud/upload"
	"github.com/cryptdrive/cdrive/internal/config"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/http"
	"github.com/cryptdrive/cdrive/internal/logging"
	"github.com/cryptdrive/cdrive/internal/transfer"
)

// session holds the collaborators of one transfer command.
type session struct {
	cfg       *config.Config
	logger    *logging.Logger
	network   cloud.NetworkAPI
	drive     cloud.DriveAPI
	uploads   transport.UploadTransport
	downloads transport.DownloadTransport
	deriver   cloud.KeyDeriver
}

// loadConfig loads the configuration file and applies the global flags.
// Priority: flags > environment > config file > defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.MergeWithFlags(config.Overrides{
		Token:                token,
		APIBaseURL:           apiBaseURL,
		PartConcurrency:      partConcurrency,
		MaxConcurrentUploads: maxConcurrentUploads,
	})
	return cfg, nil
}

// newSession loads and validates the config, then wires the storage backend and
// the presigned-URL transport.
func newSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := GetLogger()
	backend, err := providers.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Backend, err)
	}

	httpClient, err := http.CreateOptimizedClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer client: %w", err)
	}
	tr := transport.New(httpClient, log)

	log.Debug().Str("backend", backend.Name).Msg("session ready")
	return &session{
		cfg:       cfg,
		logger:    log,
		network:   backend.Network,
		drive:     backend.Drive,
		uploads:   tr,
		downloads: tr,
		deriver:   encryption.MnemonicKeyDeriver{},
	}, nil
}

func (s *session) batchUploader() *transfer.BatchUploader {
	engine := transfer.NewEngineUploader(
		upload.NewSimpleUploader(s.network, s.uploads, s.logger),
		upload.NewMultipartUploader(s.network, s.uploads, s.logger),
		s.cfg.MultipartThreshold,
		s.cfg.PartConcurrency,
	)
	return transfer.NewBatchUploader(s.drive, engine, s.logger)
}

func (s *session) keys() transfer.KeyFunc {
	return transfer.MnemonicKeys(s.deriver, s.cfg.Mnemonic, s.cfg.BucketID)
}

func (s *session) downloader() *download.Downloader {
	return download.NewDownloader(s.network, s.downloads, s.logger)
}

// folderOrRoot returns folderID, falling back to the configured root folder.
func (s *session) folderOrRoot(folderID string) (string, error) {
	if folderID != "" {
		return folderID, nil
	}
	if s.cfg.RootFolderID != "" {
		return s.cfg.RootFolderID, nil
	}
	return "", fmt.Errorf("destination folder is required (use --folder or set root_folder_id)")
}
