// Package providers selects the storage backend from the configuration.
package providers

import (
	"context"
	"fmt"

	"github.com/cryptdrive/cdrive/internal/api"
	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/providers/s3"
	"github.com/cryptdrive/cdrive/internal/config"
	"github.com/cryptdrive/cdrive/internal/http"
	"github.com/cryptdrive/cdrive/internal/logging"
)

// Backend bundles the network and drive APIs of one storage backend.
type Backend struct {
	Name    string
	Network cloud.NetworkAPI
	Drive   cloud.DriveAPI
}

// New creates the backend named by cfg.Backend.
//
//   - "api": the HTTP network and drive APIs at cfg.APIBaseURL
//   - "s3": presigned URLs and JSON drive entries in cfg.S3.Bucket
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendAPI, "":
		client, err := api.NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: config.BackendAPI, Network: client, Drive: client}, nil

	case config.BackendS3:
		httpClient, err := http.ConfigureHTTPClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		client, err := s3.NewClient(ctx, cfg.S3, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: config.BackendS3, Network: s3.NewNetwork(client), Drive: s3.NewDrive(client)}, nil

	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
