// Package config provides configuration management for cdrive.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cryptdrive/cdrive/internal/constants"
)

// EnvPrefix is the prefix of every environment variable override (CDRIVE_TOKEN, CDRIVE_S3_BUCKET, ...)
const EnvPrefix = "CDRIVE"

// Backends accepted in Config.Backend
const (
	BackendAPI = "api" // network API hands out presigned URLs
	BackendS3  = "s3"  // presign directly against an S3-compatible bucket
)

// DefaultAPIBaseURL is the network and drive API endpoint used when none is configured
const DefaultAPIBaseURL = "https://api.cdrive.example"

// S3Config configures the S3 presigning backend
type S3Config struct {
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// Config represents the cdrive configuration
type Config struct {
	// API settings
	APIBaseURL string `mapstructure:"api_url"`
	Token      string `mapstructure:"token"`

	// Account settings
	Mnemonic     string `mapstructure:"mnemonic"`
	BucketID     string `mapstructure:"bucket_id"`
	RootFolderID string `mapstructure:"root_folder_id"`

	// Storage backend
	Backend string   `mapstructure:"backend"`
	S3      S3Config `mapstructure:"s3"`

	// Proxy settings
	ProxyMode     string `mapstructure:"proxy_mode"` // "no-proxy", "ntlm", "basic", "system"
	ProxyHost     string `mapstructure:"proxy_host"`
	ProxyPort     int    `mapstructure:"proxy_port"`
	ProxyUser     string `mapstructure:"proxy_user"`
	ProxyPassword string `mapstructure:"proxy_password"`
	NoProxy       string `mapstructure:"no_proxy"` // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool   `mapstructure:"proxy_warmup"`

	// Transfer settings
	PartConcurrency      int             `mapstructure:"part_concurrency"`
	ShardConcurrency     int             `mapstructure:"shard_concurrency"`
	MaxConcurrentUploads int             `mapstructure:"max_concurrent_uploads"`
	MaxRetries           int             `mapstructure:"max_retries"`
	RetryDelays          []time.Duration `mapstructure:"retry_delays"`
	MultipartThreshold   int64           `mapstructure:"multipart_threshold"`

	// API client settings
	APIMaxRetries int     `mapstructure:"api_max_retries"`
	RateLimit     float64 `mapstructure:"rate_limit"`
}

// setDefaults registers every key so that AutomaticEnv can resolve nested keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", DefaultAPIBaseURL)
	v.SetDefault("token", "")
	v.SetDefault("mnemonic", "")
	v.SetDefault("bucket_id", "")
	v.SetDefault("root_folder_id", "")

	v.SetDefault("backend", BackendAPI)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "cdrive")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.use_path_style", false)

	v.SetDefault("proxy_mode", "no-proxy")
	v.SetDefault("proxy_host", "")
	v.SetDefault("proxy_port", 0)
	v.SetDefault("proxy_user", "")
	v.SetDefault("proxy_password", "")
	v.SetDefault("no_proxy", "")
	v.SetDefault("proxy_warmup", false)

	v.SetDefault("part_concurrency", constants.DefaultPartConcurrency)
	v.SetDefault("shard_concurrency", constants.DefaultShardConcurrency)
	v.SetDefault("max_concurrent_uploads", constants.DefaultMaxConcurrentUploads)
	v.SetDefault("max_retries", constants.DefaultBatchMaxRetries)
	v.SetDefault("retry_delays", durationsToStrings(constants.DefaultBatchRetryDelays))
	v.SetDefault("multipart_threshold", constants.MultipartThreshold)

	v.SetDefault("api_max_retries", constants.MaxRetries)
	v.SetDefault("rate_limit", constants.APIRatePerSec)
}

// NewDefaultConfig returns a config holding only defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from file and environment variables.
// If path is empty, the default config path is used and a missing file is not an error.
//
// Precedence (highest to lowest):
//  1. CLI flags (applied afterwards with MergeWithFlags)
//  2. CDRIVE_* environment variables
//  3. Configuration file
//  4. Default values
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = GetDefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory if needed.
// The file is written with 0600 permissions since it holds the token and mnemonic.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range cfg.toMap() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Chmod(path, 0600)
}

func (c *Config) toMap() map[string]interface{} {
	return map[string]interface{}{
		"api_url":                c.APIBaseURL,
		"token":                  c.Token,
		"mnemonic":               c.Mnemonic,
		"bucket_id":              c.BucketID,
		"root_folder_id":         c.RootFolderID,
		"backend":                c.Backend,
		"s3.endpoint":            c.S3.Endpoint,
		"s3.region":              c.S3.Region,
		"s3.bucket":              c.S3.Bucket,
		"s3.prefix":              c.S3.Prefix,
		"s3.access_key":          c.S3.AccessKey,
		"s3.secret_key":          c.S3.SecretKey,
		"s3.use_path_style":      c.S3.UsePathStyle,
		"proxy_mode":             c.ProxyMode,
		"proxy_host":             c.ProxyHost,
		"proxy_port":             c.ProxyPort,
		"proxy_user":             c.ProxyUser,
		"no_proxy":               c.NoProxy,
		"proxy_warmup":           c.ProxyWarmup,
		"part_concurrency":       c.PartConcurrency,
		"shard_concurrency":      c.ShardConcurrency,
		"max_concurrent_uploads": c.MaxConcurrentUploads,
		"max_retries":            c.MaxRetries,
		"retry_delays":           durationsToStrings(c.RetryDelays),
		"multipart_threshold":    c.MultipartThreshold,
		"api_max_retries":        c.APIMaxRetries,
		"rate_limit":             c.RateLimit,
	}
}

// Overrides holds CLI flag values. Zero values leave the config untouched.
type Overrides struct {
	Token                string
	APIBaseURL           string
	ProxyMode            string
	ProxyHost            string
	ProxyPort            int
	PartConcurrency      int
	MaxConcurrentUploads int
	MaxRetries           *int // nil when the flag was not given; 0 is a valid retry count
}

// MergeWithFlags applies CLI flags on top of file and environment values.
func (c *Config) MergeWithFlags(o Overrides) {
	if o.Token != "" {
		c.Token = o.Token
	}
	if o.APIBaseURL != "" {
		c.APIBaseURL = o.APIBaseURL
	}
	if o.ProxyMode != "" {
		c.ProxyMode = o.ProxyMode
	}
	if o.ProxyHost != "" {
		c.ProxyHost = o.ProxyHost
	}
	if o.ProxyPort > 0 {
		c.ProxyPort = o.ProxyPort
	}
	if o.PartConcurrency > 0 {
		c.PartConcurrency = o.PartConcurrency
	}
	if o.MaxConcurrentUploads > 0 {
		c.MaxConcurrentUploads = o.MaxConcurrentUploads
	}
	if o.MaxRetries != nil {
		c.MaxRetries = *o.MaxRetries
	}

	// HTTPS_PROXY fills in a proxy only when none is configured
	if envProxy := os.Getenv("HTTPS_PROXY"); envProxy != "" && c.ProxyHost == "" {
		c.parseProxyURL(envProxy)
	}
	c.normalize()
}

func (c *Config) normalize() {
	if c.APIBaseURL != "" && !strings.HasPrefix(c.APIBaseURL, "http") {
		c.APIBaseURL = "https://" + c.APIBaseURL
	}
	c.APIBaseURL = strings.TrimSuffix(c.APIBaseURL, "/")
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendAPI
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = append([]time.Duration(nil), constants.DefaultBatchRetryDelays...)
	}
}

// parseProxyURL parses a proxy URL from environment variable
func (c *Config) parseProxyURL(proxyURL string) {
	proxyURL = strings.TrimPrefix(proxyURL, "http://")
	proxyURL = strings.TrimPrefix(proxyURL, "https://")
	proxyURL = strings.TrimSuffix(proxyURL, "/")

	parts := strings.Split(proxyURL, ":")
	if len(parts) >= 1 {
		c.ProxyHost = parts[0]
	}
	if len(parts) >= 2 {
		if port, err := strconv.Atoi(parts[1]); err == nil {
			c.ProxyPort = port
		}
	}
	if c.ProxyHost != "" && (c.ProxyMode == "no-proxy" || c.ProxyMode == "") {
		c.ProxyMode = "system"
	}
}

// Validate checks settings required by every transfer command.
func (c *Config) Validate() error {
	if c.Mnemonic == "" {
		return fmt.Errorf("mnemonic is required (set via CDRIVE_MNEMONIC or 'cdrive config init')")
	}
	if c.BucketID == "" && c.Backend == BackendAPI {
		return fmt.Errorf("bucket_id is required")
	}
	switch c.Backend {
	case BackendAPI:
		if c.Token == "" {
			return fmt.Errorf("token is required (set via CDRIVE_TOKEN env var or --token flag)")
		}
		if c.APIBaseURL == "" {
			return fmt.Errorf("API base URL is required")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported backend %q (want %q or %q)", c.Backend, BackendAPI, BackendS3)
	}
	if c.PartConcurrency < 1 {
		return fmt.Errorf("part_concurrency must be at least 1")
	}
	if c.MaxConcurrentUploads < 1 || c.MaxConcurrentUploads > constants.MaxMaxConcurrentUploads {
		return fmt.Errorf("max_concurrent_uploads must be between 1 and %d", constants.MaxMaxConcurrentUploads)
	}
	if c.ShardConcurrency < 1 || c.ShardConcurrency > constants.MaxShardConcurrency {
		return fmt.Errorf("shard_concurrency must be between 1 and %d", constants.MaxShardConcurrency)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.MultipartThreshold < constants.MinPartSize {
		return fmt.Errorf("multipart_threshold must be at least %d bytes", constants.MinPartSize)
	}
	return nil
}

func durationsToStrings(ds []time.Duration) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}
