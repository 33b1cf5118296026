package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cryptdrive/cdrive/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cdrive configuration",
		Long: `Configuration management commands for cdrive.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for cdrive.

The configuration is saved to ~/.config/cdrive/config.yaml (or --config)
with 0600 permissions. Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := configPathOrDefault()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(configPath); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", configPath)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := promptConfig(cmd.InOrStdin(), out, readSecret)
			if err != nil {
				return err
			}
			if err := config.Save(cfg, configPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			GetLogger().Info().Str("path", configPath).Msg("Configuration saved")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", configPath)
			fmt.Fprintln(out, "Your mnemonic is the only way to decrypt your files. Keep a copy somewhere safe.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// promptConfig asks for the settings of a new configuration. Secrets go through
// secret so they are not echoed on a terminal.
func promptConfig(in io.Reader, out io.Writer, secret func(in *bufio.Reader, out io.Writer, prompt string) (string, error)) (*config.Config, error) {
	reader := bufio.NewReader(in)
	cfg := config.NewDefaultConfig()

	ask := func(prompt, def string) string {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, def)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			return def
		}
		return line
	}

	fmt.Fprintln(out, "cdrive Configuration Setup")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintln(out)

	cfg.Backend = strings.ToLower(ask("Backend (api or s3)", config.BackendAPI))
	switch cfg.Backend {
	case config.BackendAPI:
		cfg.APIBaseURL = ask("API Base URL", config.DefaultAPIBaseURL)
		tok, err := secret(reader, out, "API Token: ")
		if err != nil {
			return nil, err
		}
		cfg.Token = tok
	case config.BackendS3:
		cfg.S3.Endpoint = ask("S3 endpoint (empty for AWS)", "")
		cfg.S3.Region = ask("S3 region", "us-east-1")
		cfg.S3.Bucket = ask("S3 bucket", "")
		cfg.S3.Prefix = ask("Object key prefix", "")
		cfg.S3.UsePathStyle = strings.HasPrefix(strings.ToLower(ask("Use path-style addressing? (y/N)", "n")), "y")
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}

	cfg.BucketID = ask("Bucket ID", "")
	cfg.RootFolderID = ask("Default destination folder ID", "")

	var mnemonic string
	for mnemonic == "" {
		m, err := secret(reader, out, "Mnemonic (required): ")
		if err != nil {
			return nil, err
		}
		mnemonic = strings.Join(strings.Fields(m), " ")
		if mnemonic == "" {
			fmt.Fprintln(out, "  Error: mnemonic is required")
		}
	}
	cfg.Mnemonic = mnemonic

	fmt.Fprintln(out)
	if strings.HasPrefix(strings.ToLower(ask("Configure proxy? (y/N)", "n")), "y") {
		cfg.ProxyMode = ask("Proxy mode (system, basic, ntlm)", "system")
		if cfg.ProxyMode != "system" {
			cfg.ProxyHost = ask("Proxy host", "")
			fmt.Sscanf(ask("Proxy port", "8080"), "%d", &cfg.ProxyPort)
			cfg.ProxyUser = ask("Proxy user (optional)", "")
		}
	}

	return cfg, nil
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (~/.config/cdrive/config.yaml)
  2. Environment variables (CDRIVE_TOKEN, CDRIVE_API_URL, ...)
  3. Command-line flags (--token, --api-url, ...)

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			printConfig(cmd.OutOrStdout(), cfg, configPathOrDefault())
			return nil
		},
	}

	return cmd
}

func printConfig(out io.Writer, cfg *config.Config, configPath string) {
	fmt.Fprintln(out, "Current Configuration")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Storage:")
	fmt.Fprintf(out, "  Backend:      %s\n", cfg.Backend)
	if cfg.Backend == config.BackendS3 {
		fmt.Fprintf(out, "  S3 Bucket:    %s\n", cfg.S3.Bucket)
		fmt.Fprintf(out, "  S3 Region:    %s\n", cfg.S3.Region)
		if cfg.S3.Endpoint != "" {
			fmt.Fprintf(out, "  S3 Endpoint:  %s\n", cfg.S3.Endpoint)
		}
		fmt.Fprintf(out, "  S3 Keys:      %s\n", redact(cfg.S3.SecretKey))
	} else {
		fmt.Fprintf(out, "  API Base URL: %s\n", cfg.APIBaseURL)
		fmt.Fprintf(out, "  API Token:    %s\n", redact(cfg.Token))
	}
	fmt.Fprintf(out, "  Bucket ID:    %s\n", cfg.BucketID)
	fmt.Fprintf(out, "  Root Folder:  %s\n", cfg.RootFolderID)
	fmt.Fprintf(out, "  Mnemonic:     %s\n", redact(cfg.Mnemonic))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Transfer Settings:")
	fmt.Fprintf(out, "  Part Concurrency:       %d\n", cfg.PartConcurrency)
	fmt.Fprintf(out, "  Shard Concurrency:      %d\n", cfg.ShardConcurrency)
	fmt.Fprintf(out, "  Max Concurrent Uploads: %d\n", cfg.MaxConcurrentUploads)
	fmt.Fprintf(out, "  Max Retries:            %d\n", cfg.MaxRetries)
	fmt.Fprintf(out, "  Retry Delays:           %v\n", cfg.RetryDelays)
	fmt.Fprintf(out, "  Multipart Threshold:    %d bytes\n", cfg.MultipartThreshold)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Proxy Settings:")
	fmt.Fprintf(out, "  Proxy Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(out, "  Proxy Host: %s\n", cfg.ProxyHost)
		fmt.Fprintf(out, "  Proxy Port: %d\n", cfg.ProxyPort)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Configuration file: %s\n", configPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

// redact never shows any portion of a secret.
func redact(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	return fmt.Sprintf("<set (%d chars)>", len(secret))
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			configPath := configPathOrDefault()
			fmt.Fprintf(out, "  %s\n", configPath)

			if info, err := os.Stat(configPath); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out, "Create a configuration file with: cdrive config init")
			}
			return nil
		},
	}

	return cmd
}

func configPathOrDefault() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath()
}
