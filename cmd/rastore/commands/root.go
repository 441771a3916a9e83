// Package commands implements the rastore command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bleepstore/rastore/internal/backend"
	"github.com/bleepstore/rastore/internal/config"
	"github.com/bleepstore/rastore/internal/logging"
	"github.com/bleepstore/rastore/internal/metrics"
	"github.com/bleepstore/rastore/randomaccess"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	backend    string
	name       string
	logLevel   string
	logFormat  string
	metrics    bool
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "rastore",
		Short: "Random-access byte storage over local and cloud backends",
		Long: `rastore reads and writes byte ranges in a single addressable storage.

The storage may live in memory, in a local file, or as fixed-size blocks in
a blob store (S3, GCS, Azure Blob, DynamoDB, SQLite, Badger or Pebble).

Offsets and lengths accept plain numbers, 0x-prefixed hex, or sizes such as
4KiB and 1MB.

Examples:
  # Write a string at offset 0 and read it back
  rastore write 0 hello
  rastore read 0 5

  # Write stdin into a Pebble-backed storage
  cat image.bin | rastore --backend pebble write 0

  # Zero a range, then print the length
  rastore del 1KiB 512
  rastore len

  # Move a storage from a local file into S3
  rastore --backend s3 import data/rastore.bin`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "rastore.yaml", "path to configuration file")
	pf.StringVarP(&g.backend, "backend", "b", "", fmt.Sprintf("storage backend: %s (default: from config or local)", strings.Join(config.Backends, ", ")))
	pf.StringVarP(&g.name, "name", "n", "", "storage name inside a blob store (default: from config or default)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text, json (default: from config or text)")
	pf.BoolVar(&g.metrics, "metrics", false, "print Prometheus metrics to stderr after the command")

	root.AddCommand(
		newWriteCommand(g),
		newReadCommand(g),
		newDelCommand(g),
		newTruncateCommand(g),
		newLenCommand(g),
		newStatCommand(g),
		newSyncCommand(g),
		newExportCommand(g),
		newImportCommand(g),
	)
	return root
}

// loadConfig reads the configuration and applies command-line overrides.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Command-line flags override config file values.
	if g.backend != "" {
		cfg.Storage.Backend = g.backend
	}
	if g.name != "" {
		cfg.Storage.Name = g.name
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	if g.metrics {
		cfg.Metrics.Enabled = true
	}

	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withStorage opens the configured storage, runs fn against it and closes
// it. When sync is set, SyncAll runs after fn succeeds so that mutations
// are durable before the process exits.
func (g *globalFlags) withStorage(cmd *cobra.Command, sync bool, fn func(ctx context.Context, s randomaccess.Storage, cfg *config.Config) error) (err error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			slog.Warn("Failed to close storage", "error", cerr)
			err = errors.Join(err, cerr)
		}
		if cfg.Metrics.Enabled {
			if merr := metrics.WriteText(cmd.ErrOrStderr(), prometheus.DefaultGatherer); merr != nil {
				err = errors.Join(err, merr)
			}
		}
	}()

	if err := fn(ctx, s, cfg); err != nil {
		return err
	}
	if sync {
		return s.SyncAll(ctx)
	}
	return nil
}

// parseSize parses an offset or length argument.
func parseSize(arg, what string) (uint64, error) {
	if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", what, arg, err)
		}
		return v, nil
	}
	v, err := humanize.ParseBytes(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, arg, err)
	}
	return v, nil
}
