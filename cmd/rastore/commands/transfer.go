package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bleepstore/rastore/internal/config"
	"github.com/bleepstore/rastore/internal/transfer"
	"github.com/bleepstore/rastore/randomaccess"
	"github.com/bleepstore/rastore/storage"
)

// transferFlags are shared by export and import.
type transferFlags struct {
	replace   bool
	chunkSize string
}

func (f *transferFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.replace, "replace", false, "overwrite a non-empty destination")
	cmd.Flags().StringVar(&f.chunkSize, "chunk-size", "1MiB", "copy chunk size")
}

func (f *transferFlags) options() (*transfer.Options, error) {
	chunk, err := parseSize(f.chunkSize, "chunk size")
	if err != nil {
		return nil, err
	}
	if chunk == 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	return &transfer.Options{ChunkSize: chunk, Replace: f.replace}, nil
}

func newExportCommand(g *globalFlags) *cobra.Command {
	f := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Copy the storage contents into a local file",
		Long: `Copy the configured storage byte-for-byte into a local file. Ranges of
zeros are left as holes where the filesystem supports it.

Examples:
  rastore --backend s3 export backup.bin
  rastore export backup.bin --replace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			path := args[0]
			return g.withStorage(cmd, false, func(ctx context.Context, s randomaccess.Storage, _ *config.Config) error {
				dst := storage.NewLocal(path, storage.LocalOptions{})
				res, err := copyStorage(ctx, dst, s, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s (%d chunks written, %s of zeros skipped)\n",
					humanize.IBytes(res.Length), path, res.Chunks, humanize.IBytes(res.Skipped))
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newImportCommand(g *globalFlags) *cobra.Command {
	f := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the storage contents with a local file",
		Long: `Copy a local file byte-for-byte into the configured storage. The storage
must be empty unless --replace is given.

Examples:
  rastore --backend pebble import backup.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			return g.withStorage(cmd, false, func(ctx context.Context, s randomaccess.Storage, _ *config.Config) error {
				src := storage.NewLocal(path, storage.LocalOptions{})
				res, err := copyStorage(ctx, s, src, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Imported %s from %s (%d chunks written, %s of zeros skipped)\n",
					humanize.IBytes(res.Length), path, res.Chunks, humanize.IBytes(res.Skipped))
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

// copyStorage runs the copy and closes whichever side is the local file.
func copyStorage(ctx context.Context, dst, src randomaccess.Storage, opts *transfer.Options) (res *transfer.Result, err error) {
	for _, s := range []randomaccess.Storage{dst, src} {
		if local, ok := s.(*randomaccess.Adapter[*storage.LocalBackend]); ok {
			defer func() {
				err = errors.Join(err, local.Close())
			}()
		}
	}
	res, err = transfer.Copy(ctx, dst, src, opts)
	if errors.Is(err, transfer.ErrDestinationNotEmpty) {
		return nil, fmt.Errorf("%w (use --replace to overwrite)", err)
	}
	return res, err
}
