package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bleepstore/rastore/internal/config"
	"github.com/bleepstore/rastore/randomaccess"
)

func newWriteCommand(g *globalFlags) *cobra.Command {
	var inputFile string

	cmd := &cobra.Command{
		Use:   "write <offset> [data]",
		Short: "Write bytes at an offset",
		Long: `Write bytes at an offset, extending the storage when the write ends past
its length. The gap between the old length and the offset reads as zeros.

The data comes from the second argument, from the file given with -f, or
from stdin when neither is present.

Examples:
  rastore write 0 hello
  rastore write 4KiB -f block.bin
  echo -n world | rastore write 5`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseSize(args[0], "offset")
			if err != nil {
				return err
			}

			var data []byte
			switch {
			case len(args) == 2 && inputFile != "":
				return fmt.Errorf("data argument and -f are mutually exclusive")
			case len(args) == 2:
				data = []byte(args[1])
			case inputFile != "":
				data, err = os.ReadFile(inputFile)
				if err != nil {
					return fmt.Errorf("failed to read file %s: %w", inputFile, err)
				}
			default:
				data, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}

			return g.withStorage(cmd, true, func(ctx context.Context, s randomaccess.Storage, _ *config.Config) error {
				return s.Write(ctx, offset, data)
			})
		},
	}
	cmd.Flags().StringVarP(&inputFile, "file", "f", "", "read data from file")
	return cmd
}

func newReadCommand(g *globalFlags) *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "read <offset> <length>",
		Short: "Read bytes from an offset to stdout",
		Long: `Read exactly length bytes starting at offset and write them to stdout.
The read fails if the range extends past the end of the storage.

Examples:
  rastore read 0 5
  rastore read 0x1000 64 --hex`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseSize(args[0], "offset")
			if err != nil {
				return err
			}
			length, err := parseSize(args[1], "length")
			if err != nil {
				return err
			}

			return g.withStorage(cmd, false, func(ctx context.Context, s randomaccess.Storage, _ *config.Config) error {
				out := cmd.OutOrStdout()
				if !dump {
					return s.ReadTo(ctx, offset, length, out)
				}
				d := hex.Dumper(out)
				if err := s.ReadTo(ctx, offset, length, d); err != nil {
					return err
				}
				return d.Close()
			})
		},
	}
	cmd.Flags().BoolVar(&dump, "hex", false, "print a hex dump instead of raw bytes")
	return cmd
}

func newDelCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "del <offset> <length>",
		Short: "Zero a range, truncating when it reaches the end",
		Long: `Delete length bytes starting at offset. Bytes inside the storage are
zeroed in place. When the range reaches or passes the end of the storage,
the storage is truncated to offset instead.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseSize(args[0], "offset")
			if err != nil {
				return err
			}
			length, err := parseSize(args[1], "length")
			if err != nil {
				return err
			}
			return g.withStorage(cmd, true, func(ctx context.Context, s randomaccess.Storage, _ *config.Config) error {
				return s.Del(ctx, offset, length)
			})
		},
	}
}

func newTruncateCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <length>",
		Short: "Resize the storage",
		Long:  `Resize the storage to length bytes, discarding data past it or zero-padding the new region.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			length, err := parseSize(args[0], "length")
			if err != nil {
				return err
			}
			return g.withStorage(cmd, true, func(ctx context.Context, s randomaccess.Storage, _ *config.Config) error {
				return s.Truncate(ctx, length)
			})
		},
	}
}

func newLenCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "len",
		Short: "Print the storage length in bytes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStorage(cmd, false, func(ctx context.Context, s randomaccess.Storage, _ *config.Config) error {
				n, err := s.Len(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newStatCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print backend, length and emptiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStorage(cmd, false, func(ctx context.Context, s randomaccess.Storage, cfg *config.Config) error {
				n, err := s.Len(ctx)
				if err != nil {
					return err
				}
				empty, err := s.IsEmpty(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "backend: %s\n", cfg.Storage.Backend)
				fmt.Fprintf(out, "name:    %s\n", cfg.Storage.Name)
				fmt.Fprintf(out, "length:  %d (%s)\n", n, humanize.IBytes(n))
				fmt.Fprintf(out, "empty:   %t\n", empty)
				return nil
			})
		},
	}
}

func newSyncCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Flush pending writes to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStorage(cmd, true, func(context.Context, randomaccess.Storage, *config.Config) error {
				return nil
			})
		},
	}
}
