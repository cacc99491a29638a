// Package cli implements the backdrop command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/five82/backdrop/internal/docstore"
	"github.com/five82/backdrop/internal/unsplash"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	PrefsPath  string
	Verbose    bool
	Format     string // "json" | "text"

	// Source and Docs replace the configured catalog and store (for testing).
	Source unsplash.Source
	Docs   docstore.Store
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Without a subcommand it opens
// the browser.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	browse := NewBrowseCommand(opts)

	cmd := &cobra.Command{
		Use:   "backdrop",
		Short: "Backdrop - browse and collect wallpapers",
		Long: `Browse the wallpaper catalog in the terminal, keep favorites and
collections in sync across devices, and download images.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		RunE: browse.RunE,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ~/.config/backdrop/config.toml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.Flags().StringVar(&opts.PrefsPath, "prefs", "", "preferences file (default ~/.config/backdrop/prefs.toml)")

	cmd.AddCommand(browse)
	cmd.AddCommand(NewFeedCommand(opts))
	cmd.AddCommand(NewFavoriteCommand(opts))
	cmd.AddCommand(NewCollectionsCommand(opts))
	cmd.AddCommand(NewDownloadCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
