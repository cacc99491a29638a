package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/five82/backdrop/internal/config"
)

// DownloadOptions holds flags for the download command.
type DownloadOptions struct {
	*RootOptions
	MaxWidth uint
	Dir      string
}

// NewDownloadCommand creates the download command.
func NewDownloadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DownloadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "download <wallpaper-id>...",
		Short: "Save wallpapers to the download directory",
		Long: `Download full-size wallpapers and count them on your profile.

Example:
  backdrop download Dwu85P9SOIk
  backdrop download --max-width 2560 --dir ~/Pictures a1 b2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, opts, args)
		},
	}
	cmd.Flags().UintVar(&opts.MaxWidth, "max-width", 0, "downsize wider images (default from config, 0 keeps the original)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "download directory (default from config)")
	return cmd
}

func runDownload(cmd *cobra.Command, opts *DownloadOptions, ids []string) error {
	widthSet := cmd.Flags().Changed("max-width")
	session, cleanup, err := openSession(cmd.Context(), opts.RootOptions, sessionNeeds{
		catalog: true,
		adjust: func(cfg *config.Config) {
			if widthSet {
				cfg.MaxWidth = opts.MaxWidth
			}
			if opts.Dir != "" {
				cfg.DownloadDir = opts.Dir
			}
		},
	})
	if err != nil {
		return err
	}
	defer cleanup()

	var failed int
	for _, id := range ids {
		path, err := session.Downloads.DownloadID(cmd.Context(), id)
		switch {
		case err != nil && path != "":
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: saved but not counted: %v\n", id, err)
			fmt.Fprintln(cmd.OutOrStdout(), path)
		case err != nil:
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
		default:
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d downloads failed", failed, len(ids)))
	}
	return nil
}
