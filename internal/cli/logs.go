package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/five82/backdrop/internal/config"
	"github.com/five82/backdrop/internal/logtail"
)

// LogsOptions holds flags for the logs command.
type LogsOptions struct {
	*RootOptions
	Lines int
	Level string
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Lines, "lines", "n", 200, "lines to read from the end (0 reads all)")
	cmd.Flags().StringVar(&opts.Level, "level", "info", "minimum level (trace|debug|info|warning|error)")
	return cmd
}

func runLogs(cmd *cobra.Command, opts *LogsOptions) error {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return WrapExitError(ExitUsage, "parse --level", err)
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitUsage, "load config", err)
	}
	entries, err := logtail.Tail(cfg.LogPath, opts.Lines, level)
	if err != nil {
		return WrapExitError(ExitFailure, "read log", err)
	}

	if opts.Format == "json" {
		type jsonEntry struct {
			Time    string            `json:"time,omitempty"`
			Level   string            `json:"level"`
			Message string            `json:"msg"`
			Fields  map[string]string `json:"fields,omitempty"`
		}
		out := make([]jsonEntry, 0, len(entries))
		for _, e := range entries {
			je := jsonEntry{Level: e.Level.String(), Message: e.Message, Fields: e.Fields}
			if e.Raw != "" {
				je.Message = e.Raw
			}
			if !e.Time.IsZero() {
				je.Time = e.Time.Format("2006-01-02T15:04:05Z07:00")
			}
			out = append(out, je)
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}
	for _, e := range entries {
		fmt.Fprintln(cmd.OutOrStdout(), logtail.Format(e))
	}
	return nil
}
