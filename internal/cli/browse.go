package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/five82/backdrop/internal/prefs"
	"github.com/five82/backdrop/internal/ui"
	"github.com/five82/backdrop/internal/unsplash"
)

// NewBrowseCommand creates the browse command.
func NewBrowseCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Open the interactive wallpaper browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, cleanup, err := openSession(cmd.Context(), opts, sessionNeeds{catalog: true, start: true})
			if err != nil {
				return err
			}
			defer cleanup()

			p, _ := prefs.Load(opts.PrefsPath)
			return ui.Run(ui.Options{
				Context:    cmd.Context(),
				Session:    session,
				Prefs:      p,
				PrefsPath:  prefsPathOrDefault(opts.PrefsPath),
				Categories: categoryList(session.Config.Categories),
			})
		},
	}
	cmd.Flags().StringVar(&opts.PrefsPath, "prefs", "", "preferences file (default ~/.config/backdrop/prefs.toml)")
	return cmd
}

func prefsPathOrDefault(path string) string {
	if strings.TrimSpace(path) == "" {
		return prefs.DefaultPath()
	}
	return path
}

// categoryList keeps the built-in order and appends configured extras by id.
func categoryList(configured map[string]string) []unsplash.Category {
	out := []unsplash.Category{{ID: unsplash.AllCategory, Label: "All"}}
	known := map[string]bool{unsplash.AllCategory: true}
	for _, c := range unsplash.DefaultCategories {
		collection, ok := configured[c.ID]
		if !ok || known[c.ID] {
			continue
		}
		known[c.ID] = true
		out = append(out, unsplash.Category{ID: c.ID, Label: c.Label, CollectionID: collection})
	}

	var extra []string
	for id := range configured {
		if id != "" && !known[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, unsplash.Category{ID: id, Label: strings.ToUpper(id[:1]) + id[1:], CollectionID: configured[id]})
	}
	return out
}
